package academic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

// fakeService issues a new token on every login and rejects every token but
// the latest one.
type fakeService struct {
	mu     sync.Mutex
	logins int
	token  string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": map[string]string{"code": "BAD_CREDENTIALS", "message": "wrong password"}})
			return
		}
		f.mu.Lock()
		f.logins++
		f.token = "token-" + string(rune('0'+f.logins))
		token := f.token
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"token": token, "auxToken": "aux", "expiresIn": 600}})
	})

	mux.HandleFunc("/api/persons/42/kardex", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": map[string]string{"code": "TOKEN_EXPIRED", "message": "expired"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []map[string]any{
			{"header": []string{"PERIODO 1/2024", "Carrera: Ingeniería Civil"}, "rows": [][]map[string]any{
				{{"content": "MAT101"}, {"contentCell": []map[string]any{{"content": "Cálculo I"}}}, {"content": 71}},
			}},
		}})
	})

	mux.HandleFunc("/api/persons/42/payments", func(w http.ResponseWriter, r *http.Request) {
		// legacy endpoint: failure reported inside a 200 envelope
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": map[string]string{"code": "SESSION_EXPIRED", "message": "session expired"}})
	})

	mux.HandleFunc("/api/persons", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": map[string]string{"code": "NOT_FOUND", "message": "no person"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []map[string]any{{"id": 42, "nationalId": "1234567", "fullName": "Ana Pérez"}}})
	})

	mux.HandleFunc("/api/invoices/M-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("region"))
		assert.Equal(t, "7", r.URL.Query().Get("order"))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false})
	})

	return mux
}

func (f *fakeService) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.token && r.Header.Get("X-Aux-Token") == "aux"
}

func (f *fakeService) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = "revoked"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeService) {
	t.Helper()
	svc := &fakeService{}
	server := httptest.NewServer(svc.handler(t))
	t.Cleanup(server.Close)

	client := NewClient(DefaultClientConfig(server.URL), NewSessionState(), NewMemoryCredentialStore())
	return client, svc
}

func TestClient_LoginStoresSession(t *testing.T) {
	client, _ := newTestClient(t)

	session, err := client.Login(context.Background(), Credentials{Username: "svc", Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, "token-1", session.Token)
	assert.Equal(t, session, client.Session().Load())
	assert.False(t, session.ExpiresAt.IsZero())
}

func TestClient_LoginRejected(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Login(context.Background(), Credentials{Username: "svc", Password: "nope"})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_CREDENTIALS", apiErr.Code)
	assert.Nil(t, client.Session().Load())
}

func TestGateway_RenewsExpiredSessionOnce(t *testing.T) {
	client, svc := newTestClient(t)
	ctx := context.Background()
	_, err := client.Login(ctx, Credentials{Username: "svc", Password: "secret"})
	require.NoError(t, err)

	svc.expire()
	invoker := NewInvoker(client, nil)
	gateway := NewGateway(client, invoker)

	blocks, err := gateway.GetKardex(ctx, "42")

	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "PERIODO 1/2024 Carrera: Ingeniería Civil", blocks[0].HeaderText())
	row := blocks[0].Row(0, 0)
	title, err := row.Text(1)
	require.NoError(t, err)
	assert.Equal(t, "Cálculo I", title)
	assert.EqualValues(t, 1, invoker.Reauthentications())
	assert.Equal(t, 2, svc.logins)
}

func TestGateway_AuthFailureInsideOKEnvelope(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	_, err := client.Login(ctx, Credentials{Username: "svc", Password: "secret"})
	require.NoError(t, err)

	invoker := NewInvoker(client, nil)
	_, err = NewGateway(client, invoker).GetPayments(ctx, "42")

	assert.ErrorIs(t, err, shared.ErrAuthExpired)
	assert.EqualValues(t, 1, invoker.Reauthentications())
}

func TestClient_ErrorMapping(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	_, err := client.Login(ctx, Credentials{Username: "svc", Password: "secret"})
	require.NoError(t, err)

	persons, err := client.SearchPersons(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, persons)

	persons, err = client.SearchPersons(ctx, "1234567")
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "42", persons[0].ID.String())

	_, err = client.GetInvoiceDetail(ctx, InvoiceRef{MasterNumber: "M-1", RegionID: "3", Order: "7"})
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
	assert.False(t, IsAuthFailure(err))

	_, err = client.GetInvoiceDetail(ctx, InvoiceRef{MasterNumber: "M-1"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestClient_NoSession(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetKardex(context.Background(), "42")

	assert.True(t, IsAuthFailure(err))
}

func TestClient_ExpiredSessionIsNotSent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	t.Cleanup(server.Close)

	session := NewSessionState()
	session.Store(&Session{Token: "stale", AuxToken: "aux", ExpiresAt: time.Now().Add(-time.Minute)})
	client := NewClient(DefaultClientConfig(server.URL), session, NewMemoryCredentialStore())

	_, err := client.GetKardex(context.Background(), "42")

	assert.True(t, IsAuthFailure(err))
	assert.Contains(t, err.Error(), "session expired at")
	assert.Zero(t, calls.Load(), "a stale token never reaches the service")
}

func TestGateway_RenewsLocallyExpiredSession(t *testing.T) {
	client, svc := newTestClient(t)
	ctx := context.Background()
	session, err := client.Login(ctx, Credentials{Username: "svc", Password: "secret"})
	require.NoError(t, err)

	// the token is still accepted by the service, but the local clock says
	// it is over
	stale := *session
	stale.ExpiresAt = time.Now().Add(-time.Second)
	client.Session().Store(&stale)

	invoker := NewInvoker(client, nil)
	_, err = NewGateway(client, invoker).GetKardex(ctx, "42")

	require.NoError(t, err)
	assert.EqualValues(t, 1, invoker.Reauthentications())
	assert.Equal(t, 2, svc.logins)
}

func TestClient_Status(t *testing.T) {
	client, _ := newTestClient(t)

	status, err := client.Status()
	require.NoError(t, err)
	assert.False(t, status.LoggedIn)
	assert.Equal(t, "closed", status.CircuitBreaker)

	_, err = client.Login(context.Background(), Credentials{Username: "svc", Password: "secret"})
	require.NoError(t, err)

	status, err = client.Status()
	require.NoError(t, err)
	assert.True(t, status.LoggedIn)
	require.NotNil(t, status.SessionExpires)
	assert.True(t, status.SessionExpires.After(time.Now()))
}

func TestClient_StatusFailsWhileBreakerOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false})
	}))
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.Breaker = circuitbreaker.New(circuitbreaker.Settings{Trip: 1, CoolDown: time.Hour, IsOutage: IsTransient})
	client := NewClient(cfg, NewSessionState(), NewMemoryCredentialStore())
	_, err := client.Login(context.Background(), Credentials{Username: "svc", Password: "secret"})
	require.Error(t, err)

	status, err := client.Status()
	assert.Error(t, err)
	assert.Equal(t, "open", status.CircuitBreaker)
}
