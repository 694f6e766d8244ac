// Package academic implements the client for the external academic-records
// service: person lookup, kardex, payment history, invoice detail and
// catalog listings. Every response is spreadsheet-shaped JSON (see Block).
package academic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the academic service client.
type ClientConfig struct {
	// BaseURL is the service root, without trailing slash.
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimiterConfig for request pacing.
	RateLimiterConfig RateLimiterConfig

	// Breaker guards against a failing service. Nil builds the default one.
	Breaker *circuitbreaker.Breaker

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger

	// Debug logs every request.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the academic service API client. It holds no token of its own:
// the session lives in the injected SessionState.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.Breaker
	session     *SessionState
	credentials CredentialStore
}

// NewClient creates a new client over the given session state and credential
// store.
func NewClient(config ClientConfig, session *SessionState, credentials CredentialStore) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if session == nil {
		session = NewSessionState()
	}
	if credentials == nil {
		credentials = NewMemoryCredentialStore()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger.With("component", "academic_client")
	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.Academic(countsAsOutage, func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     breaker,
		session:     session,
		credentials: credentials,
	}
}

// Session returns the shared session state.
func (c *Client) Session() *SessionState {
	return c.session
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Login authenticates with the service, stores the issued session and
// remembers the credentials for later re-authentication.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if !creds.Valid() {
		return nil, shared.NewDomainError("academic", "Login", shared.ErrValidation, "username and password are required")
	}

	var response APIResponse[LoginResponseDTO]
	body := LoginRequestDTO{Username: creds.Username, Password: creds.Password}
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", body, &response, false); err != nil {
		return nil, fmt.Errorf("login as %s: %w", creds.Username, err)
	}

	if response.Data.Token == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Code: "EMPTY_TOKEN", Message: "login returned no token", Method: http.MethodPost, Path: "/api/auth/login"}
	}

	session := &Session{
		Token:    response.Data.Token,
		AuxToken: response.Data.AuxToken,
	}
	if response.Data.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(response.Data.ExpiresIn) * time.Second)
	}

	c.session.Store(session)
	if err := c.credentials.Save(ctx, creds); err != nil {
		c.logger.Warn("failed to store credentials", "error", err)
	}

	c.logger.Info("academic session opened", "user", creds.Username, "expires_at", session.ExpiresAt)
	return session, nil
}

// Reauthenticate logs in again with the last stored credential set.
func (c *Client) Reauthenticate(ctx context.Context) error {
	creds, err := c.credentials.Load(ctx)
	if err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	if _, err := c.Login(ctx, creds); err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SearchPersons looks up persons by national ID or name. No match is an
// empty slice, not an error.
func (c *Client) SearchPersons(ctx context.Context, criteria string) ([]PersonDTO, error) {
	params := url.Values{}
	params.Set("query", strings.TrimSpace(criteria))

	var response APIResponse[[]PersonDTO]
	if err := c.doRequest(ctx, http.MethodGet, "/api/persons?"+params.Encode(), nil, &response, true); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("search persons %q: %w", criteria, err)
	}
	return response.Data, nil
}

// GetKardex fetches the enrollment history of a person, one block per period.
func (c *Client) GetKardex(ctx context.Context, personID string) ([]Block, error) {
	path := fmt.Sprintf("/api/persons/%s/kardex", url.PathEscape(personID))

	var response APIResponse[[]Block]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return nil, fmt.Errorf("get kardex %s: %w", personID, err)
	}
	return response.Data, nil
}

// GetPayments fetches the payment history of a person.
func (c *Client) GetPayments(ctx context.Context, personID string) ([]Block, error) {
	path := fmt.Sprintf("/api/persons/%s/payments", url.PathEscape(personID))

	var response APIResponse[[]Block]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return nil, fmt.Errorf("get payments %s: %w", personID, err)
	}
	return response.Data, nil
}

// GetInvoiceDetail fetches the line items of one invoice.
func (c *Client) GetInvoiceDetail(ctx context.Context, ref InvoiceRef) (Block, error) {
	if !ref.Complete() {
		return Block{}, shared.NewDomainError("academic", "GetInvoiceDetail", shared.ErrInvalidInput,
			fmt.Sprintf("incomplete invoice reference %s", ref))
	}

	params := url.Values{}
	params.Set("region", ref.RegionID)
	params.Set("order", ref.Order)
	path := fmt.Sprintf("/api/invoices/%s?%s", url.PathEscape(ref.MasterNumber), params.Encode())

	var response APIResponse[Block]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return Block{}, fmt.Errorf("get invoice %s: %w", ref, err)
	}
	return response.Data, nil
}

// Catalog listings served by GetCatalog.
const (
	CatalogCourses      = "courses"
	CatalogTuitionRates = "tuition-rates"
)

// GetCatalog fetches a catalog listing by name.
func (c *Client) GetCatalog(ctx context.Context, name string) ([]Block, error) {
	path := fmt.Sprintf("/api/catalogs/%s", url.PathEscape(name))

	var response APIResponse[[]Block]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return nil, fmt.Errorf("get catalog %s: %w", name, err)
	}
	return response.Data, nil
}

// Ping checks that the service answers. It bypasses the breaker and the
// limiter.
func (c *Client) Ping(ctx context.Context) error {
	var response APIResponse[json.RawMessage]
	if err := c.doSingleRequest(ctx, http.MethodGet, "/api/health", nil, &response, false); err != nil {
		return fmt.Errorf("ping academic service: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a request through the circuit breaker and rate limiter.
// It never retries: expired sessions are handled by the Invoker and outages
// by the caller re-running failed rows.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, authenticated bool) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		return c.doSingleRequest(ctx, method, path, body, result, authenticated)
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return shared.WrapError("academic", method+" "+path, shared.ErrUpstreamUnavailable, "service marked unavailable", err)
	}
	return err
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result any, authenticated bool) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if authenticated {
		// a session past its expiry is renewed before the service rejects it
		session := c.session.Load()
		if session.Expired(time.Now()) {
			msg := "no active session"
			if session != nil {
				msg = "session expired at " + session.ExpiresAt.Format(time.RFC3339)
			}
			return &APIError{StatusCode: http.StatusUnauthorized, Code: "SESSION_EXPIRED", Message: msg, Method: method, Path: path}
		}
		req.Header.Set("Authorization", "Bearer "+session.Token)
		if session.AuxToken != "" {
			req.Header.Set("X-Aux-Token", session.AuxToken)
		}
	}

	if c.config.Debug {
		c.logger.Debug("academic api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Method: method, Path: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: "read response", Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 30 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.rateLimiter.Throttle(retryAfter)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}
		var envelope APIResponse[json.RawMessage]
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	// the envelope may report a failure with a 200 status
	var envelope struct {
		Success *bool      `json:"success"`
		Error   *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: "request rejected"}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return shared.WrapError("academic", method+" "+path, shared.ErrMalformedRow, "unexpected response shape", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus summarises the client for health endpoints.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus `json:"rate_limiter"`
	CircuitBreaker string            `json:"circuit_breaker"`
	LoggedIn       bool              `json:"logged_in"`
	SessionExpires *time.Time        `json:"session_expires,omitempty"`
}

// Status describes the client without calling the service. It returns an
// error while the circuit breaker is open.
func (c *Client) Status() (ClientStatus, error) {
	state := c.breaker.State()
	status := ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: state.String(),
	}
	if session := c.session.Load(); !session.Expired(time.Now()) {
		status.LoggedIn = true
		if !session.ExpiresAt.IsZero() {
			expires := session.ExpiresAt
			status.SessionExpires = &expires
		}
	}
	if state == circuitbreaker.Open {
		return status, fmt.Errorf("circuit breaker is %s", status.CircuitBreaker)
	}
	return status, nil
}
