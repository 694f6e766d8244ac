package academic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// Credentials is the service account used against the academic service.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Session is the token set issued at login.
type Session struct {
	Token     string    `json:"token"`
	AuxToken  string    `json:"aux_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry. A zero expiry
// never expires locally; the service decides.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STATE
// ══════════════════════════════════════════════════════════════════════════════

// SessionState holds the current session. It is shared by every in-flight
// call; readers never block and concurrent re-logins overwrite each other
// (last write wins).
type SessionState struct {
	current atomic.Pointer[Session]
}

// NewSessionState creates an empty state.
func NewSessionState() *SessionState {
	return &SessionState{}
}

// Load returns the current session or nil.
func (s *SessionState) Load() *Session {
	return s.current.Load()
}

// Store replaces the session.
func (s *SessionState) Store(session *Session) {
	s.current.Store(session)
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL STORE
// ══════════════════════════════════════════════════════════════════════════════

// CredentialStore keeps the last credential set used for a successful login
// so the invoker can log in again after the session dies.
type CredentialStore interface {
	Save(ctx context.Context, creds Credentials) error

	// Load returns shared.ErrNotFound when nothing was saved.
	Load(ctx context.Context) (Credentials, error)
}

// MemoryCredentialStore is a process-local CredentialStore.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (m *MemoryCredentialStore) Save(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *MemoryCredentialStore) Load(_ context.Context) (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return Credentials{}, shared.NewDomainError("academic", "LoadCredentials", shared.ErrNotFound, "no stored credentials")
	}
	return *m.creds, nil
}
