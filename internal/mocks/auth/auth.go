package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider       = (*MockAuthProvider)(nil)
	_ ports.SessionStore       = (*MemorySessionStore)(nil)
	_ ports.ClientSessionStore = (*MemoryClientStore)(nil)
	_ ports.RoleMapper         = GroupRoleMapper(nil)
)

// MockAuthProvider simulates an IdP for tests with deterministic state/nonce handling.
type MockAuthProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	// Deterministic values for predictable testing
	AuthURL     string
	StatePrefix string
	NoncePrefix string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

func defaultIdentity() domainauth.Identity {
	return domainauth.Identity{
		UserID:   "mock-user-1",
		Username: "mock.teacher",
		Email:    "mock.teacher@example.com",
		Groups:   []string{"teachers"},
	}
}

// NewMockAuthProvider creates a MockAuthProvider with sensible defaults.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{
		AuthURL:     "https://mock-idp/auth",
		StatePrefix: "state",
		NoncePrefix: "nonce",
		DefaultUser: defaultIdentity(),
	}
}

func (m *MockAuthProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}

	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	authURL := m.AuthURL
	if authURL == "" {
		authURL = "https://mock-idp/auth"
	}
	statePrefix := m.StatePrefix
	if statePrefix == "" {
		statePrefix = "state"
	}
	noncePrefix := m.NoncePrefix
	if noncePrefix == "" {
		noncePrefix = "nonce"
	}

	return authURL, fmt.Sprintf("%s-%d", statePrefix, n), fmt.Sprintf("%s-%d", noncePrefix, n), nil
}

// Exchange returns DefaultUser expiring one hour from now.
func (m *MockAuthProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}

	user := m.DefaultUser
	if user.UserID == "" {
		user = defaultIdentity()
	}
	user.Groups = append([]string(nil), user.Groups...)
	user.ExpiresAt = time.Now().Add(time.Hour)
	return user, nil
}

// MemorySessionStore is an in-memory token registry for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session

	// Err, when set, is returned by every operation.
	Err error
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]domainauth.Session),
	}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if m.Err != nil {
		return m.Err
	}
	if sess.Token == "" {
		return errors.New("session token cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.Token] = sess.Normalize()
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, token string) (domainauth.Session, error) {
	if m.Err != nil {
		return domainauth.Session{}, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok || token == "" {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess.Normalize(), nil
}

func (m *MemorySessionStore) Delete(_ context.Context, token string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// DeleteByUser removes every session for userID.
func (m *MemorySessionStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for tok, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, tok)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MemoryClientStore is an in-memory ClientSessionStore. It ignores the request
// and response and records how it was used.
type MemoryClientStore struct {
	mu      sync.Mutex
	session domainauth.Session
	loadErr error
	saves   int
	clears  int
}

// NewMemoryClientStore returns a store holding sess.
func NewMemoryClientStore(sess domainauth.Session) *MemoryClientStore {
	return &MemoryClientStore{session: sess.Normalize()}
}

// FailLoad makes Load return an empty session and an error wrapping ErrStorageRead.
func (m *MemoryClientStore) FailLoad(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = fmt.Errorf("%w: %w", domainauth.ErrStorageRead, cause)
}

func (m *MemoryClientStore) Load(_ *http.Request) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domainauth.Session{}, m.loadErr
	}
	return m.session.Normalize(), nil
}

func (m *MemoryClientStore) Save(_ http.ResponseWriter, _ *http.Request, sess domainauth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = sess.Normalize()
	m.saves++
	return nil
}

func (m *MemoryClientStore) Clear(_ http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = domainauth.Session{}
	m.clears++
}

// Session returns the stored session.
func (m *MemoryClientStore) Session() domainauth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Saves returns how many times Save was called.
func (m *MemoryClientStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Clears returns how many times Clear was called.
func (m *MemoryClientStore) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// GroupRoleMapper maps a group name to a role; the first matching group wins.
type GroupRoleMapper map[string]domainauth.Role

func (m GroupRoleMapper) Map(groups []string) domainauth.Role {
	for _, g := range groups {
		if r, ok := m[g]; ok {
			return r
		}
	}
	return ""
}
