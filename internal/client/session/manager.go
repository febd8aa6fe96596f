// Package session manages the client's authenticated session: the access
// credential, the signed-in user's profile, single-flight credential refresh
// and the retry-once wrapper every authenticated API call goes through.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/metrics"
	"github.com/dmitrijs2005/medscribe/internal/logging"
)

// Reasons recorded when a session is cleared.
const (
	reasonLogout          = "logout"
	reasonLoginFailed     = "login_failed"
	reasonRefreshDeclined = "refresh_declined"
	reasonRetryRejected   = "retry_rejected"
	reasonRestoreRejected = "restore_rejected"
)

// Gateway is the part of the backend API the session depends on.
type Gateway interface {
	Login(ctx context.Context, username, password, code string) (*client.LoginResult, error)
	VerifyLogin(ctx context.Context, challengeID, code string) (string, error)
	Refresh(ctx context.Context) (string, error)
	Me(ctx context.Context, token string) (*client.Profile, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, req client.RegisterRequest) error
}

// GrantStore holds the refresh grant outside the process. Clear is called
// whenever the session is cleared.
type GrantStore interface {
	Clear(ctx context.Context) error
}

// State is the session lifecycle phase reported by Manager.State.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager is the session lifecycle controller. Construct one per
// application and share it; it is safe for concurrent use.
type Manager struct {
	gateway   Gateway
	store     *Store
	grants    GrantStore
	refresher *refresher
	metrics   metrics.SessionRecorder
	log       logging.Logger

	mu      sync.Mutex
	pending int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithGrantStore sets the store that forgets the refresh grant whenever
// the session is cleared.
func WithGrantStore(g GrantStore) Option {
	return func(m *Manager) { m.grants = g }
}

// WithMetrics sets the recorder for refresh, retry and clear events.
func WithMetrics(r metrics.SessionRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithStore shares an existing Store instead of creating a new one.
func WithStore(s *Store) Option {
	return func(m *Manager) { m.store = s }
}

// NewManager returns a Manager in StateUnauthenticated. Call Restore once at
// startup to pick up a session kept by the grant store.
func NewManager(gw Gateway, opts ...Option) *Manager {
	m := &Manager{
		gateway: gw,
		metrics: metrics.Nop{},
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewStore()
	}
	m.log = m.log.With("component", "session")

	m.refresher = &refresher{
		gateway: gw,
		store:   m.store,
		clear:   m.clearSessionIf,
		metrics: m.metrics,
		log:     m.log,
	}
	return m
}

func (m *Manager) begin() func() {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}
}

// State reports StateAuthenticating while a login, second-factor check or
// restore is running, and otherwise whether the session is complete.
func (m *Manager) State() State {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()

	if pending > 0 {
		return StateAuthenticating
	}
	if m.store.Snapshot().Authenticated() {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// IsAuthenticated is true iff both a credential and a profile are held.
func (m *Manager) IsAuthenticated() bool {
	return m.store.Snapshot().Authenticated()
}

// CurrentUser returns the signed-in user's profile, or nil unless the
// session is authenticated.
func (m *Manager) CurrentUser() *client.Profile {
	snap := m.store.Snapshot()
	if !snap.Authenticated() {
		return nil
	}
	return snap.Profile
}

// Subscribe calls fn after every session change. The returned func
// unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	return m.store.Subscribe(fn)
}

// ReplaceProfile installs a profile returned by another endpoint, such as a
// profile update. It has no effect once the session has been cleared.
func (m *Manager) ReplaceProfile(p *client.Profile) {
	if p != nil {
		m.store.ReplaceProfile(p)
	}
}

// Login signs in with a password and an optional second-factor code. When
// the server asks for a code Login returns a *SecondFactorRequiredError;
// finish with VerifySecondFactor. Any failure leaves the session cleared.
func (m *Manager) Login(ctx context.Context, username, password, code string) error {
	done := m.begin()
	defer done()

	res, err := m.gateway.Login(ctx, username, password, code)
	if err != nil {
		_ = m.clearSession(ctx, reasonLoginFailed)
		return fmt.Errorf("login: %w", err)
	}

	if res.RequiresSecondFactor() {
		_ = m.clearSession(ctx, reasonLoginFailed)
		m.log.Info(ctx, "second factor required", "user", username, "method", res.Method)
		return &SecondFactorRequiredError{
			ChallengeID: res.ChallengeID,
			Method:      res.Method,
			ExpiresIn:   res.ExpiresIn,
			DebugCode:   res.DebugCode,
		}
	}

	return m.establish(ctx, Credential(res.AccessToken))
}

// VerifySecondFactor completes a login that returned a
// SecondFactorRequiredError.
func (m *Manager) VerifySecondFactor(ctx context.Context, challengeID, code string) error {
	done := m.begin()
	defer done()

	token, err := m.gateway.VerifyLogin(ctx, challengeID, code)
	if err != nil {
		_ = m.clearSession(ctx, reasonLoginFailed)
		return fmt.Errorf("verify second factor: %w", err)
	}
	return m.establish(ctx, Credential(token))
}

func (m *Manager) establish(ctx context.Context, cred Credential) error {
	gen := m.store.StartSession(cred)

	profile, err := m.gateway.Me(ctx, string(cred))
	if err != nil {
		_ = m.clearSessionIf(ctx, gen, reasonLoginFailed)
		return fmt.Errorf("fetch profile: %w", err)
	}
	if !m.store.SetProfileIf(gen, profile) {
		m.log.Info(ctx, "sign-in overtaken", "user", profile.Username)
		return ErrSessionChanged
	}

	m.log.Info(ctx, "signed in", "user", profile.Username, "role", profile.Role)
	return nil
}

// Register creates the account and then signs in with the same
// credentials. Registration alone never authenticates.
func (m *Manager) Register(ctx context.Context, req client.RegisterRequest) error {
	if err := m.gateway.Register(ctx, req); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	m.log.Info(ctx, "account registered", "user", req.Username)
	return m.Login(ctx, req.Username, req.Password, "")
}

// Logout tells the server to drop the refresh grant, ignoring failures, and
// then clears the session. Calling it while signed out is a no-op apart
// from the server call. The returned error is only about forgetting the
// locally stored grant.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.gateway.Logout(ctx); err != nil {
		m.log.Warn(ctx, "logout request failed", "error", err)
	}
	return m.clearSession(ctx, reasonLogout)
}

// RefreshUserProfile re-fetches the profile through Do. An irrecoverable
// authorization failure clears the session.
func (m *Manager) RefreshUserProfile(ctx context.Context) (*client.Profile, error) {
	p, err := Call(ctx, m, func(ctx context.Context, cred Credential) (*client.Profile, error) {
		return m.gateway.Me(ctx, string(cred))
	})
	if err != nil {
		return nil, fmt.Errorf("refresh profile: %w", err)
	}
	m.store.ReplaceProfile(p)
	return p, nil
}

// Restore tries to resume a session with a silent refresh and returns the
// resulting state. It never fails: a transient error leaves the client
// signed out for now but keeps the stored grant for a later attempt.
func (m *Manager) Restore(ctx context.Context) State {
	m.restore(ctx)
	return m.State()
}

func (m *Manager) restore(ctx context.Context) {
	done := m.begin()
	defer done()

	gen := m.store.Generation()
	cred, err := m.refresher.refresh(ctx)
	if err != nil {
		m.log.Warn(ctx, "session restore failed", "error", err)
		return
	}
	if cred == "" {
		m.log.Info(ctx, "no session to restore")
		return
	}

	profile, err := m.gateway.Me(ctx, string(cred))
	switch {
	case err == nil:
		if m.store.SetProfileIf(gen, profile) {
			m.log.Info(ctx, "session restored", "user", profile.Username)
		}
	case client.IsUnauthorized(err):
		_ = m.clearSessionIf(ctx, gen, reasonRestoreRejected)
	default:
		m.store.ClearIf(gen)
		m.log.Warn(ctx, "session restore failed", "error", err)
	}
}

func (m *Manager) clearSession(ctx context.Context, reason string) error {
	return m.forget(ctx, m.store.Clear(), reason)
}

func (m *Manager) clearSessionIf(ctx context.Context, gen uint64, reason string) error {
	changed, applied := m.store.ClearIf(gen)
	if !applied {
		return nil
	}
	return m.forget(ctx, changed, reason)
}

func (m *Manager) forget(ctx context.Context, changed bool, reason string) error {
	if changed {
		m.metrics.RecordSessionCleared(reason)
		m.log.Info(ctx, "session cleared", "reason", reason)
	}
	if m.grants == nil {
		return nil
	}
	if err := m.grants.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.Error(ctx, "forget refresh grant", "error", err)
		return fmt.Errorf("forget refresh grant: %w", err)
	}
	return nil
}
