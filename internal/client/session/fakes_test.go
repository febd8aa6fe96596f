package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
)

func unauthorized(detail string) error {
	return &client.APIError{Status: http.StatusUnauthorized, Detail: detail}
}

func profileFor(username string) *client.Profile {
	return &client.Profile{ID: 1, Username: username, Name: username, Role: "doctor"}
}

// fakeGateway answers from the configured funcs and counts calls. Nil funcs
// fall back to a plain success.
type fakeGateway struct {
	mu            sync.Mutex
	loginCalls    int
	verifyCalls   int
	refreshCalls  int
	meCalls       int
	logoutCalls   int
	registerCalls int

	loginFn    func(ctx context.Context, username, password, code string) (*client.LoginResult, error)
	verifyFn   func(ctx context.Context, challengeID, code string) (string, error)
	refreshFn  func(ctx context.Context) (string, error)
	meFn       func(ctx context.Context, token string) (*client.Profile, error)
	logoutFn   func(ctx context.Context) error
	registerFn func(ctx context.Context, req client.RegisterRequest) error
}

func (f *fakeGateway) Login(ctx context.Context, username, password, code string) (*client.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()
	if fn == nil {
		return &client.LoginResult{AccessToken: "T1"}, nil
	}
	return fn(ctx, username, password, code)
}

func (f *fakeGateway) VerifyLogin(ctx context.Context, challengeID, code string) (string, error) {
	f.mu.Lock()
	f.verifyCalls++
	fn := f.verifyFn
	f.mu.Unlock()
	if fn == nil {
		return "T1", nil
	}
	return fn(ctx, challengeID, code)
}

func (f *fakeGateway) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()
	if fn == nil {
		return "", unauthorized("Missing refresh token")
	}
	return fn(ctx)
}

func (f *fakeGateway) Me(ctx context.Context, token string) (*client.Profile, error) {
	f.mu.Lock()
	f.meCalls++
	fn := f.meFn
	f.mu.Unlock()
	if fn == nil {
		return profileFor("doc1"), nil
	}
	return fn(ctx, token)
}

func (f *fakeGateway) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	fn := f.logoutFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeGateway) Register(ctx context.Context, req client.RegisterRequest) error {
	f.mu.Lock()
	f.registerCalls++
	fn := f.registerFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, req)
}

func (f *fakeGateway) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

type fakeGrants struct {
	mu     sync.Mutex
	clears int
	err    error
}

func (g *fakeGrants) Clear(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clears++
	return g.err
}

func (g *fakeGrants) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clears
}

type fakeRecorder struct {
	mu      sync.Mutex
	refresh map[string]int
	joined  int
	retries int
	cleared map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{refresh: map[string]int{}, cleared: map[string]int{}}
}

func (r *fakeRecorder) RecordRefresh(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[outcome]++
}

func (r *fakeRecorder) RecordRefreshJoined() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined++
}

func (r *fakeRecorder) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *fakeRecorder) RecordSessionCleared(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared[reason]++
}

type harness struct {
	gw      *fakeGateway
	grants  *fakeGrants
	rec     *fakeRecorder
	manager *Manager
}

func newHarness() *harness {
	h := &harness{gw: &fakeGateway{}, grants: &fakeGrants{}, rec: newFakeRecorder()}
	h.manager = NewManager(h.gw, WithGrantStore(h.grants), WithMetrics(h.rec))
	return h
}

// signIn puts the manager straight into an authenticated session with cred.
func (h *harness) signIn(cred Credential) {
	h.manager.store.StartSession(cred)
	h.manager.store.SetProfile(profileFor("doc1"))
}
