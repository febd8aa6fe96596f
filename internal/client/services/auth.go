// Package services contains application services for the medscribe client.
// This file defines the authentication service: login with an optional
// second factor, registration, logout, session restore and liveness probe.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/dmitrijs2005/medscribe/internal/common"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: sign in; returns a *session.SecondFactorRequiredError when the
//     server wants a code, which VerifySecondFactor then completes.
//   - Register: create an account and sign in with it.
//   - Logout: end the session locally and on the server.
//   - Restore: resume a session kept from a previous run.
//   - WhoAmI: re-fetch the signed-in user's profile.
//   - Status: current session state and user, without network calls.
//   - Ping: check server liveness.
//   - Close: release underlying client resources.
type AuthService interface {
	Login(ctx context.Context, username string, password []byte) error
	VerifySecondFactor(ctx context.Context, challengeID, code string) error
	Register(ctx context.Context, req client.RegisterRequest) error
	Logout(ctx context.Context) error
	Restore(ctx context.Context) session.State
	WhoAmI(ctx context.Context) (*client.Profile, error)
	Status() Status
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Status is a point-in-time view of the session.
type Status struct {
	State session.State
	User  *client.Profile
}

type authService struct {
	client  client.Client
	session *session.Manager
}

func NewAuthService(c client.Client, m *session.Manager) AuthService {
	return &authService{client: c, session: m}
}

// Login wipes password once the request has been built.
func (a *authService) Login(ctx context.Context, username string, password []byte) error {
	defer common.WipeByteArray(password)
	return a.session.Login(ctx, username, string(password), "")
}

func (a *authService) VerifySecondFactor(ctx context.Context, challengeID, code string) error {
	return a.session.VerifySecondFactor(ctx, challengeID, code)
}

func (a *authService) Register(ctx context.Context, req client.RegisterRequest) error {
	return a.session.Register(ctx, req)
}

func (a *authService) Logout(ctx context.Context) error {
	return a.session.Logout(ctx)
}

func (a *authService) Restore(ctx context.Context) session.State {
	return a.session.Restore(ctx)
}

func (a *authService) WhoAmI(ctx context.Context) (*client.Profile, error) {
	p, err := a.session.RefreshUserProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("whoami: %w", err)
	}
	return p, nil
}

func (a *authService) Status() Status {
	return Status{State: a.session.State(), User: a.session.CurrentUser()}
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}
