package services

import (
	"context"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/dmitrijs2005/medscribe/internal/common"
)

type ProfileService interface {
	Update(ctx context.Context, update client.ProfileUpdate) (*client.Profile, error)
	ChangePassword(ctx context.Context, current, next []byte) error

	StartTwoFactor(ctx context.Context) (*client.TwoFactorEnrollment, error)
	EnableTwoFactor(ctx context.Context, challengeID, code string) (*client.TwoFactorStatus, error)
	DisableTwoFactor(ctx context.Context, currentPassword []byte) (*client.TwoFactorStatus, error)
}

type profileService struct {
	client  client.Client
	session *session.Manager
}

func NewProfileService(c client.Client, m *session.Manager) ProfileService {
	return &profileService{client: c, session: m}
}

// Update saves the changes and installs the returned profile as the
// session's current user.
func (s *profileService) Update(ctx context.Context, update client.ProfileUpdate) (*client.Profile, error) {
	p, err := session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.Profile, error) {
		return s.client.UpdateMe(ctx, string(cred), update)
	})
	if err != nil {
		return nil, err
	}
	s.session.ReplaceProfile(p)
	return p, nil
}

func (s *profileService) ChangePassword(ctx context.Context, current, next []byte) error {
	defer common.WipeByteArray(current)
	defer common.WipeByteArray(next)

	req := client.ChangePasswordRequest{CurrentPassword: string(current), NewPassword: string(next)}
	return s.session.Do(ctx, func(ctx context.Context, cred session.Credential) error {
		return s.client.ChangePassword(ctx, string(cred), req)
	})
}

func (s *profileService) StartTwoFactor(ctx context.Context) (*client.TwoFactorEnrollment, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.TwoFactorEnrollment, error) {
		return s.client.StartTwoFactor(ctx, string(cred))
	})
}

// EnableTwoFactor confirms an enrollment with the first code from the
// authenticator app and re-reads the profile so the current user reflects
// the change.
func (s *profileService) EnableTwoFactor(ctx context.Context, challengeID, code string) (*client.TwoFactorStatus, error) {
	st, err := session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.TwoFactorStatus, error) {
		return s.client.EnableTwoFactor(ctx, string(cred), challengeID, code)
	})
	if err != nil {
		return nil, err
	}
	// best effort; the change is already saved
	_, _ = s.session.RefreshUserProfile(ctx)
	return st, nil
}

func (s *profileService) DisableTwoFactor(ctx context.Context, currentPassword []byte) (*client.TwoFactorStatus, error) {
	defer common.WipeByteArray(currentPassword)

	password := string(currentPassword)
	st, err := session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.TwoFactorStatus, error) {
		return s.client.DisableTwoFactor(ctx, string(cred), password)
	})
	if err != nil {
		return nil, err
	}
	_, _ = s.session.RefreshUserProfile(ctx)
	return st, nil
}
