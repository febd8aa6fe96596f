package client

import (
	"context"
)

// Client is the medscribe backend API as seen by the session layer and the
// CLI services. Calls that need a bearer credential take it as token; the
// refresh grant travels as an HTTP-only cookie held by the client's jar.
type Client interface {
	Close() error
	Ping(ctx context.Context) error

	Register(ctx context.Context, req RegisterRequest) error
	Login(ctx context.Context, username, password, code string) (*LoginResult, error)
	VerifyLogin(ctx context.Context, challengeID, code string) (string, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context, token string) (*Profile, error)

	UpdateMe(ctx context.Context, token string, update ProfileUpdate) (*Profile, error)
	ChangePassword(ctx context.Context, token string, req ChangePasswordRequest) error
	StartTwoFactor(ctx context.Context, token string) (*TwoFactorEnrollment, error)
	EnableTwoFactor(ctx context.Context, token, challengeID, code string) (*TwoFactorStatus, error)
	DisableTwoFactor(ctx context.Context, token, currentPassword string) (*TwoFactorStatus, error)

	ListJobs(ctx context.Context, token string) ([]Job, error)
	GetJob(ctx context.Context, token string, id int64) (*Job, error)
	CreateJob(ctx context.Context, token string, job JobCreate) (*Job, error)
	JobHistory(ctx context.Context, token string) (*JobHistory, error)
	ReviewQueue(ctx context.Context, token string) (*ReviewQueue, error)
	UploadAudio(ctx context.Context, token, fileName string, content []byte) (*UploadResult, error)
}
