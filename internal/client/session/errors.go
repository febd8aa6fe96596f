package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
)

var (
	// ErrAuthRequired is returned by Do when no credential is held and none
	// could be obtained. It matches client.ErrUnauthorized.
	ErrAuthRequired = fmt.Errorf("authentication required: %w", client.ErrUnauthorized)

	ErrSecondFactorRequired = errors.New("second factor required")

	// ErrSessionChanged is returned by a sign-in that was overtaken by a
	// logout or another sign-in before it completed.
	ErrSessionChanged = errors.New("session changed during sign-in")
)

// SecondFactorRequiredError is returned by Login when the server wants a
// verification code. Pass ChallengeID to VerifySecondFactor.
type SecondFactorRequiredError struct {
	ChallengeID string
	Method      string
	ExpiresIn   time.Duration
	// DebugCode is only filled by development backends.
	DebugCode string
}

func (e *SecondFactorRequiredError) Error() string {
	if e.Method == "" {
		return ErrSecondFactorRequired.Error()
	}
	return fmt.Sprintf("%s (%s)", ErrSecondFactorRequired, e.Method)
}

func (e *SecondFactorRequiredError) Is(target error) bool {
	return target == ErrSecondFactorRequired
}
