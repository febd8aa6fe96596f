package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/dmitrijs2005/medscribe/internal/common"
)

// getSimpleText, getOptionalText and getPassword are indirections used to
// facilitate testing. They point to interactive input helpers and can be
// swapped in tests.
var (
	getSimpleText   = GetSimpleText
	getOptionalText = GetOptionalText
	getPassword     = GetPassword
)

const defaultRole = "assistant"

// Register prompts for account details, creates the account and signs in.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	role, err := getSimpleText(a.reader, "Enter role (admin, doctor, assistant) [assistant]", a.out)
	if err != nil {
		return err
	}
	if role == "" {
		role = defaultRole
	}
	first, err := getSimpleText(a.reader, "Enter first name", a.out)
	if err != nil {
		return err
	}
	last, err := getSimpleText(a.reader, "Enter last name", a.out)
	if err != nil {
		return err
	}

	req := client.RegisterRequest{
		Username:  userName,
		Password:  string(password),
		Role:      role,
		FirstName: first,
		LastName:  last,
	}
	if err := a.authService.Register(ctx, req); err != nil {
		return err
	}

	a.greet()
	return nil
}

// Login prompts for credentials and, if the server asks for one, a
// second-factor code. Only the code is sent on the second step.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword("Enter password", a.out)
	if err != nil {
		return err
	}

	err = a.authService.Login(ctx, userName, password)

	var challenge *session.SecondFactorRequiredError
	if errors.As(err, &challenge) {
		err = a.verify(ctx, challenge)
	}
	if err != nil {
		return err
	}

	a.greet()
	return nil
}

func (a *App) verify(ctx context.Context, challenge *session.SecondFactorRequiredError) error {
	prompt := fmt.Sprintf("Enter %s verification code", challenge.Method)
	if challenge.DebugCode != "" {
		prompt += fmt.Sprintf(" (debug: %s)", challenge.DebugCode)
	}
	code, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return err
	}
	return a.authService.VerifySecondFactor(ctx, challenge.ChallengeID, code)
}

func (a *App) greet() {
	if u := a.authService.Status().User; u != nil {
		fmt.Fprintf(a.out, "Signed in as %s (%s)\n", u.Name, u.Role)
	}
}

// Logout ends the session locally; server-side failures are not surfaced.
func (a *App) Logout(ctx context.Context) error {
	if err := a.authService.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

// WhoAmI re-reads the profile from the server.
func (a *App) WhoAmI(ctx context.Context) error {
	p, err := a.authService.WhoAmI(ctx)
	if err != nil {
		return err
	}
	printProfile(a.out, p)
	return nil
}

// Status prints the session state and connectivity mode without calling the API.
func (a *App) Status(ctx context.Context) error {
	st := a.authService.Status()
	fmt.Fprintf(a.out, "session: %s\n", st.State)
	if st.User != nil {
		fmt.Fprintf(a.out, "user:    %s (%s)\n", st.User.Username, st.User.Role)
	}
	if m := a.currentMode(); m != "" {
		fmt.Fprintf(a.out, "mode:    %s\n", m)
	}
	return nil
}
