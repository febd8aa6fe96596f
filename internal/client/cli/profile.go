package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/common"
)

var (
	errPasswordMismatch = errors.New("passwords do not match")
	errTwoFactorUsage   = errors.New("usage: 2fa on|off")
)

// Profile prompts for the editable profile fields; skipped fields are left
// unchanged on the server.
func (a *App) Profile(ctx context.Context) error {
	var (
		upd client.ProfileUpdate
		err error
	)
	if upd.FirstName, err = getOptionalText(a.reader, "First name", a.out); err != nil {
		return err
	}
	if upd.LastName, err = getOptionalText(a.reader, "Last name", a.out); err != nil {
		return err
	}
	if upd.PhoneNumber, err = getOptionalText(a.reader, "Phone number", a.out); err != nil {
		return err
	}
	if upd.Specialty, err = getOptionalText(a.reader, "Specialty", a.out); err != nil {
		return err
	}

	p, err := a.profileService.Update(ctx, upd)
	if err != nil {
		return err
	}
	printProfile(a.out, p)
	return nil
}

// ChangePassword asks for the current password and the new one twice.
func (a *App) ChangePassword(ctx context.Context) error {
	current, err := getPassword("Current password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)

	next, err := getPassword("New password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	confirm, err := getPassword("Repeat new password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	if string(next) != string(confirm) {
		return errPasswordMismatch
	}
	if err := a.profileService.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

// TwoFactor turns the authenticator second factor on or off. Turning it on
// shows the shared secret and asks for the first code from the app.
func (a *App) TwoFactor(ctx context.Context, action string) error {
	switch action {
	case "on":
		return a.enableTwoFactor(ctx)
	case "off":
		return a.disableTwoFactor(ctx)
	default:
		return errTwoFactorUsage
	}
}

func (a *App) enableTwoFactor(ctx context.Context) error {
	enr, err := a.profileService.StartTwoFactor(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Add this key to your authenticator app: %s\n", enr.Secret)
	if enr.ProvisioningURI != "" {
		fmt.Fprintf(a.out, "  or scan: %s\n", enr.ProvisioningURI)
	}

	prompt := "Enter the code from the app"
	if enr.DebugCode != "" {
		prompt += fmt.Sprintf(" (debug: %s)", enr.DebugCode)
	}
	code, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return err
	}
	if _, err := a.profileService.EnableTwoFactor(ctx, enr.ChallengeID, code); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Two-factor authentication enabled")
	return nil
}

func (a *App) disableTwoFactor(ctx context.Context) error {
	current, err := getPassword("Current password", a.out)
	if err != nil {
		return err
	}
	st, err := a.profileService.DisableTwoFactor(ctx, current)
	if err != nil {
		return err
	}
	if st.Enabled {
		return errors.New("two-factor authentication is still enabled")
	}
	fmt.Fprintln(a.out, "Two-factor authentication disabled")
	return nil
}

func printProfile(w io.Writer, p *client.Profile) {
	fmt.Fprintf(w, "%s (%s)\n", p.Name, p.Username)
	fmt.Fprintf(w, "  role:       %s\n", p.Role)
	if p.Specialty != "" {
		fmt.Fprintf(w, "  specialty:  %s\n", p.Specialty)
	}
	if p.PhoneNumber != "" {
		fmt.Fprintf(w, "  phone:      %s\n", p.PhoneNumber)
	}
	fmt.Fprintf(w, "  two-factor: %t\n", p.TwoFactorEnabled)
}
