package apitest

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/common"
	"golang.org/x/crypto/bcrypt"
)

func newTOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func provisioningURI(username, secret string) string {
	label := url.PathEscape(issuer + ":" + username)
	q := url.Values{"secret": {secret}, "issuer": {issuer}}
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

func twoFactorStatus(u *user) map[string]any {
	st := map[string]any{"enabled": u.twoFactor, "confirmed": u.twoFactor, "method": nil}
	if u.twoFactor {
		st["method"] = SecondFactorMethod
	}
	return st
}

func (b *Backend) setTwoFactorLocked(u *user, on bool) {
	u.twoFactor = on
	u.record.TOTPEnabled = on
	u.enrollment = nil
	u.record.UpdatedAt = client.APITime{Time: b.opts.Now().UTC()}
}

func (b *Backend) handleStartTwoFactor(w http.ResponseWriter, r *http.Request) {
	secret, err := newTOTPSecret()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}
	challengeID, err := common.MakeRandHexString(16)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userID(r)]
	if u.twoFactor {
		writeDetail(w, http.StatusBadRequest, "Two-factor authentication is already enabled.")
		return
	}
	u.enrollment = &enrollment{
		challengeID: challengeID,
		secret:      secret,
		expires:     b.opts.Now().Add(enrollmentTTL),
	}

	resp := map[string]any{
		"challenge_id":       challengeID,
		"secret":             secret,
		"provisioning_uri":   provisioningURI(u.record.Username, secret),
		"expires_in_seconds": int(enrollmentTTL.Seconds()),
		"debug_code":         nil,
	}
	if b.opts.DebugCodes {
		resp["debug_code"] = b.opts.SecondFactorCode
	}
	b.logf(r.Context(), "two-factor enrollment started", "user", u.record.Username)
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !decode(w, r, &in) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userID(r)]
	enr := u.enrollment
	switch {
	case enr == nil:
		writeDetail(w, http.StatusBadRequest, "No active two-factor enrollment. Start again to continue.")
		return
	case in.ChallengeID != enr.challengeID:
		writeDetail(w, http.StatusBadRequest, "Invalid verification challenge.")
		return
	case !enr.expires.After(b.opts.Now()):
		writeDetail(w, http.StatusBadRequest, "Two-factor enrollment has expired. Start again.")
		return
	case in.Code != b.opts.SecondFactorCode:
		writeDetail(w, http.StatusBadRequest, "Invalid verification code.")
		return
	}

	b.setTwoFactorLocked(u, true)
	writeJSON(w, http.StatusOK, twoFactorStatus(u))
}

func (b *Backend) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"current_password"`
	}
	if !decode(w, r, &in) {
		return
	}

	b.mu.Lock()
	u := b.users[userID(r)]
	enabled := u.twoFactor
	hash := u.passwordHash
	b.mu.Unlock()

	if !enabled {
		b.mu.Lock()
		st := twoFactorStatus(u)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, st)
		return
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(in.CurrentPassword)) != nil {
		writeDetail(w, http.StatusBadRequest, "Current password is incorrect.")
		return
	}

	b.mu.Lock()
	b.setTwoFactorLocked(u, false)
	st := twoFactorStatus(u)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}
