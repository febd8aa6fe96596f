package apitest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type ctxKey struct{}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type validationItem struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeValidation(w http.ResponseWriter, items ...validationItem) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": items})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeValidation(w, validationItem{Loc: []string{"body"}, Msg: "Invalid JSON body", Type: "json_invalid"})
		return false
	}
	return true
}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerScheme)
		if !ok || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims, err := parseAccessToken(token, b.opts.Secret, b.opts.Now)
		if errors.Is(err, common.ErrTokenExpired) {
			writeDetail(w, http.StatusUnauthorized, "Token expired")
			return
		}
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		b.mu.Lock()
		_, live := b.access[claims.ID]
		_, exists := b.users[claims.UserID]
		b.mu.Unlock()
		if !live || !exists {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	healthy := b.healthy
	b.mu.Unlock()

	if !healthy {
		writeJSON(w, http.StatusOK, map[string]string{"database": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"database": "ok"})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in client.RegisterRequest
	if !decode(w, r, &in) {
		return
	}
	if len(in.Password) < minPasswordLength {
		writeValidation(w, validationItem{
			Loc:  []string{"body", "password"},
			Msg:  "String should have at least 8 characters",
			Type: "string_too_short",
		})
		return
	}
	if in.Role == "" {
		in.Role = "assistant"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.byName[in.Username]; taken {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}
	if !validRoles[in.Role] {
		writeDetail(w, http.StatusBadRequest, "Invalid role")
		return
	}

	u := b.addUserLocked(in.Username, hash, in.Role, false)
	u.record.FirstName = optional(in.FirstName)
	u.record.LastName = optional(in.LastName)
	u.record.PhoneNumber = optional(in.PhoneNumber)
	u.record.Specialty = optional(in.Specialty)
	writeJSON(w, http.StatusCreated, u.record)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// issueLocked mints an access token and a rotated refresh grant for u and
// sets the refresh cookie.
func (b *Backend) issueLocked(w http.ResponseWriter, userID int64) (string, error) {
	now := b.opts.Now()
	access, jti, err := generateAccessToken(userID, b.opts.Secret, now, b.opts.AccessTTL)
	if err != nil {
		return "", err
	}
	refresh, err := generateRefreshToken()
	if err != nil {
		return "", err
	}

	b.access[jti] = userID
	b.refresh[refresh] = grant{userID: userID, expires: now.Add(b.opts.RefreshTTL)}

	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshCookieName,
		Value:    refresh,
		Path:     "/",
		MaxAge:   int(b.opts.RefreshTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return access, nil
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Username == "" || in.Password == "" {
		writeDetail(w, http.StatusBadRequest, "Missing credentials")
		return
	}

	b.mu.Lock()
	id, ok := b.byName[in.Username]
	var u *user
	if ok {
		u = b.users[id]
	}
	b.mu.Unlock()

	if u == nil || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(in.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if u.twoFactor && in.TOTPCode != b.opts.SecondFactorCode {
		challengeID, err := common.MakeRandHexString(24)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Internal error")
			return
		}
		b.challenges[challengeID] = grant{userID: id, expires: b.opts.Now().Add(challengeTTL)}

		resp := map[string]any{
			"challenge_id":       challengeID,
			"method":             SecondFactorMethod,
			"expires_in_seconds": int(challengeTTL.Seconds()),
		}
		if b.opts.DebugCodes {
			resp["debug_code"] = b.opts.SecondFactorCode
		}
		b.logf(r.Context(), "second factor challenge issued", "user", in.Username)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	access, err := b.issueLocked(w, id)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}
	b.logf(r.Context(), "login", "user", in.Username)
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "token_type": "bearer"})
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !decode(w, r, &in) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.challenges[in.ChallengeID]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid or expired two-factor challenge.")
		return
	}
	if !ch.expires.After(b.opts.Now()) {
		delete(b.challenges, in.ChallengeID)
		writeDetail(w, http.StatusBadRequest, "Two-factor verification has expired. Start again.")
		return
	}
	if in.Code != b.opts.SecondFactorCode {
		writeDetail(w, http.StatusBadRequest, "Invalid verification code.")
		return
	}
	delete(b.challenges, in.ChallengeID)

	access, err := b.issueLocked(w, ch.userID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "token_type": "bearer"})
}

// redeemLocked consumes a refresh grant. Grants are single use; the caller
// issues a replacement.
func (b *Backend) redeemLocked(token string) (int64, error) {
	g, ok := b.refresh[token]
	if !ok {
		return 0, common.ErrInvalidToken
	}
	delete(b.refresh, token)
	if !g.expires.After(b.opts.Now()) {
		return 0, common.ErrRefreshTokenExpired
	}
	if _, exists := b.users[g.userID]; !exists {
		return 0, common.ErrorNotFound
	}
	return g.userID, nil
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hook := b.refreshHook
	forced := b.refreshStatus
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	if forced != 0 {
		writeDetail(w, forced, http.StatusText(forced))
		return
	}

	cookie, err := r.Cookie(common.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	uid, err := b.redeemLocked(cookie.Value)
	if err != nil {
		b.logf(r.Context(), "refresh rejected", "error", err)
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	access, err := b.issueLocked(w, uid)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "token_type": "bearer"})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(common.RefreshCookieName); err == nil {
		b.mu.Lock()
		delete(b.refresh, cookie.Value)
		b.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rec := b.users[userID(r)].record
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (b *Backend) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var in client.ProfileUpdate
	if !decode(w, r, &in) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userID(r)]
	if in.FirstName != nil {
		u.record.FirstName = optional(*in.FirstName)
	}
	if in.LastName != nil {
		u.record.LastName = optional(*in.LastName)
	}
	if in.PhoneNumber != nil {
		u.record.PhoneNumber = optional(*in.PhoneNumber)
	}
	if in.Specialty != nil {
		u.record.Specialty = optional(*in.Specialty)
	}
	u.record.UpdatedAt = client.APITime{Time: b.opts.Now().UTC()}
	writeJSON(w, http.StatusOK, u.record)
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in client.ChangePasswordRequest
	if !decode(w, r, &in) {
		return
	}

	b.mu.Lock()
	u := b.users[userID(r)]
	hash := u.passwordHash
	b.mu.Unlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(in.CurrentPassword)) != nil {
		writeDetail(w, http.StatusBadRequest, "Current password is incorrect.")
		return
	}
	if in.CurrentPassword == in.NewPassword {
		writeDetail(w, http.StatusBadRequest, "New password must be different from the current password.")
		return
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error")
		return
	}

	b.mu.Lock()
	u.passwordHash = newHash
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleListJobs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	jobs := b.jobsForLocked(userID(r))
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, jobs)
}

func (b *Backend) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var in client.JobCreate
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Type) == "" {
		writeValidation(w, validationItem{Loc: []string{"body", "type"}, Msg: "Field required", Type: "missing"})
		return
	}

	b.mu.Lock()
	job := *b.addJobLocked(userID(r), in, client.JobPending)
	b.mu.Unlock()
	writeJSON(w, http.StatusAccepted, job)
}

func (b *Backend) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	jobs := b.jobsForLocked(userID(r))
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, client.JobHistory{Jobs: jobs, Stats: jobStats(jobs)})
}

func (b *Backend) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	jobs := b.jobsForLocked(userID(r), client.JobPending, client.JobProcessing, client.JobCompleted)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, client.ReviewQueue{Jobs: jobs, Stats: queueStats(jobs)})
}

func (b *Backend) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidation(w, validationItem{
			Loc:  []string{"path", "job_id"},
			Msg:  "Input should be a valid integer",
			Type: "int_parsing",
		})
		return
	}

	uid := userID(r)
	b.mu.Lock()
	job, ok := b.jobs[id]
	var out client.Job
	visible := ok && (job.CreatedByID == uid || (job.AssigneeID != nil && *job.AssigneeID == uid))
	if visible {
		out = *job
	}
	b.mu.Unlock()

	if !visible {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidation(w, validationItem{Loc: []string{"body", "file"}, Msg: "Field required", Type: "missing"})
		return
	}
	defer file.Close()

	writeJSON(w, http.StatusOK, client.UploadResult{Detail: "Transcription queued", Filename: header.Filename})
}
