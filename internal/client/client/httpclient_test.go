package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIRecorder struct {
	statuses []int
	calls    int
}

func (f *fakeAPIRecorder) RecordAPIStatus(code int)       { f.statuses = append(f.statuses, code) }
func (f *fakeAPIRecorder) RecordAPILatency(time.Duration) { f.calls++ }

func newTestClient(t *testing.T, h http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Options{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewHTTPClient_RejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://nope"} {
		_, err := NewHTTPClient(Options{BaseURL: u})
		assert.Error(t, err, u)
	}
}

func TestLogin_IssuesToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["username"])
		assert.Equal(t, "pw", body["password"])
		_, hasCode := body["totp_code"]
		assert.False(t, hasCode)
		assert.NotEmpty(t, r.Header.Get(common.RequestIDHeaderName))
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "a1", "token_type": "bearer"})
	})
	c, _ := newTestClient(t, mux)

	res, err := c.Login(context.Background(), "alice", "pw", "")
	require.NoError(t, err)
	assert.Equal(t, "a1", res.AccessToken)
	assert.False(t, res.RequiresSecondFactor())
}

func TestLogin_SecondFactorChallenge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"challenge_id":       "c-1",
			"method":             "sms",
			"expires_in_seconds": 300,
			"debug_code":         "123456",
		})
	})
	mux.HandleFunc("POST /v1/auth/login/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["challenge_id"] != "c-1" || body["code"] != "123456" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid verification code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "a2"})
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	res, err := c.Login(ctx, "bob", "pw", "")
	require.NoError(t, err)
	require.True(t, res.RequiresSecondFactor())
	assert.Equal(t, "sms", res.Method)
	assert.Equal(t, 5*time.Minute, res.ExpiresIn)
	assert.Equal(t, "123456", res.DebugCode)

	_, err = c.VerifyLogin(ctx, "c-1", "000000")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Invalid verification code")

	tok, err := c.VerifyLogin(ctx, "c-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok)
}

func TestLogin_EmptyResponseIsInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Login(context.Background(), "a", "b", "")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestMe_SendsBearerAndNormalizesProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(common.AuthorizationHeaderName) != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		_, _ = io.WriteString(w, `{"id":7,"username":"dr.who","role":"doctor","first_name":"John",
			"last_name":null,"phone_number":null,"specialty":"cardiology","totp_enabled":true,
			"created_at":"2024-03-01T10:00:00","updated_at":"2024-03-02T11:30:00.123456+00:00"}`)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Me(ctx, "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	p, err := c.Me(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "dr.who", p.Username)
	assert.Equal(t, "John", p.Name)
	assert.Equal(t, "", p.LastName)
	assert.Equal(t, "cardiology", p.Specialty)
	assert.True(t, p.TwoFactorEnabled)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), p.CreatedAt)
	assert.Equal(t, 2024, p.UpdatedAt.Year())
}

func TestProfile_NameFallsBackToUsername(t *testing.T) {
	p := UserRecord{Username: "nurse1"}.Profile()
	assert.Equal(t, "nurse1", p.Name)
}

func TestErrorBodyFlattening(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"string detail", 400, `{"detail":"Username already registered"}`, "Username already registered"},
		{"validation list", 422, `{"detail":[{"msg":"field required"},{"msg":"too short"}]}`, "field required, too short"},
		{"object detail", 400, `{"detail":{"message":"bad code"}}`, "bad code"},
		{"object without message", 400, `{"detail":{"code":1}}`, `{"code":1}`},
		{"top-level message", 500, `{"message":"oops"}`, "oops"},
		{"no body", 404, ``, "Not Found"},
		{"not json", 502, `<html>gateway</html>`, "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			_, err := c.ListJobs(context.Background(), "t")
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCode(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.want, apiErr.Detail)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewHTTPClient(Options{BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransportError(err))
	assert.False(t, IsUnauthorized(err))
}

func TestCancelledContextIsNotUnavailable(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Ping(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTransportError(err))
}

func TestPing_DatabaseDown(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"database": "unavailable"})
	}))
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsTransportError(err))
}

func TestRefresh_UsesCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: common.RefreshCookieName, Value: "r1", Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "a1"})
	})
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(common.RefreshCookieName)
		if err != nil || ck.Value != "r1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Missing refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "a2"})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: common.RefreshCookieName, Value: "", Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Refresh(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Login(ctx, "u", "p", "")
	require.NoError(t, err)

	tok, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok)

	require.NoError(t, c.Logout(ctx))
	_, err = c.Refresh(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestJobsEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "type": "transcription", "status": "pending", "created_by_id": 3}})
	})
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "type": "transcription", "status": "completed"})
	})
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var in JobCreate
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, http.StatusAccepted, map[string]any{"id": 2, "type": in.Type, "status": "pending", "input_uri": *in.InputURI})
	})
	mux.HandleFunc("GET /v1/jobs/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []any{}, "stats": map[string]int{"total": 4, "in_queue": 2, "ready_for_review": 1}})
	})
	mux.HandleFunc("GET /v1/jobs/review-queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []any{}, "stats": map[string]int{"total": 1, "in_progress": 1}})
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	jobs, err := c.ListJobs(ctx, "t")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobPending, jobs[0].Status)

	job, err := c.GetJob(ctx, "t", 1)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)

	_, err = c.GetJob(ctx, "t", 9)
	require.ErrorIs(t, err, ErrNotFound)

	uri := "file:///tmp/a.wav"
	created, err := c.CreateJob(ctx, "t", JobCreate{Type: "transcription", InputURI: &uri})
	require.NoError(t, err)
	assert.Equal(t, int64(2), created.ID)
	require.NotNil(t, created.InputURI)
	assert.Equal(t, uri, *created.InputURI)

	h, err := c.JobHistory(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, JobStats{Total: 4, InQueue: 2, ReadyForReview: 1}, h.Stats)

	q, err := c.ReviewQueue(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Stats.InProgress)
}

func TestUploadAudio_Multipart(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcribe/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data))
		writeJSON(w, http.StatusOK, map[string]string{"detail": "received", "filename": hdr.Filename})
	}))

	res, err := c.UploadAudio(context.Background(), "t", "visit.wav", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "visit.wav", res.Filename)
}

func TestChangePassword_NoContent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.ChangePassword(context.Background(), "t", ChangePasswordRequest{CurrentPassword: "a", NewPassword: "b"}))
}

func TestTwoFactorEnrollment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/users/me/security/start-two-factor", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, common.BearerScheme+"t", r.Header.Get(common.AuthorizationHeaderName))
		writeJSON(w, http.StatusOK, map[string]any{
			"challenge_id":       "enr-1",
			"secret":             "JBSWY3DPEHPK3PXP",
			"provisioning_uri":   "otpauth://totp/MedScribe:alice?secret=JBSWY3DPEHPK3PXP",
			"expires_in_seconds": 600,
			"debug_code":         nil,
		})
	})
	mux.HandleFunc("POST /v1/users/me/security/enable-two-factor", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"challenge_id": "enr-1", "code": "654321"}, body)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "confirmed": true, "method": "totp"})
	})
	mux.HandleFunc("POST /v1/users/me/security/disable-two-factor", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pw", body["current_password"])
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "confirmed": false, "method": nil})
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	enr, err := c.StartTwoFactor(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", enr.ChallengeID)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", enr.Secret)
	assert.Equal(t, 10*time.Minute, enr.ExpiresIn)
	assert.Empty(t, enr.DebugCode)

	st, err := c.EnableTwoFactor(ctx, "t", "enr-1", "654321")
	require.NoError(t, err)
	assert.Equal(t, TwoFactorStatus{Enabled: true, Confirmed: true, Method: "totp"}, *st)

	st, err = c.DisableTwoFactor(ctx, "t", "pw")
	require.NoError(t, err)
	assert.Equal(t, TwoFactorStatus{}, *st)
}

func TestStartTwoFactor_AlreadyEnabled(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Two-factor authentication is already enabled."})
	}))

	_, err := c.StartTwoFactor(context.Background(), "t")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "already enabled")
}

func TestMetricsAndRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"database": "ok"})
	}))
	defer srv.Close()

	rec := &fakeAPIRecorder{}
	c, err := NewHTTPClient(Options{BaseURL: srv.URL, Metrics: rec, RateLimit: 1, RateBurst: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	// burst exhausted: the next call must wait about a second
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, c.Ping(short))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []int{http.StatusOK}, rec.statuses)
	assert.Equal(t, 1, rec.calls)
}
