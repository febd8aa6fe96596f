// Package apitest is an in-memory stand-in for the medscribe backend. It
// speaks the same JSON API as the real service (auth, users, jobs, upload,
// health) and exposes switches that let tests and local development force
// expired credentials, failing refreshes and outages.
package apitest

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	challengeTTL      = 5 * time.Minute
	enrollmentTTL     = 10 * time.Minute
	issuer            = "MedScribe"

	// SecondFactorMethod is the only method the backend offers.
	SecondFactorMethod = "totp"

	// DefaultSecondFactorCode is accepted when Options.SecondFactorCode is empty.
	DefaultSecondFactorCode = "123456"
)

var validRoles = map[string]bool{"admin": true, "doctor": true, "assistant": true}

type Options struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SecondFactorCode is the code every two-factor user must present.
	// Defaults to DefaultSecondFactorCode.
	SecondFactorCode string
	// DebugCodes echoes the expected code in login challenges, like a
	// non-production backend does.
	DebugCodes bool
	Now        func() time.Time
	Logger     logging.Logger
}

type user struct {
	record       client.UserRecord
	passwordHash []byte
	twoFactor    bool
	enrollment   *enrollment
}

// enrollment is a started authenticator setup awaiting its first code.
type enrollment struct {
	challengeID string
	secret      string
	expires     time.Time
}

type grant struct {
	userID  int64
	expires time.Time
}

type Backend struct {
	opts Options

	mu         sync.Mutex
	nextUserID int64
	nextJobID  int64
	users      map[int64]*user
	byName     map[string]int64
	refresh    map[string]grant
	challenges map[string]grant
	access     map[string]int64
	jobs       map[int64]*client.Job
	healthy    bool

	refreshStatus int
	refreshHook   func()
	calls         map[string]int
}

func New(opts Options) *Backend {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("medscribe-stub-secret")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.SecondFactorCode == "" {
		opts.SecondFactorCode = DefaultSecondFactorCode
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Backend{
		opts:       opts,
		nextUserID: 1,
		nextJobID:  1,
		users:      make(map[int64]*user),
		byName:     make(map[string]int64),
		refresh:    make(map[string]grant),
		challenges: make(map[string]grant),
		access:     make(map[string]int64),
		jobs:       make(map[int64]*client.Job),
		healthy:    true,
		calls:      make(map[string]int),
	}
}

// Handler returns the backend's HTTP routes.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.countCalls)

	r.Get("/v1/health", b.handleHealth)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", b.handleRegister)
		r.Post("/login", b.handleLogin)
		r.Post("/login/verify", b.handleVerify)
		r.Post("/refresh", b.handleRefresh)
		r.Post("/logout", b.handleLogout)
		r.With(b.authenticate).Get("/me", b.handleMe)
	})

	r.Route("/v1/users/me", func(r chi.Router) {
		r.Use(b.authenticate)
		r.Patch("/", b.handleUpdateMe)
		r.Post("/change-password", b.handleChangePassword)
		r.Post("/security/start-two-factor", b.handleStartTwoFactor)
		r.Post("/security/enable-two-factor", b.handleEnableTwoFactor)
		r.Post("/security/disable-two-factor", b.handleDisableTwoFactor)
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(b.authenticate)
		r.Get("/", b.handleListJobs)
		r.Post("/", b.handleCreateJob)
		r.Get("/history", b.handleJobHistory)
		r.Get("/review-queue", b.handleReviewQueue)
		r.Get("/{id}", b.handleGetJob)
	})

	r.With(b.authenticate).Post("/v1/transcribe/upload", b.handleUpload)

	return r
}

func (b *Backend) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.Method+" "+r.URL.Path]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// AddUser creates an account directly, bypassing registration rules.
func (b *Backend) AddUser(username, password, role string, twoFactor bool) int64 {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(username, hash, role, twoFactor).record.ID
}

func (b *Backend) addUserLocked(username string, hash []byte, role string, twoFactor bool) *user {
	now := b.opts.Now().UTC()
	u := &user{
		record: client.UserRecord{
			ID:          b.nextUserID,
			Username:    username,
			Role:        role,
			TOTPEnabled: twoFactor,
			CreatedAt:   client.APITime{Time: now},
			UpdatedAt:   client.APITime{Time: now},
		},
		passwordHash: hash,
		twoFactor:    twoFactor,
	}
	b.nextUserID++
	b.users[u.record.ID] = u
	b.byName[username] = u.record.ID
	return u
}

// AddJob stores a job owned by userID and returns its id.
func (b *Backend) AddJob(userID int64, jobType, status string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJobLocked(userID, client.JobCreate{Type: jobType}, status).ID
}

func (b *Backend) addJobLocked(userID int64, in client.JobCreate, status string) *client.Job {
	now := client.APITime{Time: b.opts.Now().UTC()}
	job := &client.Job{
		ID:              b.nextJobID,
		Type:            in.Type,
		Status:          status,
		InputURI:        in.InputURI,
		TranscriptionID: in.TranscriptionID,
		AssigneeID:      in.AssigneeID,
		CreatedByID:     userID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b.nextJobID++
	b.jobs[job.ID] = job
	return job
}

// SetJobStatus moves a job along its lifecycle.
func (b *Backend) SetJobStatus(id int64, status string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return false
	}
	job.Status = status
	job.UpdatedAt = client.APITime{Time: b.opts.Now().UTC()}
	return true
}

// RevokeAccessTokens invalidates every access token issued so far, as if
// they had all expired. Refresh grants stay valid.
func (b *Backend) RevokeAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = make(map[string]int64)
}

// RevokeRefreshGrants invalidates every refresh grant.
func (b *Backend) RevokeRefreshGrants() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh = make(map[string]grant)
}

// FailRefresh makes /v1/auth/refresh answer with status until called again
// with 0.
func (b *Backend) FailRefresh(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// OnRefresh registers fn to run at the start of every refresh request,
// before it is answered. Tests use it to hold refreshes open.
func (b *Backend) OnRefresh(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshHook = fn
}

func (b *Backend) SetHealthy(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = ok
}

// Calls returns how many requests hit "METHOD /path".
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) RefreshCalls() int {
	return b.Calls("POST /v1/auth/refresh")
}

func (b *Backend) logf(ctx context.Context, msg string, args ...any) {
	b.opts.Logger.Debug(ctx, msg, args...)
}

func (b *Backend) jobsForLocked(userID int64, statuses ...string) []client.Job {
	keep := map[string]bool{}
	for _, s := range statuses {
		keep[s] = true
	}

	out := []client.Job{}
	for _, job := range b.jobs {
		if job.CreatedByID != userID {
			continue
		}
		if len(keep) > 0 && !keep[normaliseStatus(job.Status)] {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normaliseStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func jobStats(jobs []client.Job) client.JobStats {
	var st client.JobStats
	st.Total = len(jobs)
	for _, job := range jobs {
		switch normaliseStatus(job.Status) {
		case client.JobPending:
			st.Pending++
		case client.JobProcessing:
			st.Processing++
		case client.JobCompleted:
			st.Completed++
		case client.JobFailed:
			st.Failed++
		default:
			st.Unknown++
		}
	}
	st.InQueue = st.Pending + st.Processing
	st.ReadyForReview = st.Completed
	return st
}

func queueStats(jobs []client.Job) client.QueueStats {
	var st client.QueueStats
	st.Total = len(jobs)
	for _, job := range jobs {
		switch normaliseStatus(job.Status) {
		case client.JobPending:
			st.Pending++
		case client.JobProcessing:
			st.Processing++
		case client.JobCompleted:
			st.Completed++
		}
	}
	st.InProgress = st.Pending + st.Processing
	st.ReadyForReview = st.Completed
	return st
}
