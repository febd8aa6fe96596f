package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/metrics"
	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"github.com/dmitrijs2005/medscribe/internal/netx"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 64 << 10
	contentTypeJSON = "application/json"
)

// Options configures an HTTPClient. Zero values are usable: the timeout
// defaults to 15s, throttling is disabled and a fresh in-memory cookie jar is
// created.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Jar       http.CookieJar
	RateLimit float64 // requests per second, 0 disables throttling
	RateBurst int
	Transport http.RoundTripper
	Metrics   metrics.APIRecorder
	Logger    logging.Logger
}

// HTTPClient implements Client over the backend's JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics metrics.APIRecorder
	log     logging.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}

	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		jar = j
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &HTTPClient{
		baseURL: base,
		http: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: opts.Transport,
		},
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}
	return c, nil
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type request struct {
	method      string
	path        string
	token       string
	body        []byte
	contentType string
	out         any
}

func jsonRequest(method, path, token string, in, out any) (request, error) {
	r := request{method: method, path: path, token: token, out: out}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return r, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		r.body = data
		r.contentType = contentTypeJSON
	}
	return r, nil
}

func (c *HTTPClient) do(ctx context.Context, r request) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.path, err)
		}
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(common.RequestIDHeaderName, requestID)
	req.Header.Set("Accept", contentTypeJSON)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+r.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.RecordAPILatency(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.path, ctxErr)
		}
		c.log.Debug(ctx, "request failed", "method", r.method, "path", r.path, "request_id", requestID, "error", err)
		return fmt.Errorf("%s %s: %w: %w", r.method, r.path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordAPIStatus(resp.StatusCode)
	c.log.Debug(ctx, "api call", "method", r.method, "path", r.path, "status", resp.StatusCode, "request_id", requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	r, err := jsonRequest(method, path, token, in, out)
	if err != nil {
		return err
	}
	return c.do(ctx, r)
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if len(data) > 0 && json.Unmarshal(data, &payload) == nil {
		apiErr.Detail = flattenDetail(payload.Detail)
		if apiErr.Detail == "" {
			apiErr.Detail = payload.Message
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// flattenDetail turns the backend's "detail" field into one line. It may be
// a string, a list of validation items carrying "msg", or an object carrying
// "message".
func flattenDetail(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			var v struct {
				Msg string `json:"msg"`
			}
			if json.Unmarshal(item, &v) == nil && v.Msg != "" {
				parts = append(parts, v.Msg)
				continue
			}
			if json.Unmarshal(item, &s) == nil {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, string(item))
		}
		return strings.Join(parts, ", ")
	}

	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// Ping checks /v1/health. A reachable backend that reports its database as
// unavailable counts as unavailable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	var health map[string]string
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", "", nil, &health); err != nil {
		return err
	}
	if db, ok := health["database"]; ok && db != "ok" {
		return fmt.Errorf("health: database %s: %w", db, ErrUnavailable)
	}
	return nil
}

func (c *HTTPClient) Register(ctx context.Context, req RegisterRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/auth/register", "", req, nil)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type loginResponse struct {
	tokenResponse
	ChallengeID      string `json:"challenge_id"`
	Method           string `json:"method"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DebugCode        string `json:"debug_code"`
}

func (c *HTTPClient) Login(ctx context.Context, username, password, code string) (*LoginResult, error) {
	payload := struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code,omitempty"`
	}{username, password, code}

	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", "", payload, &resp); err != nil {
		return nil, err
	}
	res := &LoginResult{
		AccessToken: resp.AccessToken,
		ChallengeID: resp.ChallengeID,
		Method:      resp.Method,
		ExpiresIn:   time.Duration(resp.ExpiresInSeconds) * time.Second,
		DebugCode:   resp.DebugCode,
	}
	if res.AccessToken == "" && res.ChallengeID == "" {
		return nil, fmt.Errorf("login: %w", common.ErrInvalidToken)
	}
	return res, nil
}

func (c *HTTPClient) VerifyLogin(ctx context.Context, challengeID, code string) (string, error) {
	payload := struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}{challengeID, code}

	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login/verify", "", payload, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("verify login: %w", common.ErrInvalidToken)
	}
	return resp.AccessToken, nil
}

// Refresh exchanges the refresh cookie for a new access token. An empty
// token with a nil error means the server declined without an error status.
func (c *HTTPClient) Refresh(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh", "", nil, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/auth/logout", "", nil, nil)
}

func (c *HTTPClient) Me(ctx context.Context, token string) (*Profile, error) {
	var rec UserRecord
	if err := c.doJSON(ctx, http.MethodGet, "/v1/auth/me", token, nil, &rec); err != nil {
		return nil, err
	}
	return rec.Profile(), nil
}

func (c *HTTPClient) UpdateMe(ctx context.Context, token string, update ProfileUpdate) (*Profile, error) {
	var rec UserRecord
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/users/me", token, update, &rec); err != nil {
		return nil, err
	}
	return rec.Profile(), nil
}

func (c *HTTPClient) ChangePassword(ctx context.Context, token string, req ChangePasswordRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/users/me/change-password", token, req, nil)
}

type enrollmentResponse struct {
	ChallengeID      string `json:"challenge_id"`
	Secret           string `json:"secret"`
	ProvisioningURI  string `json:"provisioning_uri"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DebugCode        string `json:"debug_code"`
}

// StartTwoFactor begins authenticator enrollment. The second factor stays
// off until EnableTwoFactor confirms a code.
func (c *HTTPClient) StartTwoFactor(ctx context.Context, token string) (*TwoFactorEnrollment, error) {
	var resp enrollmentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users/me/security/start-two-factor", token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ChallengeID == "" || resp.Secret == "" {
		return nil, fmt.Errorf("start two-factor: %w", common.ErrInvalidToken)
	}
	return &TwoFactorEnrollment{
		ChallengeID:     resp.ChallengeID,
		Secret:          resp.Secret,
		ProvisioningURI: resp.ProvisioningURI,
		ExpiresIn:       time.Duration(resp.ExpiresInSeconds) * time.Second,
		DebugCode:       resp.DebugCode,
	}, nil
}

func (c *HTTPClient) EnableTwoFactor(ctx context.Context, token, challengeID, code string) (*TwoFactorStatus, error) {
	payload := struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}{challengeID, code}

	var st TwoFactorStatus
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users/me/security/enable-two-factor", token, payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) DisableTwoFactor(ctx context.Context, token, currentPassword string) (*TwoFactorStatus, error) {
	payload := struct {
		CurrentPassword string `json:"current_password"`
	}{currentPassword}

	var st TwoFactorStatus
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users/me/security/disable-two-factor", token, payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) ListJobs(ctx context.Context, token string) ([]Job, error) {
	var jobs []Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs", token, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, token string, id int64) (*Job, error) {
	var job Job
	path := "/v1/jobs/" + strconv.FormatInt(id, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *HTTPClient) CreateJob(ctx context.Context, token string, in JobCreate) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", token, in, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *HTTPClient) JobHistory(ctx context.Context, token string) (*JobHistory, error) {
	var h JobHistory
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/history", token, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) ReviewQueue(ctx context.Context, token string) (*ReviewQueue, error) {
	var q ReviewQueue
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/review-queue", token, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// UploadAudio posts content as the multipart "file" field. content is a byte
// slice so the call can be replayed after a credential refresh.
func (c *HTTPClient) UploadAudio(ctx context.Context, token, fileName string, content []byte) (*UploadResult, error) {
	body, contentType, err := netx.MultipartFile("file", fileName, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	var res UploadResult
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/v1/transcribe/upload",
		token:       token,
		body:        body,
		contentType: contentType,
		out:         &res,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// IsTransportError reports whether err came from failing to reach the
// backend rather than from a response.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrUnavailable) && StatusCode(err) == 0
}
