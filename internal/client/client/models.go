package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// APITime decodes the backend's timestamps, which may or may not carry a zone
// offset. Naive timestamps are taken as UTC.
type APITime struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t APITime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *APITime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		if string(b) == "null" {
			t.Time = time.Time{}
			return nil
		}
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Profile is the normalized view of the backend user record.
type Profile struct {
	ID               int64
	Username         string
	Name             string
	Role             string
	FirstName        string
	LastName         string
	PhoneNumber      string
	Specialty        string
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserRecord is the wire shape of a user (UserRead on the backend).
type UserRecord struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	Specialty   *string `json:"specialty"`
	TOTPEnabled bool    `json:"totp_enabled"`
	CreatedAt   APITime `json:"created_at"`
	UpdatedAt   APITime `json:"updated_at"`
}

// Profile normalizes the record. Name is "First Last" when either part is
// set and falls back to the username.
func (u UserRecord) Profile() *Profile {
	p := &Profile{
		ID:               u.ID,
		Username:         u.Username,
		Role:             u.Role,
		FirstName:        deref(u.FirstName),
		LastName:         deref(u.LastName),
		PhoneNumber:      deref(u.PhoneNumber),
		Specialty:        deref(u.Specialty),
		TwoFactorEnabled: u.TOTPEnabled,
		CreatedAt:        u.CreatedAt.Time,
		UpdatedAt:        u.UpdatedAt.Time,
	}
	p.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	if p.Name == "" {
		p.Name = p.Username
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LoginResult is the outcome of a login call. Exactly one of AccessToken and
// ChallengeID is set on success.
type LoginResult struct {
	AccessToken string
	ChallengeID string
	Method      string
	ExpiresIn   time.Duration
	DebugCode   string
}

// RequiresSecondFactor reports whether the server asked for a verification
// code instead of issuing a token.
func (r *LoginResult) RequiresSecondFactor() bool {
	return r.AccessToken == "" && r.ChallengeID != ""
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
}

type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Specialty   *string `json:"specialty,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// TwoFactorEnrollment is an authenticator setup that still has to be
// confirmed with a code from the app.
type TwoFactorEnrollment struct {
	ChallengeID     string
	Secret          string
	ProvisioningURI string
	ExpiresIn       time.Duration
	// DebugCode is only filled by development backends.
	DebugCode string
}

// TwoFactorStatus reports the account's second factor after a change.
type TwoFactorStatus struct {
	Enabled   bool   `json:"enabled"`
	Confirmed bool   `json:"confirmed"`
	Method    string `json:"method"`
}

// Job statuses reported by the backend.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type Job struct {
	ID              int64   `json:"id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	InputURI        *string `json:"input_uri,omitempty"`
	OutputURI       *string `json:"output_uri,omitempty"`
	TranscriptionID *int64  `json:"transcription_id,omitempty"`
	AssigneeID      *int64  `json:"assignee_id,omitempty"`
	CreatedByID     int64   `json:"created_by_id"`
	CreatedAt       APITime `json:"created_at"`
	UpdatedAt       APITime `json:"updated_at"`
}

type JobCreate struct {
	Type            string  `json:"type"`
	InputURI        *string `json:"input_uri,omitempty"`
	TranscriptionID *int64  `json:"transcription_id,omitempty"`
	AssigneeID      *int64  `json:"assignee_id,omitempty"`
}

type JobStats struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Unknown        int `json:"unknown"`
	InQueue        int `json:"in_queue"`
	ReadyForReview int `json:"ready_for_review"`
}

type QueueStats struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Completed      int `json:"completed"`
	InProgress     int `json:"in_progress"`
	ReadyForReview int `json:"ready_for_review"`
}

type JobHistory struct {
	Jobs  []Job    `json:"jobs"`
	Stats JobStats `json:"stats"`
}

type ReviewQueue struct {
	Jobs  []Job      `json:"jobs"`
	Stats QueueStats `json:"stats"`
}

type UploadResult struct {
	Detail   string `json:"detail"`
	Filename string `json:"filename"`
}
