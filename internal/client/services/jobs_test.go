package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedIn(t *testing.T) (*env, int64) {
	t.Helper()
	e := newEnv(t)
	uid := e.backend.AddUser("doc1", "password1", "doctor", false)
	require.NoError(t, e.auth.Login(context.Background(), "doc1", []byte("password1")))
	return e, uid
}

func TestJobService_Lifecycle(t *testing.T) {
	e, uid := signedIn(t)
	ctx := context.Background()

	uri := "s3://audio/visit-1.wav"
	job, err := e.jobs.Create(ctx, client.JobCreate{Type: "transcription", InputURI: &uri})
	require.NoError(t, err)
	assert.Equal(t, client.JobPending, job.Status)

	e.backend.AddJob(uid, "transcription", client.JobCompleted)

	got, err := e.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InputURI)
	assert.Equal(t, uri, *got.InputURI)

	list, err := e.jobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	h, err := e.jobs.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Stats.InQueue)
	assert.Equal(t, 1, h.Stats.ReadyForReview)

	q, err := e.jobs.ReviewQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Stats.Total)

	_, err = e.jobs.Get(ctx, 999)
	require.ErrorIs(t, err, client.ErrNotFound)
	assert.True(t, e.session.IsAuthenticated(), "a 404 does not end the session")
}

func TestJobService_ExpiredCredentialRetried(t *testing.T) {
	e, _ := signedIn(t)
	e.backend.RevokeAccessTokens()

	list, err := e.jobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1, e.backend.RefreshCalls())
	assert.Equal(t, 2, e.backend.Calls("GET /v1/jobs"))
}

func TestJobService_UploadAudio(t *testing.T) {
	e, _ := signedIn(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "visit.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))

	e.backend.RevokeAccessTokens()
	res, err := e.jobs.UploadAudio(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "visit.wav", res.Filename)
	assert.Equal(t, 2, e.backend.Calls("POST /v1/transcribe/upload"), "the body is replayed on retry")

	_, err = e.jobs.UploadAudio(ctx, filepath.Join(dir, "missing.wav"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = e.jobs.UploadAudio(ctx, dir)
	require.Error(t, err)
}

func TestJobService_RequiresSession(t *testing.T) {
	e := newEnv(t)
	_, err := e.jobs.List(context.Background())
	require.ErrorIs(t, err, session.ErrAuthRequired)
	assert.Zero(t, e.backend.Calls("GET /v1/jobs"))
}
