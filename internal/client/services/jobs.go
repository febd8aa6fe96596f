package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
)

// maxUploadSize caps audio files read into memory for upload.
const maxUploadSize = 100 << 20

// JobService covers transcription jobs. Every call goes through the session
// so an expired credential is refreshed and the call retried once.
type JobService interface {
	List(ctx context.Context) ([]client.Job, error)
	Get(ctx context.Context, id int64) (*client.Job, error)
	Create(ctx context.Context, in client.JobCreate) (*client.Job, error)
	History(ctx context.Context) (*client.JobHistory, error)
	ReviewQueue(ctx context.Context) (*client.ReviewQueue, error)
	UploadAudio(ctx context.Context, path string) (*client.UploadResult, error)
}

type jobService struct {
	client  client.Client
	session *session.Manager
}

func NewJobService(c client.Client, m *session.Manager) JobService {
	return &jobService{client: c, session: m}
}

func (s *jobService) List(ctx context.Context) ([]client.Job, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) ([]client.Job, error) {
		return s.client.ListJobs(ctx, string(cred))
	})
}

func (s *jobService) Get(ctx context.Context, id int64) (*client.Job, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.Job, error) {
		return s.client.GetJob(ctx, string(cred), id)
	})
}

func (s *jobService) Create(ctx context.Context, in client.JobCreate) (*client.Job, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.Job, error) {
		return s.client.CreateJob(ctx, string(cred), in)
	})
}

func (s *jobService) History(ctx context.Context) (*client.JobHistory, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.JobHistory, error) {
		return s.client.JobHistory(ctx, string(cred))
	})
}

func (s *jobService) ReviewQueue(ctx context.Context) (*client.ReviewQueue, error) {
	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.ReviewQueue, error) {
		return s.client.ReviewQueue(ctx, string(cred))
	})
}

// UploadAudio reads the file once so both attempts send the same bytes.
func (s *jobService) UploadAudio(ctx context.Context, path string) (*client.UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload: %s is a directory", path)
	}
	if info.Size() > maxUploadSize {
		return nil, fmt.Errorf("upload: %s is larger than %d MiB", path, maxUploadSize>>20)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	name := filepath.Base(path)

	return session.Call(ctx, s.session, func(ctx context.Context, cred session.Credential) (*client.UploadResult, error) {
		return s.client.UploadAudio(ctx, string(cred), name, content)
	})
}
