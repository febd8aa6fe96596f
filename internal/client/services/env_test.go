package services

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/apitest"
	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/stretchr/testify/require"
)

type env struct {
	backend *apitest.Backend
	client  *client.HTTPClient
	session *session.Manager
	auth    AuthService
	jobs    JobService
	profile ProfileService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := apitest.New(apitest.Options{DebugCodes: true})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	c, err := client.NewHTTPClient(client.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	m := session.NewManager(c)

	return &env{
		backend: b,
		client:  c,
		session: m,
		auth:    NewAuthService(c, m),
		jobs:    NewJobService(c, m),
		profile: NewProfileService(c, m),
	}
}
