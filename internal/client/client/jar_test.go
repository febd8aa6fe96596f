package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jarBase = "http://api.medscribe.test"

func newRepo(t *testing.T) metadata.Repository {
	t.Helper()
	db, err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return metadata.NewSQLiteRepository(db)
}

func refreshValue(j *PersistentJar) string {
	u, _ := url.Parse(jarBase + "/v1/auth/refresh")
	for _, c := range j.Cookies(u) {
		if c.Name == common.RefreshCookieName {
			return c.Value
		}
	}
	return ""
}

func TestPersistentJar_RoundTripAcrossInstances(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	j1, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)
	assert.False(t, j1.HasGrant())

	u, _ := url.Parse(jarBase + "/v1/auth/login")
	j1.SetCookies(u, []*http.Cookie{
		{Name: common.RefreshCookieName, Value: "grant-1", Path: "/", HttpOnly: true, MaxAge: 3600},
		{Name: "other", Value: "x", Path: "/"},
	})
	assert.True(t, j1.HasGrant())

	j2, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)
	assert.True(t, j2.HasGrant())
	assert.Equal(t, "grant-1", refreshValue(j2))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "only the refresh cookie and its origin are persisted")
	assert.Equal(t, []byte(jarBase), all[refreshOriginKey])
}

func TestPersistentJar_ServerDeletionForgetsGrant(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	j, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)

	u, _ := url.Parse(jarBase + "/v1/auth/logout")
	j.SetCookies(u, []*http.Cookie{{Name: common.RefreshCookieName, Value: "g", Path: "/"}})
	j.SetCookies(u, []*http.Cookie{{Name: common.RefreshCookieName, Value: "", Path: "/", MaxAge: -1}})

	assert.False(t, j.HasGrant())
	_, err = repo.Get(ctx, refreshCookieKey)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPersistentJar_Clear(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	j, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)

	u, _ := url.Parse(jarBase + "/")
	j.SetCookies(u, []*http.Cookie{{Name: common.RefreshCookieName, Value: "g", Path: "/"}})
	require.True(t, j.HasGrant())

	require.NoError(t, j.Clear(ctx))
	require.NoError(t, j.Clear(ctx))
	assert.False(t, j.HasGrant())

	j2, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)
	assert.False(t, j2.HasGrant())
}

func TestPersistentJar_DiscardsExpiredAndCorruptEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		repo := newRepo(t)
		data, _ := json.Marshal(storedCookie{
			Name:    common.RefreshCookieName,
			Value:   "old",
			Path:    "/",
			Expires: time.Now().Add(-time.Hour),
		})
		require.NoError(t, repo.Set(ctx, refreshCookieKey, data))

		j, err := NewPersistentJar(ctx, jarBase, repo, nil)
		require.NoError(t, err)
		assert.False(t, j.HasGrant())
		_, err = repo.Get(ctx, refreshCookieKey)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("corrupt", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, refreshCookieKey, []byte("{not json")))

		j, err := NewPersistentJar(ctx, jarBase, repo, nil)
		require.NoError(t, err)
		assert.False(t, j.HasGrant())
	})
}

func TestNewPersistentJar_BadURL(t *testing.T) {
	_, err := NewPersistentJar(context.Background(), "not a url", newRepo(t), nil)
	require.Error(t, err)
}

func TestPersistentJar_DiscardsGrantOfAnotherServer(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Set(ctx, "ui.theme", []byte("dark")))

	j1, err := NewPersistentJar(ctx, jarBase, repo, nil)
	require.NoError(t, err)
	u, _ := url.Parse(jarBase + "/v1/auth/login")
	j1.SetCookies(u, []*http.Cookie{{Name: common.RefreshCookieName, Value: "grant-1", Path: "/", MaxAge: 3600}})

	j2, err := NewPersistentJar(ctx, "http://staging.medscribe.test", repo, nil)
	require.NoError(t, err)
	assert.False(t, j2.HasGrant())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"ui.theme": []byte("dark")}, all, "unrelated entries survive")
}
