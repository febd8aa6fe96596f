package session

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/metrics"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// refresher renews the credential with at most one network call in flight.
// Callers arriving while a refresh is outstanding share its result.
type refresher struct {
	gateway Gateway
	store   *Store
	clear   func(ctx context.Context, gen uint64, reason string) error
	metrics metrics.SessionRecorder
	log     logging.Logger

	group singleflight.Group

	// afterJoin, when set, runs once the caller is attached to the
	// outstanding refresh. Tests use it to line callers up.
	afterJoin func()
}

// refresh returns the new credential, or "" with a nil error when the server
// declined to renew. In that case the session the refresh started in has
// been cleared; a session started meanwhile is left alone. Any other
// failure is returned to every waiter and leaves the session alone.
//
// The network call does not inherit ctx's cancellation; ctx only bounds how
// long this caller waits.
func (r *refresher) refresh(ctx context.Context) (Credential, error) {
	var led bool
	gen := r.store.Generation()
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		led = true
		return r.run(context.WithoutCancel(ctx), gen)
	})
	if r.afterJoin != nil {
		r.afterJoin()
	}

	select {
	case res := <-ch:
		if !led {
			r.metrics.RecordRefreshJoined()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *refresher) run(ctx context.Context, gen uint64) (Credential, error) {
	token, err := r.gateway.Refresh(ctx)

	switch {
	case err == nil && token != "":
		cred := Credential(token)
		if !r.store.SetCredentialIf(gen, cred) {
			r.log.Debug(ctx, "dropping refreshed credential, session changed meanwhile")
			r.metrics.RecordRefresh(metrics.RefreshDeclined)
			return "", nil
		}
		r.metrics.RecordRefresh(metrics.RefreshRenewed)
		r.log.Debug(ctx, "credential refreshed")
		return cred, nil

	case err == nil || client.IsUnauthorized(err):
		r.metrics.RecordRefresh(metrics.RefreshDeclined)
		r.log.Info(ctx, "refresh declined by server")
		_ = r.clear(ctx, gen, reasonRefreshDeclined)
		return "", nil

	default:
		r.metrics.RecordRefresh(metrics.RefreshFailed)
		r.log.Warn(ctx, "refresh failed", "error", err)
		return "", fmt.Errorf("refresh credential: %w", err)
	}
}
