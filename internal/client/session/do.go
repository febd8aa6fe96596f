package session

import (
	"context"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
)

// Do runs op with the current credential. If op fails with an authorization
// error the credential is refreshed once and op is retried once with the new
// credential. op runs at most twice.
//
// Without a credential Do refreshes first and returns ErrAuthRequired if
// that yields nothing and no newer session was started meanwhile, without
// calling op. A second authorization failure,
// or a declined refresh, clears the session. Other errors are returned as
// they are.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context, cred Credential) error) error {
	cred, gen := m.store.credentialAt()
	if cred == "" {
		fresh, err := m.refresher.refresh(ctx)
		if err != nil {
			return err
		}
		if fresh == "" {
			// a sign-in may have landed while the refresh was out
			fresh, gen = m.store.credentialAt()
			if fresh == "" {
				return ErrAuthRequired
			}
		}
		cred = fresh
	}

	err := op(ctx, cred)
	if err == nil || !client.IsUnauthorized(err) {
		return err
	}

	fresh, rerr := m.refresher.refresh(ctx)
	if rerr != nil {
		return rerr
	}
	if fresh == "" {
		cur, curGen := m.store.credentialAt()
		if cur == "" || curGen == gen {
			_ = m.clearSessionIf(ctx, gen, reasonRefreshDeclined)
			return err
		}
		fresh, gen = cur, curGen
	}

	m.metrics.RecordRetry()
	m.log.Debug(ctx, "retrying with refreshed credential")

	if err := op(ctx, fresh); err != nil {
		if client.IsUnauthorized(err) {
			_ = m.clearSessionIf(ctx, gen, reasonRetryRejected)
		}
		return err
	}
	return nil
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, m *Manager, op func(ctx context.Context, cred Credential) (T, error)) (T, error) {
	var out T
	err := m.Do(ctx, func(ctx context.Context, cred Credential) error {
		v, err := op(ctx, cred)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
