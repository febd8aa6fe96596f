// Package metadata persists small key/value facts about the local client
// installation, such as the refresh-grant cookie that lets a restarted client
// restore its session silently.
package metadata

import (
	"context"
)

// Repository is a byte-valued key/value store. Get returns
// common.ErrorNotFound when the key is absent.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	// Update runs fn against a repository bound to a single transaction.
	// Everything fn writes is committed together or not at all.
	Update(ctx context.Context, fn func(tx Repository) error) error
}
