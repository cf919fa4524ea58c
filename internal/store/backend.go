// Package store keeps whole JSON documents in memory and writes them back to
// a backend with coalesced, debounced flushes.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when no document exists under a key.
var ErrNotFound = errors.New("store: document not found")

// Backend loads and saves raw documents by key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}
