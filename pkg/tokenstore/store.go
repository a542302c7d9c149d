// Package tokenstore is the key-value persistence boundary for session
// state. The credential store writes through it on every replacement and
// reads it once at startup so sessions survive restarts.
package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("tokenstore: key not found")

// Store is the persistence contract: get on startup, set on every
// credential replacement, clear on sign-out.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context, key string) error
}
