// Package kv is the key-value persistence boundary used for conversation
// state. Values are UTF-8 text; structured records are stored as JSON.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores that have been shut down.
var ErrClosed = errors.New("kv: store closed")

// Store is a string-keyed text store. A missing key is not an error: Get
// reports it through the boolean result.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
