// Package blob abstracts the object store holding generated exchange
// artifacts. Production uses the filesystem-backed store; tests use Memory.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound indicates the named object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the minimal object-storage surface the cohort core needs.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Get(ctx context.Context, name string) (data []byte, contentType string, err error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}
