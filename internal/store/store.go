// Package store provides key-value blob storage backends for checkpoints and evidence state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("blob not found")

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Key        string
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// DurableStore is key-value blob storage. Get and Delete return ErrNotFound (possibly
// wrapped) for missing keys. List returns every blob whose key starts with prefix,
// sorted by key.
type DurableStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
