package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/brieflow/internal/store"
)

const blobTable = "checkpoint_blob"

type blobRow struct {
	Key      string    `json:"key"`
	Data     []byte    `json:"data,omitempty"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// BlobStore is a store.DurableStore backed by the checkpoint_blob table.
type BlobStore struct {
	client *Client
}

var _ store.DurableStore = (*BlobStore)(nil)

// NewBlobStore creates a blob store on an initialized client.
func NewBlobStore(c *Client) *BlobStore {
	return &BlobStore{client: c}
}

// Put stores data under key, keeping the creation time of an existing blob.
func (b *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	err := exec(ctx, b.client, `
		UPSERT type::record("checkpoint_blob", $key) SET
			key = $key,
			data = $data,
			size = $size,
			modified = time::now()
	`, map[string]any{
		"key":  key,
		"data": data,
		"size": len(data),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	found, err := rows[blobRow](ctx, b.client, `
		SELECT key, data, size, created, modified FROM type::record("checkpoint_blob", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}
	return found[0].Data, nil
}

// Delete removes the blob stored under key.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	removed, err := rows[blobRow](ctx, b.client, `
		DELETE type::record("checkpoint_blob", $key) RETURN BEFORE
	`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if len(removed) == 0 {
		return fmt.Errorf("delete %s: %w", key, store.ErrNotFound)
	}
	return nil
}

// List returns every blob whose key starts with prefix, sorted by key.
func (b *BlobStore) List(ctx context.Context, prefix string) ([]store.BlobInfo, error) {
	listed, err := rows[blobRow](ctx, b.client, `
		SELECT key, size, created, modified FROM checkpoint_blob
		WHERE string::starts_with(key, $prefix)
		ORDER BY key ASC
	`, map[string]any{"prefix": prefix})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	infos := make([]store.BlobInfo, 0, len(listed))
	for _, row := range listed {
		infos = append(infos, store.BlobInfo{
			Key:        row.Key,
			Size:       row.Size,
			CreatedAt:  row.Created,
			ModifiedAt: row.Modified,
		})
	}
	return infos, nil
}
