package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type memoryBlob struct {
	data     []byte
	created  time.Time
	modified time.Time
}

// Memory is an in-process DurableStore. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
	clock func() time.Time
}

// NewMemory creates an empty in-memory store. A nil clock uses time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		blobs: make(map[string]memoryBlob),
		clock: clock,
	}
}

// Put stores a copy of data under key.
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.blobs[key]
	if !ok {
		blob.created = now
	}
	blob.data = slices.Clone(data)
	blob.modified = now
	m.blobs[key] = blob
	return nil
}

// Get returns a copy of the blob stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return slices.Clone(blob.data), nil
}

// Delete removes key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	delete(m.blobs, key)
	return nil
}

// List returns blobs whose key starts with prefix, sorted by key.
func (m *Memory) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]BlobInfo, 0)
	for key, blob := range m.blobs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, BlobInfo{
			Key:        key,
			Size:       int64(len(blob.data)),
			CreatedAt:  blob.created,
			ModifiedAt: blob.modified,
		})
	}
	slices.SortFunc(infos, func(a, b BlobInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return infos, nil
}
