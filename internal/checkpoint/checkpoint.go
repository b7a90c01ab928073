// Package checkpoint persists and restores workflow session snapshots.
package checkpoint

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/brieflow/internal/metrics"
	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/store"
)

// DefaultKeepCount is the number of checkpoints retained per session.
const DefaultKeepCount = 10

const (
	keyPrefix = "checkpoints/"
	keySuffix = ".json"
	// Fixed-width UTC layout so lexical key order equals chronological order.
	timestampLayout = "20060102T150405.000000000Z"
)

var (
	// ErrNotFound indicates no checkpoint matches the request.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidSession indicates a session that cannot be checkpointed.
	ErrInvalidSession = errors.New("invalid session")
)

// Manager snapshots sessions into a DurableStore and applies the retention policy.
type Manager struct {
	store     store.DurableStore
	keepCount int
	clock     func() time.Time
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time // last timestamp issued per session

	cleanups sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKeepCount sets how many checkpoints are retained per session. Values below 1 are ignored.
func WithKeepCount(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keepCount = n
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMetrics records checkpoint I/O timings.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a checkpoint manager over s.
func New(s store.DurableStore, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("checkpoint manager: durable store is required")
	}
	m := &Manager{
		store:     s,
		keepCount: DefaultKeepCount,
		clock:     time.Now,
		logger:    slog.Default(),
		last:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// KeepCount returns the retention limit per session.
func (m *Manager) KeepCount() int {
	return m.keepCount
}

// Key returns the storage key of the checkpoint taken for sessionID at ts.
func Key(sessionID string, ts time.Time) string {
	return sessionPrefix(sessionID) + ts.UTC().Format(timestampLayout) + keySuffix
}

func sessionPrefix(sessionID string) string {
	return keyPrefix + sessionID + "/"
}

// parseKey splits a checkpoint key into session ID and timestamp.
func parseKey(key string) (string, time.Time, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, keySuffix)
	if !ok {
		return "", time.Time{}, false
	}
	sessionID, stamp, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return "", time.Time{}, false
	}
	return sessionID, ts, true
}

// nextTimestamp returns a timestamp strictly after any previously issued for the session,
// so two checkpoints never share a key even with a coarse clock.
func (m *Manager) nextTimestamp(sessionID string) time.Time {
	ts := m.clock().UTC().Truncate(time.Nanosecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[sessionID]; ok && !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	m.last[sessionID] = ts
	return ts
}

// Create serializes the full session under a timestamped key and records the timestamp
// as the session's LastCheckpoint. Old checkpoints beyond the retention limit are removed
// in the background.
func (m *Manager) Create(ctx context.Context, session *models.WorkflowSession) (models.CheckpointInfo, error) {
	if session == nil || session.SessionID == "" || strings.Contains(session.SessionID, "/") {
		return models.CheckpointInfo{}, ErrInvalidSession
	}
	start := time.Now()
	ts := m.nextTimestamp(session.SessionID)

	previous := session.LastCheckpoint
	session.LastCheckpoint = &ts

	cp := models.Checkpoint{
		WorkflowSession:     *session,
		CheckpointTimestamp: ts,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		session.LastCheckpoint = previous
		m.metrics.RecordFailure(metrics.OpCheckpointWrite, time.Since(start))
		return models.CheckpointInfo{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := Key(session.SessionID, ts)
	if err := m.store.Put(ctx, key, data); err != nil {
		session.LastCheckpoint = previous
		m.metrics.RecordFailure(metrics.OpCheckpointWrite, time.Since(start))
		m.logger.Error("checkpoint write failed", "session_id", session.SessionID, "key", key, "error", err)
		return models.CheckpointInfo{}, fmt.Errorf("write checkpoint: %w", err)
	}
	m.metrics.RecordTiming(metrics.OpCheckpointWrite, time.Since(start))
	m.logger.Debug("checkpoint created", "session_id", session.SessionID, "key", key, "size", len(data))

	m.cleanups.Add(1)
	go func() {
		defer m.cleanups.Done()
		m.cleanupOld(context.WithoutCancel(ctx), session.SessionID, m.keepCount)
	}()

	now := m.clock()
	return models.CheckpointInfo{
		Key:        key,
		SessionID:  session.SessionID,
		Timestamp:  ts,
		Size:       int64(len(data)),
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Wait blocks until every background cleanup started so far has finished.
func (m *Manager) Wait() {
	m.cleanups.Wait()
}

// cleanupOld keeps the keep most recent checkpoints of a session and deletes the rest.
// Failures are logged and never returned; a blob that is already gone counts as deleted.
func (m *Manager) cleanupOld(ctx context.Context, sessionID string, keep int) {
	infos, err := m.listInfos(ctx, sessionID)
	if err != nil {
		m.logger.Warn("checkpoint cleanup: list failed", "session_id", sessionID, "error", err)
		return
	}
	if len(infos) <= keep {
		return
	}
	for _, info := range infos[keep:] {
		err := m.store.Delete(ctx, info.Key)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			continue
		}
		m.logger.Warn("checkpoint cleanup: delete failed", "session_id", sessionID, "key", info.Key, "error", err)
	}
}

// listInfos returns the session's checkpoints newest first: by modification time, ties
// broken by key.
func (m *Manager) listInfos(ctx context.Context, sessionID string) ([]models.CheckpointInfo, error) {
	blobs, err := m.store.List(ctx, sessionPrefix(sessionID))
	if err != nil {
		return nil, err
	}
	infos := make([]models.CheckpointInfo, 0, len(blobs))
	for _, b := range blobs {
		id, ts, ok := parseKey(b.Key)
		if !ok || id != sessionID {
			continue
		}
		infos = append(infos, models.CheckpointInfo{
			Key:        b.Key,
			SessionID:  id,
			Timestamp:  ts,
			Size:       b.Size,
			CreatedAt:  b.CreatedAt,
			ModifiedAt: b.ModifiedAt,
		})
	}
	slices.SortFunc(infos, func(a, b models.CheckpointInfo) int {
		if c := b.ModifiedAt.Compare(a.ModifiedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Key, a.Key)
	})
	return infos, nil
}

// List returns checkpoint metadata for a session, newest first.
func (m *Manager) List(ctx context.Context, sessionID string) ([]models.CheckpointInfo, error) {
	infos, err := m.listInfos(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return infos, nil
}

// Restore loads the checkpoint taken at the given timestamp, or the most recent one when at
// is nil. It returns ErrNotFound when no matching checkpoint exists.
func (m *Manager) Restore(ctx context.Context, sessionID string, at *time.Time) (*models.WorkflowSession, error) {
	start := time.Now()
	session, err := m.restore(ctx, sessionID, at)
	m.metrics.Observe(metrics.OpCheckpointRestore, start, err)
	return session, err
}

func (m *Manager) restore(ctx context.Context, sessionID string, at *time.Time) (*models.WorkflowSession, error) {
	var key string
	if at != nil {
		key = Key(sessionID, *at)
	} else {
		infos, err := m.listInfos(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		key = infos[0].Key
	}

	data, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s at %s: %w", sessionID, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", key, err)
	}
	session := cp.WorkflowSession
	m.observe(sessionID, cp.CheckpointTimestamp)
	return &session, nil
}

// observe remembers a timestamp read back from storage so later checkpoints sort after it.
func (m *Manager) observe(sessionID string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[sessionID]; !ok || ts.After(prev) {
		m.last[sessionID] = ts
	}
}

// DeleteAll purges every checkpoint of a session and reports how many were removed.
func (m *Manager) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	infos, err := m.listInfos(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	removed := 0
	var errs []error
	for _, info := range infos {
		err := m.store.Delete(ctx, info.Key)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, store.ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	delete(m.last, sessionID)
	m.mu.Unlock()

	if len(errs) > 0 {
		return removed, fmt.Errorf("delete checkpoints: %w", errors.Join(errs...))
	}
	m.logger.Info("checkpoints deleted", "session_id", sessionID, "count", removed)
	return removed, nil
}

// Sessions returns the IDs of every session with at least one checkpoint, sorted.
func (m *Manager) Sessions(ctx context.Context) ([]string, error) {
	blobs, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var ids []string
	for _, b := range blobs {
		id, _, ok := parseKey(b.Key)
		if ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Stats aggregates checkpoint count, size and distinct sessions across the store.
func (m *Manager) Stats(ctx context.Context) (models.StorageStats, error) {
	blobs, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return models.StorageStats{}, fmt.Errorf("list checkpoints: %w", err)
	}
	var stats models.StorageStats
	sessions := make(map[string]struct{})
	for _, b := range blobs {
		id, _, ok := parseKey(b.Key)
		if !ok {
			continue
		}
		stats.TotalCheckpoints++
		stats.TotalSizeBytes += b.Size
		sessions[id] = struct{}{}
	}
	stats.Sessions = len(sessions)
	return stats, nil
}
