// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpPhaseExecute      = "phase_execute"
	OpCheckpointWrite   = "checkpoint_write"
	OpCheckpointRestore = "checkpoint_restore"
	OpClassify          = "classify"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the collected statistics at a point in time.
type Snapshot struct {
	UptimeSeconds     float64            `json:"uptime_seconds"`
	PhaseExecute      *OperationSnapshot `json:"phase_execute,omitempty"`
	CheckpointWrite   *OperationSnapshot `json:"checkpoint_write,omitempty"`
	CheckpointRestore *OperationSnapshot `json:"checkpoint_restore,omitempty"`
	Classify          *OperationSnapshot `json:"classify,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and a nil *Collector ignores every call.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records a successful operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordFailure records a failed operation; its duration still counts toward timings.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	c.record(op, duration, true)
}

// Observe records duration as a success when err is nil and as a failure otherwise.
func (c *Collector) Observe(op string, start time.Time, err error) {
	c.record(op, time.Since(start), err != nil)
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	if failed {
		m.Failures++
	}
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Operation returns the snapshot of a single operation, or nil if it was never recorded.
func (c *Collector) Operation(op string) *OperationSnapshot {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshotOp(c.ops[op])
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:     time.Since(c.startTime).Seconds(),
		PhaseExecute:      snapshotOp(c.ops[OpPhaseExecute]),
		CheckpointWrite:   snapshotOp(c.ops[OpCheckpointWrite]),
		CheckpointRestore: snapshotOp(c.ops[OpCheckpointRestore]),
		Classify:          snapshotOp(c.ops[OpClassify]),
	}
}
