// Package events defines the event sink injected into the coordinator and evidence queues.
package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Event types emitted by the workflow and evidence subsystems.
const (
	WorkflowStarted   = "workflow_started"
	PhaseStarted      = "phase_started"
	PhaseCompleted    = "phase_completed"
	PhaseFailed       = "phase_failed"
	WorkflowCompleted = "workflow_completed"
	CheckpointCreated = "checkpoint_created"
	SessionDeleted    = "session_deleted"
	EvidenceQueued    = "evidence_queued"
	EvidenceCompleted = "evidence_completed"
	EvidenceFailed    = "evidence_failed"
	EvidenceCancelled = "evidence_cancelled"
)

// Event is one occurrence reported to a Sink.
type Event struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	CaseID     string         `json:"case_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink receives events. Emit must not block for long and must not fail the caller.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "event", "type", e.Type, "session_id", e.SessionID, "case_id", e.CaseID, "data", e.Data)
}

// Fanout delivers every event to each sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Recorder keeps emitted events in memory. It is used by tests and the CLI's verbose mode.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
