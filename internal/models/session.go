// Package models defines the data structures shared by the brieflow workflow subsystems.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Phase identifies one stage of the document-production pipeline.
type Phase string

const (
	PhaseIntake      Phase = "intake"
	PhaseResearch    Phase = "research"
	PhaseOutline     Phase = "outline"
	PhaseReview      Phase = "review"
	PhaseDrafting    Phase = "drafting"
	PhaseEditing     Phase = "editing"
	PhaseCompilation Phase = "compilation"
)

// PhaseSequence is the fixed execution order of the pipeline.
var PhaseSequence = []Phase{
	PhaseIntake,
	PhaseResearch,
	PhaseOutline,
	PhaseReview,
	PhaseDrafting,
	PhaseEditing,
	PhaseCompilation,
}

// PhaseIndex returns the position of p in PhaseSequence, or -1 if p is not a known phase.
func PhaseIndex(p Phase) int {
	return slices.Index(PhaseSequence, p)
}

// Valid reports whether p is part of the pipeline.
func (p Phase) Valid() bool {
	return PhaseIndex(p) >= 0
}

// NextPhase returns the phase following p. The second value is false when p is the last
// phase or not a known phase.
func NextPhase(p Phase) (Phase, bool) {
	i := PhaseIndex(p)
	if i < 0 || i+1 >= len(PhaseSequence) {
		return "", false
	}
	return PhaseSequence[i+1], true
}

// FirstPhase returns the entry phase of the pipeline.
func FirstPhase() Phase {
	return PhaseSequence[0]
}

// LastPhase returns the final phase of the pipeline.
func LastPhase() Phase {
	return PhaseSequence[len(PhaseSequence)-1]
}

// SessionStatus is the overall state of a workflow session.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// PhaseStatus is the outcome of one phase execution.
type PhaseStatus string

const (
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusInProgress PhaseStatus = "in_progress"
)

// PhaseResult describes one stage's outcome. It is never mutated after being appended
// to a session's history.
type PhaseResult struct {
	PhaseID       Phase          `json:"phase_id"`
	Status        PhaseStatus    `json:"status"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Timestamp     time.Time      `json:"timestamp"`
	QualityScore  *float64       `json:"quality_score,omitempty"` // 0-1
	Error         string         `json:"error,omitempty"`
}

// Clone returns a deep copy of the result.
func (r PhaseResult) Clone() PhaseResult {
	out := r
	out.OutputData = CloneMap(r.OutputData)
	if r.QualityScore != nil {
		q := *r.QualityScore
		out.QualityScore = &q
	}
	return out
}

// WorkflowSession is the mutable record of one case's progress through the pipeline.
type WorkflowSession struct {
	SessionID             string         `json:"session_id"`
	CaseID                string         `json:"case_id"`
	CaseName              string         `json:"case_name"`
	CurrentPhase          Phase          `json:"current_phase"`
	OverallStatus         SessionStatus  `json:"overall_status"`
	CompletedPhases       []Phase        `json:"completed_phases"`
	FailedPhases          []Phase        `json:"failed_phases"`
	GlobalContext         map[string]any `json:"global_context"`
	KnowledgeGraphID      string         `json:"knowledge_graph_id,omitempty"`
	InputDocuments        []string       `json:"input_documents"`
	PendingApprovals      []string       `json:"pending_approvals"`
	HumanFeedbackRequired bool           `json:"human_feedback_required"`
	LastCheckpoint        *time.Time     `json:"last_checkpoint,omitempty"`
	History               []PhaseResult  `json:"history"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// HasCompleted reports whether p is in the completed list.
func (s *WorkflowSession) HasCompleted(p Phase) bool {
	return slices.Contains(s.CompletedPhases, p)
}

// HasFailed reports whether p is in the failed set.
func (s *WorkflowSession) HasFailed(p Phase) bool {
	return slices.Contains(s.FailedPhases, p)
}

// MarkFailed adds p to the failed set, keeping pipeline order.
func (s *WorkflowSession) MarkFailed(p Phase) {
	if s.HasFailed(p) {
		return
	}
	s.FailedPhases = append(s.FailedPhases, p)
	slices.SortFunc(s.FailedPhases, func(a, b Phase) int {
		return PhaseIndex(a) - PhaseIndex(b)
	})
}

// ClearFailed removes p from the failed set.
func (s *WorkflowSession) ClearFailed(p Phase) {
	s.FailedPhases = slices.DeleteFunc(s.FailedPhases, func(f Phase) bool { return f == p })
}

// ExpectedPhase returns the first phase not yet completed, or the last phase once every
// phase has completed.
func (s *WorkflowSession) ExpectedPhase() Phase {
	for _, p := range PhaseSequence {
		if !s.HasCompleted(p) {
			return p
		}
	}
	return LastPhase()
}

// Clone returns a deep copy of the session. Nested maps and slices inside the global
// context are copied as well so the copy can be mutated independently.
func (s *WorkflowSession) Clone() *WorkflowSession {
	if s == nil {
		return nil
	}
	out := *s
	out.CompletedPhases = slices.Clone(s.CompletedPhases)
	out.FailedPhases = slices.Clone(s.FailedPhases)
	out.InputDocuments = slices.Clone(s.InputDocuments)
	out.PendingApprovals = slices.Clone(s.PendingApprovals)
	out.GlobalContext = CloneMap(s.GlobalContext)
	if s.LastCheckpoint != nil {
		ts := *s.LastCheckpoint
		out.LastCheckpoint = &ts
	}
	if s.History != nil {
		out.History = make([]PhaseResult, len(s.History))
		for i, r := range s.History {
			out.History[i] = r.Clone()
		}
	}
	return &out
}

// NormalizeMap returns m converted to the values a JSON round trip produces: numbers become
// float64, slices []any and structs map[string]any. Session state holds only such values, so
// a session restored from a checkpoint equals the one that was written.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return out, nil
}

// CloneMap deep-copies JSON-like values (maps, slices of any) and returns nil for nil input.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
