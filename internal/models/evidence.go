package models

import "time"

// ItemStatus is the lifecycle state of an evidence queue item.
type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemError      ItemStatus = "error"
	ItemCancelled  ItemStatus = "cancelled"
)

// Terminal reports whether no further transition can happen from s.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemError || s == ItemCancelled
}

// EvidenceClass is the coarse weight of a piece of evidence.
type EvidenceClass string

const (
	EvidencePrimary   EvidenceClass = "primary"
	EvidenceSecondary EvidenceClass = "secondary"
	EvidenceUnknown   EvidenceClass = "unknown"
)

// Classification is the answer of a classification service for one file.
type Classification struct {
	EvidenceClass EvidenceClass `json:"evidence_class"`
	EvidenceType  string        `json:"evidence_type"`
	Confidence    float64       `json:"confidence"`
}

// EvidenceQueueItem tracks one uploaded artifact through classification.
type EvidenceQueueItem struct {
	ItemID                   string         `json:"item_id"`
	CaseID                   string         `json:"case_id"`
	FileReference            string         `json:"file_reference"`
	Filename                 string         `json:"filename"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
	Status                   ItemStatus     `json:"status"`
	EvidenceClass            EvidenceClass  `json:"evidence_class,omitempty"`
	EvidenceType             string         `json:"evidence_type,omitempty"`
	ClassificationConfidence *float64       `json:"classification_confidence,omitempty"`
	Error                    string         `json:"error,omitempty"`
	QueuedAt                 time.Time      `json:"queued_at"`
	StartedAt                *time.Time     `json:"started_at,omitempty"`
	CompletedAt              *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the item.
func (i EvidenceQueueItem) Clone() EvidenceQueueItem {
	out := i
	out.Metadata = CloneMap(i.Metadata)
	if i.ClassificationConfidence != nil {
		c := *i.ClassificationConfidence
		out.ClassificationConfidence = &c
	}
	if i.StartedAt != nil {
		t := *i.StartedAt
		out.StartedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// QueueStatus is the read-side view of one case's evidence queue. Derived statistics are
// computed when the status is built and never cached.
type QueueStatus struct {
	CaseID                string              `json:"case_id"`
	CaseType              string              `json:"case_type"`
	Total                 int                 `json:"total"`
	Queued                int                 `json:"queued"`
	Processing            int                 `json:"processing"`
	Completed             int                 `json:"completed"`
	Cancelled             int                 `json:"cancelled"`
	ErrorCount            int                 `json:"error_count"`
	PrimaryPercentage     float64             `json:"primary_percentage"`
	AverageConfidence     float64             `json:"average_confidence"`
	EvidenceTypeBreakdown map[string]int      `json:"evidence_type_breakdown"`
	CompletedItems        []EvidenceQueueItem `json:"completed_items"`
}

// Pending returns the number of items still waiting for or under classification.
func (s QueueStatus) Pending() int {
	return s.Queued + s.Processing
}

// CancelOutcome reports what a cancellation request did.
type CancelOutcome string

const (
	CancelApplied       CancelOutcome = "cancelled"
	CancelNoopCompleted CancelOutcome = "noop_completed"
	CancelNoopTerminal  CancelOutcome = "noop_already_terminal"
)
