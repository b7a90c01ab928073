package models

import "time"

// Checkpoint is an immutable snapshot of a workflow session. The session fields are
// flattened into the serialized document next to the checkpoint timestamp.
type Checkpoint struct {
	WorkflowSession
	CheckpointTimestamp time.Time `json:"checkpoint_timestamp"`
}

// CheckpointInfo describes a stored checkpoint without loading it.
type CheckpointInfo struct {
	Key        string    `json:"key"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// StorageStats aggregates checkpoint storage usage across sessions.
type StorageStats struct {
	TotalCheckpoints int   `json:"total_checkpoints"`
	TotalSizeBytes   int64 `json:"total_size_bytes"`
	Sessions         int   `json:"sessions"`
}
