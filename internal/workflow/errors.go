package workflow

import "errors"

var (
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation error")

	// ErrSessionNotFound indicates the session is neither in memory nor checkpointed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrOutOfOrder indicates a phase other than the session's current phase was requested.
	ErrOutOfOrder = errors.New("phase out of order")

	// ErrPhaseInProgress indicates another phase of the same session is executing.
	ErrPhaseInProgress = errors.New("phase already in progress")

	// ErrWorkflowCompleted indicates every phase of the session has completed.
	ErrWorkflowCompleted = errors.New("workflow already completed")

	// ErrNoCollaborator indicates no stage collaborator is registered for the phase.
	ErrNoCollaborator = errors.New("no collaborator registered")

	// ErrStorage indicates session state could not be made durable.
	ErrStorage = errors.New("storage failure")
)
