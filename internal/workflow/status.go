package workflow

import (
	"context"
	"slices"
	"time"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// WorkflowStatus is the position of a session in the pipeline.
type WorkflowStatus struct {
	SessionID       string               `json:"session_id"`
	CurrentPhase    models.Phase         `json:"current_phase"`
	NextPhase       *models.Phase        `json:"next_phase"`
	Status          models.SessionStatus `json:"status"`
	CompletedPhases []models.Phase       `json:"completed_phases"`
	FailedPhases    []models.Phase       `json:"failed_phases"`
	LastCheckpoint  *time.Time           `json:"last_checkpoint,omitempty"`
}

// PhaseTiming is the duration and quality of the latest attempt of a phase.
type PhaseTiming struct {
	Phase         models.Phase       `json:"phase"`
	Status        models.PhaseStatus `json:"status"`
	ExecutionTime time.Duration      `json:"execution_time"`
	QualityScore  *float64           `json:"quality_score,omitempty"`
	Attempts      int                `json:"attempts"`
}

// WorkflowSummary aggregates the progress of a session.
type WorkflowSummary struct {
	SessionID            string               `json:"session_id"`
	CaseID               string               `json:"case_id"`
	CaseName             string               `json:"case_name"`
	Status               models.SessionStatus `json:"status"`
	TotalPhases          int                  `json:"total_phases"`
	TotalPhasesCompleted int                  `json:"total_phases_completed"`
	ProgressPercentage   float64              `json:"progress_percentage"`
	FailedPhases         []models.Phase       `json:"failed_phases"`
	TotalExecutionTime   time.Duration        `json:"total_execution_time"`
	AverageQuality       *float64             `json:"average_quality_score,omitempty"`
	Phases               []PhaseTiming        `json:"phases"`
	LastCheckpoint       *time.Time           `json:"last_checkpoint,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// GetWorkflowStatus reports the current and next phase of a session.
func (c *Coordinator) GetWorkflowStatus(ctx context.Context, sessionID string) (WorkflowStatus, error) {
	session, err := c.Session(ctx, sessionID)
	if err != nil {
		return WorkflowStatus{}, err
	}
	return statusOf(session), nil
}

func statusOf(s *models.WorkflowSession) WorkflowStatus {
	status := WorkflowStatus{
		SessionID:       s.SessionID,
		CurrentPhase:    s.CurrentPhase,
		Status:          s.OverallStatus,
		CompletedPhases: slices.Clone(s.CompletedPhases),
		FailedPhases:    slices.Clone(s.FailedPhases),
		LastCheckpoint:  s.LastCheckpoint,
	}
	if status.CompletedPhases == nil {
		status.CompletedPhases = []models.Phase{}
	}
	if status.FailedPhases == nil {
		status.FailedPhases = []models.Phase{}
	}
	if s.OverallStatus != models.SessionCompleted {
		if next, ok := models.NextPhase(s.CurrentPhase); ok {
			status.NextPhase = &next
		}
	}
	return status
}

// GenerateWorkflowSummary aggregates completion counts and phase timings of a session.
func (c *Coordinator) GenerateWorkflowSummary(ctx context.Context, sessionID string) (WorkflowSummary, error) {
	session, err := c.Session(ctx, sessionID)
	if err != nil {
		return WorkflowSummary{}, err
	}
	return summaryOf(session), nil
}

func summaryOf(s *models.WorkflowSession) WorkflowSummary {
	total := len(models.PhaseSequence)
	summary := WorkflowSummary{
		SessionID:            s.SessionID,
		CaseID:               s.CaseID,
		CaseName:             s.CaseName,
		Status:               s.OverallStatus,
		TotalPhases:          total,
		TotalPhasesCompleted: len(s.CompletedPhases),
		ProgressPercentage:   float64(len(s.CompletedPhases)) / float64(total) * 100,
		FailedPhases:         slices.Clone(s.FailedPhases),
		Phases:               []PhaseTiming{},
		LastCheckpoint:       s.LastCheckpoint,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if summary.FailedPhases == nil {
		summary.FailedPhases = []models.Phase{}
	}

	latest := make(map[models.Phase]int)
	var qualitySum float64
	var scored int
	for _, r := range s.History {
		summary.TotalExecutionTime += r.ExecutionTime
		if i, ok := latest[r.PhaseID]; ok {
			summary.Phases[i].Status = r.Status
			summary.Phases[i].ExecutionTime = r.ExecutionTime
			summary.Phases[i].QualityScore = r.QualityScore
			summary.Phases[i].Attempts++
		} else {
			latest[r.PhaseID] = len(summary.Phases)
			summary.Phases = append(summary.Phases, PhaseTiming{
				Phase:         r.PhaseID,
				Status:        r.Status,
				ExecutionTime: r.ExecutionTime,
				QualityScore:  r.QualityScore,
				Attempts:      1,
			})
		}
	}
	for _, p := range summary.Phases {
		if p.Status == models.PhaseStatusCompleted && p.QualityScore != nil {
			qualitySum += *p.QualityScore
			scored++
		}
	}
	if scored > 0 {
		avg := qualitySum / float64(scored)
		summary.AverageQuality = &avg
	}
	return summary
}
