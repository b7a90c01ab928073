// Package workflow drives the phase state machine of document-production sessions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raphaelgruber/brieflow/internal/checkpoint"
	"github.com/raphaelgruber/brieflow/internal/events"
	"github.com/raphaelgruber/brieflow/internal/metrics"
	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/packet"
)

const (
	// DefaultPhaseTimeout bounds a single collaborator call.
	DefaultPhaseTimeout = 10 * time.Minute

	// DefaultPacketBudget is the token budget of context packets handed to drafting phases.
	DefaultPacketBudget = 2000
)

// Global context keys written by the coordinator.
const (
	ContextKeyEvidence      = "evidence"
	ContextKeyContextPacket = "context_packet"
	ContextKeySections      = "sections"
	ContextKeyCaseName      = "case_name"
	ContextKeyCaseType      = "case_type"
)

// DefaultPacketPhases receive a context packet unless configured otherwise.
var DefaultPacketPhases = []models.Phase{models.PhaseDrafting, models.PhaseEditing, models.PhaseCompilation}

var validate = validator.New(validator.WithRequiredStructEnabled())

// EvidenceSource supplies classified evidence facts for a case.
type EvidenceSource interface {
	EvidenceFacts(ctx context.Context, caseID string) (map[string]any, bool)
}

// StartRequest describes a new case entering the pipeline.
type StartRequest struct {
	CaseName              string         `json:"case_name" validate:"required"`
	CaseID                string         `json:"case_id,omitempty" validate:"omitempty,excludesall=/\\"`
	CaseType              string         `json:"case_type,omitempty"`
	KnowledgeGraphID      string         `json:"knowledge_graph_id,omitempty"`
	InputDocuments        []string       `json:"input_documents,omitempty" validate:"omitempty,dive,required"`
	HumanFeedbackRequired bool           `json:"human_feedback_required,omitempty"`
	Context               map[string]any `json:"context,omitempty"`
}

// Coordinator owns the workflow sessions of a process. Phases of one session run strictly
// one at a time; different sessions proceed in parallel.
type Coordinator struct {
	registry     *Registry
	checkpoints  *checkpoint.Manager
	evidence     EvidenceSource
	sink         events.Sink
	logger       *slog.Logger
	metrics      *metrics.Collector
	clock        func() time.Time
	newID        func() string
	phaseTimeout time.Duration
	packetBudget int
	packetPhases []models.Phase
	packetOpts   []packet.Option

	mu       sync.Mutex
	sessions map[string]*models.WorkflowSession
	running  map[string]struct{}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithEvidence merges case evidence facts into the global context before every phase.
func WithEvidence(src EvidenceSource) Option {
	return func(c *Coordinator) { c.evidence = src }
}

// WithEventSink sets the sink receiving workflow events.
func WithEventSink(s events.Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithPhaseTimeout bounds each collaborator call. Zero or negative disables the bound.
func WithPhaseTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.phaseTimeout = d }
}

// WithPacketBudget sets the context packet budget and, when given, the phases that receive
// a packet. A budget of zero or less disables packets.
func WithPacketBudget(budget int, phases ...models.Phase) Option {
	return func(c *Coordinator) {
		c.packetBudget = budget
		if len(phases) > 0 {
			c.packetPhases = slices.Clone(phases)
		}
	}
}

// WithPacketOptions configures the packet builder (for example a custom cost function).
func WithPacketOptions(opts ...packet.Option) Option {
	return func(c *Coordinator) { c.packetOpts = append(c.packetOpts, opts...) }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records phase execution timings.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New creates a coordinator that runs phases through registry and persists sessions
// through checkpoints.
func New(registry *Registry, checkpoints *checkpoint.Manager, opts ...Option) (*Coordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrValidation)
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("%w: checkpoint manager is required", ErrValidation)
	}
	c := &Coordinator{
		registry:     registry,
		checkpoints:  checkpoints,
		sink:         events.Nop{},
		logger:       slog.Default(),
		clock:        time.Now,
		newID:        uuid.NewString,
		phaseTimeout: DefaultPhaseTimeout,
		packetBudget: DefaultPacketBudget,
		packetPhases: slices.Clone(DefaultPacketPhases),
		sessions:     make(map[string]*models.WorkflowSession),
		running:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartWorkflow creates a session positioned at the first phase and checkpoints it.
func (c *Coordinator) StartWorkflow(ctx context.Context, req StartRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := c.clock()
	id := c.newID()
	caseID := req.CaseID
	if caseID == "" {
		caseID = id
	}
	global, err := models.NormalizeMap(req.Context)
	if err != nil {
		return "", fmt.Errorf("%w: context: %w", ErrValidation, err)
	}
	if global == nil {
		global = make(map[string]any)
	}
	global[ContextKeyCaseName] = req.CaseName
	if req.CaseType != "" {
		global[ContextKeyCaseType] = req.CaseType
	}

	session := &models.WorkflowSession{
		SessionID:             id,
		CaseID:                caseID,
		CaseName:              req.CaseName,
		CurrentPhase:          models.FirstPhase(),
		OverallStatus:         models.SessionActive,
		CompletedPhases:       []models.Phase{},
		FailedPhases:          []models.Phase{},
		GlobalContext:         global,
		KnowledgeGraphID:      req.KnowledgeGraphID,
		InputDocuments:        slices.Clone(req.InputDocuments),
		PendingApprovals:      []string{},
		HumanFeedbackRequired: req.HumanFeedbackRequired,
		History:               []models.PhaseResult{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if session.InputDocuments == nil {
		session.InputDocuments = []string{}
	}

	info, err := c.checkpoints.Create(context.WithoutCancel(ctx), session)
	if err != nil {
		return "", fmt.Errorf("%w: initial checkpoint: %w", ErrStorage, err)
	}

	c.mu.Lock()
	c.sessions[id] = session
	c.mu.Unlock()

	c.logger.Info("workflow started", "session_id", id, "case_id", caseID, "case_name", req.CaseName)
	c.emit(ctx, events.WorkflowStarted, session, map[string]any{"case_name": req.CaseName})
	c.emit(ctx, events.CheckpointCreated, session, map[string]any{"key": info.Key})
	return id, nil
}

// OrchestratePhase runs phase for the session. Only the session's current phase may run;
// a failed session may retry its current phase. A failing collaborator does not produce an
// error: the returned result has status failed and the session is marked failed. An error
// is returned for rejected requests and when the new state could not be made durable at all.
func (c *Coordinator) OrchestratePhase(ctx context.Context, sessionID string, phase models.Phase) (models.PhaseResult, error) {
	if !phase.Valid() {
		return models.PhaseResult{}, fmt.Errorf("%w: unknown phase %q", ErrValidation, phase)
	}
	session, release, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.PhaseResult{}, err
	}
	defer release()

	if session.OverallStatus == models.SessionCompleted {
		return models.PhaseResult{}, fmt.Errorf("session %s: %w", sessionID, ErrWorkflowCompleted)
	}
	if phase != session.CurrentPhase {
		return models.PhaseResult{}, fmt.Errorf("session %s: requested %s, expected %s: %w",
			sessionID, phase, session.CurrentPhase, ErrOutOfOrder)
	}
	stage, ok := c.registry.Lookup(phase)
	if !ok {
		return models.PhaseResult{}, fmt.Errorf("phase %s: %w", phase, ErrNoCollaborator)
	}

	input := c.prepareContext(ctx, session, phase)

	c.logger.Info("phase started", "session_id", sessionID, "phase", phase)
	c.emit(ctx, events.PhaseStarted, session, map[string]any{"phase": string(phase)})

	start := time.Now()
	raw, runErr := c.runStage(ctx, stage, phase, input)
	elapsed := time.Since(start)
	result := normalizeResult(raw, runErr, phase, elapsed, c.clock())

	hadCheckpoint := session.LastCheckpoint != nil
	c.apply(session, result)

	info, cpErr := c.checkpoints.Create(context.WithoutCancel(ctx), session)
	c.commit(session)

	if result.Status == models.PhaseStatusFailed {
		c.metrics.RecordFailure(metrics.OpPhaseExecute, elapsed)
		c.logger.Warn("phase failed", "session_id", sessionID, "phase", phase, "duration", elapsed, "error", result.Error)
		c.emit(ctx, events.PhaseFailed, session, map[string]any{"phase": string(phase), "error": result.Error})
	} else {
		c.metrics.RecordTiming(metrics.OpPhaseExecute, elapsed)
		c.logger.Info("phase completed", "session_id", sessionID, "phase", phase, "duration", elapsed)
		c.emit(ctx, events.PhaseCompleted, session, map[string]any{"phase": string(phase)})
		if session.OverallStatus == models.SessionCompleted {
			c.logger.Info("workflow completed", "session_id", sessionID)
			c.emit(ctx, events.WorkflowCompleted, session, nil)
		}
	}

	if cpErr != nil {
		if !hadCheckpoint {
			return result.Clone(), fmt.Errorf("%w: session %s is not recoverable: %w", ErrStorage, sessionID, cpErr)
		}
		c.logger.Warn("checkpoint after phase failed; latest durable state is older",
			"session_id", sessionID, "phase", phase, "error", cpErr)
	} else {
		c.emit(ctx, events.CheckpointCreated, session, map[string]any{"key": info.Key})
	}
	return result.Clone(), nil
}

// RunRemaining runs every remaining phase in order and stops after the first failure.
func (c *Coordinator) RunRemaining(ctx context.Context, sessionID string) ([]models.PhaseResult, error) {
	var results []models.PhaseResult
	for {
		status, err := c.GetWorkflowStatus(ctx, sessionID)
		if err != nil {
			return results, err
		}
		if status.Status == models.SessionCompleted {
			return results, nil
		}
		result, err := c.OrchestratePhase(ctx, sessionID, status.CurrentPhase)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if result.Status == models.PhaseStatusFailed {
			return results, nil
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
}

// prepareContext refreshes evidence facts on the session and returns the private input
// context for the collaborator, which may additionally carry a context packet.
func (c *Coordinator) prepareContext(ctx context.Context, session *models.WorkflowSession, phase models.Phase) map[string]any {
	if session.GlobalContext == nil {
		session.GlobalContext = make(map[string]any)
	}
	if c.evidence != nil {
		if facts, ok := c.evidence.EvidenceFacts(ctx, session.CaseID); ok {
			normalized, err := models.NormalizeMap(facts)
			if err != nil {
				c.logger.Warn("ignoring evidence facts", "session_id", session.SessionID, "case_id", session.CaseID, "error", err)
			} else {
				session.GlobalContext[ContextKeyEvidence] = normalized
			}
		}
	}

	input := models.CloneMap(session.GlobalContext)
	if c.packetBudget <= 0 || !slices.Contains(c.packetPhases, phase) {
		return input
	}
	raw, ok := input[ContextKeySections]
	if !ok {
		return input
	}
	nodes, err := packet.SectionsFromValue(raw)
	if err != nil {
		c.logger.Warn("ignoring malformed sections", "session_id", session.SessionID, "phase", phase, "error", err)
		return input
	}
	builder := packet.NewBuilder(c.packetOpts...)
	for _, n := range nodes {
		if err := builder.AddSection(n); err != nil {
			c.logger.Warn("skipping section", "session_id", session.SessionID, "section_id", n.SectionID, "error", err)
		}
	}
	pkt, err := packet.AsContext(builder.Build(c.packetBudget))
	if err != nil {
		c.logger.Warn("failed to encode context packet", "session_id", session.SessionID, "error", err)
		return input
	}
	input[ContextKeyContextPacket] = pkt
	return input
}

type stageOutcome struct {
	result models.PhaseResult
	err    error
}

// runStage calls the collaborator under the phase timeout. A collaborator that ignores
// cancellation is abandoned when the deadline passes; a panic is converted to an error.
func (c *Coordinator) runStage(ctx context.Context, stage StageCollaborator, phase models.Phase, input map[string]any) (models.PhaseResult, error) {
	if c.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.phaseTimeout)
		defer cancel()
	}

	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageOutcome{err: fmt.Errorf("collaborator panic: %v", r)}
			}
		}()
		res, err := stage.Execute(ctx, phase, input)
		done <- stageOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.PhaseResult{}, fmt.Errorf("phase %s timed out after %s", phase, c.phaseTimeout)
		}
		return models.PhaseResult{}, fmt.Errorf("phase %s: %w", phase, ctx.Err())
	}
}

// normalizeResult turns whatever the collaborator returned into a final PhaseResult.
func normalizeResult(raw models.PhaseResult, err error, phase models.Phase, elapsed time.Duration, now time.Time) models.PhaseResult {
	result := raw.Clone()
	result.PhaseID = phase
	result.ExecutionTime = elapsed
	result.Timestamp = now
	if result.QualityScore != nil {
		q := min(max(*result.QualityScore, 0), 1)
		result.QualityScore = &q
	}
	output, encErr := models.NormalizeMap(result.OutputData)
	result.OutputData = output
	if encErr != nil && err == nil {
		result.OutputData = nil
		err = fmt.Errorf("phase output: %w", encErr)
	}

	switch {
	case err != nil:
		result.Status = models.PhaseStatusFailed
		result.Error = err.Error()
	case result.Status == "":
		result.Status = models.PhaseStatusCompleted
	case result.Status == models.PhaseStatusInProgress:
		result.Status = models.PhaseStatusFailed
		result.Error = "collaborator returned without finishing the phase"
	case result.Status == models.PhaseStatusFailed && result.Error == "":
		result.Error = "collaborator reported failure"
	}
	return result
}

// apply records result on the session copy and advances the state machine.
func (c *Coordinator) apply(session *models.WorkflowSession, result models.PhaseResult) {
	phase := result.PhaseID
	session.History = append(session.History, result.Clone())
	session.UpdatedAt = result.Timestamp

	if result.Status == models.PhaseStatusFailed {
		session.MarkFailed(phase)
		session.OverallStatus = models.SessionFailed
		return
	}

	if !session.HasCompleted(phase) {
		session.CompletedPhases = append(session.CompletedPhases, phase)
	}
	session.ClearFailed(phase)
	maps.Copy(session.GlobalContext, models.CloneMap(result.OutputData))
	delete(session.GlobalContext, ContextKeyContextPacket)

	session.CurrentPhase = session.ExpectedPhase()
	if len(session.CompletedPhases) == len(models.PhaseSequence) {
		session.OverallStatus = models.SessionCompleted
	} else {
		session.OverallStatus = models.SessionActive
	}
}

// acquire marks the session as busy and returns a private copy to mutate.
func (c *Coordinator) acquire(ctx context.Context, sessionID string) (*models.WorkflowSession, func(), error) {
	if _, err := c.lookup(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[sessionID]; busy {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, ErrPhaseInProgress)
	}
	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	c.running[sessionID] = struct{}{}
	release := func() {
		c.mu.Lock()
		delete(c.running, sessionID)
		c.mu.Unlock()
	}
	return session.Clone(), release, nil
}

// commit publishes the mutated copy as the session's current state.
func (c *Coordinator) commit(session *models.WorkflowSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.SessionID] = session.Clone()
}

// lookup returns the in-memory session, restoring it from its latest checkpoint when this
// process has not seen it yet.
func (c *Coordinator) lookup(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return session, nil
	}

	restored, err := c.checkpoints.Restore(ctx, sessionID, nil)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: restore session %s: %w", ErrStorage, sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[sessionID]; ok {
		return existing, nil
	}
	c.sessions[sessionID] = restored
	c.logger.Info("session restored from checkpoint", "session_id", sessionID, "current_phase", restored.CurrentPhase)
	return restored, nil
}

// Session returns a copy of the session state.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	if _, err := c.lookup(ctx, sessionID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return session.Clone(), nil
}

// ListSessions returns the IDs of sessions in memory or in checkpoint storage, sorted.
func (c *Coordinator) ListSessions(ctx context.Context) ([]string, error) {
	stored, err := c.checkpoints.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	c.mu.Lock()
	ids := slices.Collect(maps.Keys(c.sessions))
	c.mu.Unlock()
	ids = append(ids, stored...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Checkpoint writes a checkpoint of the session's current state on demand.
func (c *Coordinator) Checkpoint(ctx context.Context, sessionID string) (models.CheckpointInfo, error) {
	session, release, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.CheckpointInfo{}, err
	}
	defer release()

	info, err := c.checkpoints.Create(ctx, session)
	if err != nil {
		return models.CheckpointInfo{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	c.commit(session)
	c.emit(ctx, events.CheckpointCreated, session, map[string]any{"key": info.Key})
	return info, nil
}

// ResumeSession replaces the in-memory state of a session with a checkpoint: the one taken
// at the given time, or the latest when at is nil.
func (c *Coordinator) ResumeSession(ctx context.Context, sessionID string, at *time.Time) (*models.WorkflowSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	restored, err := c.checkpoints.Restore(ctx, sessionID, at)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[sessionID]; busy {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrPhaseInProgress)
	}
	c.sessions[sessionID] = restored
	c.logger.Info("session resumed", "session_id", sessionID, "current_phase", restored.CurrentPhase, "status", restored.OverallStatus)
	return restored.Clone(), nil
}

// DeleteSession removes the session and all of its checkpoints.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	c.mu.Lock()
	if _, busy := c.running[sessionID]; busy {
		c.mu.Unlock()
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrPhaseInProgress)
	}
	session, inMemory := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	removed, err := c.checkpoints.DeleteAll(ctx, sessionID)
	if err != nil {
		return removed, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !inMemory && removed == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if session == nil {
		session = &models.WorkflowSession{SessionID: sessionID}
	}
	c.logger.Info("session deleted", "session_id", sessionID, "checkpoints", removed)
	c.emit(ctx, events.SessionDeleted, session, map[string]any{"checkpoints_removed": removed})
	return removed, nil
}

func (c *Coordinator) emit(ctx context.Context, eventType string, session *models.WorkflowSession, data map[string]any) {
	c.sink.Emit(ctx, events.Event{
		Type:       eventType,
		SessionID:  session.SessionID,
		CaseID:     session.CaseID,
		Data:       data,
		OccurredAt: c.clock(),
	})
}
