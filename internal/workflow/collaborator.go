package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// StageCollaborator executes one phase. The global context passed in is a private copy the
// collaborator may read freely. A returned error or a result with status failed marks the
// phase as failed.
type StageCollaborator interface {
	Execute(ctx context.Context, phase models.Phase, globalContext map[string]any) (models.PhaseResult, error)
}

// StageFunc adapts a function to StageCollaborator.
type StageFunc func(ctx context.Context, phase models.Phase, globalContext map[string]any) (models.PhaseResult, error)

// Execute implements StageCollaborator.
func (f StageFunc) Execute(ctx context.Context, phase models.Phase, globalContext map[string]any) (models.PhaseResult, error) {
	return f(ctx, phase, globalContext)
}

// OutputProducer is the shape of simpler stage implementations that only return output data.
type OutputProducer interface {
	Produce(ctx context.Context, globalContext map[string]any) (map[string]any, error)
}

// ProducerFunc adapts a function to OutputProducer.
type ProducerFunc func(ctx context.Context, globalContext map[string]any) (map[string]any, error)

// Produce implements OutputProducer.
func (f ProducerFunc) Produce(ctx context.Context, globalContext map[string]any) (map[string]any, error) {
	return f(ctx, globalContext)
}

type producerStage struct {
	producer OutputProducer
}

func (s producerStage) Execute(ctx context.Context, phase models.Phase, globalContext map[string]any) (models.PhaseResult, error) {
	out, err := s.producer.Produce(ctx, globalContext)
	if err != nil {
		return models.PhaseResult{}, err
	}
	return models.PhaseResult{PhaseID: phase, Status: models.PhaseStatusCompleted, OutputData: out}, nil
}

// Registry maps phases to their collaborators. Supported implementation shapes are
// resolved once, when registered.
type Registry struct {
	mu     sync.RWMutex
	stages map[models.Phase]StageCollaborator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[models.Phase]StageCollaborator)}
}

// Register binds impl to phase. impl may be a StageCollaborator, an OutputProducer, or a
// function matching either signature.
func (r *Registry) Register(phase models.Phase, impl any) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, phase)
	}
	stage, err := adapt(impl)
	if err != nil {
		return fmt.Errorf("register %s: %w", phase, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[phase] = stage
	return nil
}

// RegisterAll binds the same collaborator to every phase.
func (r *Registry) RegisterAll(impl any) error {
	for _, p := range models.PhaseSequence {
		if err := r.Register(p, impl); err != nil {
			return err
		}
	}
	return nil
}

func adapt(impl any) (StageCollaborator, error) {
	switch v := impl.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil collaborator", ErrValidation)
	case StageCollaborator:
		return v, nil
	case func(context.Context, models.Phase, map[string]any) (models.PhaseResult, error):
		return StageFunc(v), nil
	case OutputProducer:
		return producerStage{producer: v}, nil
	case func(context.Context, map[string]any) (map[string]any, error):
		return producerStage{producer: ProducerFunc(v)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported collaborator type %T", ErrValidation, impl)
	}
}

// Lookup returns the collaborator of a phase.
func (r *Registry) Lookup(phase models.Phase) (StageCollaborator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[phase]
	return s, ok
}
