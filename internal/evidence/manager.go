package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/brieflow/internal/events"
	"github.com/raphaelgruber/brieflow/internal/metrics"
	"github.com/raphaelgruber/brieflow/internal/models"
)

// DefaultWorkers is the number of items classified concurrently across all cases.
const DefaultWorkers = 4

// Manager owns the queue of every case. Queues are created on first use and, when an
// ItemStore is configured, loaded back from storage after a restart.
type Manager struct {
	deps     *dependencies
	profiles map[string]Profile

	mu     sync.Mutex
	queues map[string]*Queue
}

// Option customizes a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	loader   Loader
	sizer    Sizer
	store    ItemStore
	sink     events.Sink
	metrics  *metrics.Collector
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
	workers  int
	profiles map[string]Profile
}

// WithLoader sets how file references are read. Defaults to ReadFile, which also enables
// the FileSize check unless WithSizer says otherwise.
func WithLoader(l Loader) Option {
	return func(c *managerConfig) { c.loader = l }
}

// WithSizer sets how Add learns the size of an upload.
func WithSizer(s Sizer) Option {
	return func(c *managerConfig) { c.sizer = s }
}

// WithItemStore persists queue state.
func WithItemStore(s ItemStore) Option {
	return func(c *managerConfig) { c.store = s }
}

// WithEventSink sets the sink receiving evidence events.
func WithEventSink(s events.Sink) Option {
	return func(c *managerConfig) { c.sink = s }
}

// WithMetrics records classification timings.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *managerConfig) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *managerConfig) { c.logger = l }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *managerConfig) { c.clock = clock }
}

// WithIDGenerator overrides item ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *managerConfig) { c.newID = fn }
}

// WithWorkers bounds concurrent classifications.
func WithWorkers(n int) Option {
	return func(c *managerConfig) { c.workers = n }
}

// WithProfiles overrides or extends the built-in case profiles.
func WithProfiles(profiles map[string]Profile) Option {
	return func(c *managerConfig) {
		for k, p := range profiles {
			c.profiles[strings.ToLower(k)] = p
		}
	}
}

// NewManager creates a queue manager that classifies items with classifier.
func NewManager(classifier Classifier, opts ...Option) *Manager {
	cfg := &managerConfig{
		clock:    time.Now,
		newID:    uuid.NewString,
		workers:  DefaultWorkers,
		profiles: DefaultProfiles(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.loader == nil {
		cfg.loader = ReadFile
		if cfg.sizer == nil {
			cfg.sizer = FileSize
		}
	}
	if classifier == nil {
		classifier = RuleClassifier{}
	}
	if cfg.sink == nil {
		cfg.sink = events.Nop{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.workers <= 0 {
		cfg.workers = DefaultWorkers
	}

	return &Manager{
		deps: &dependencies{
			classifier: classifier,
			loader:     cfg.loader,
			sizer:      cfg.sizer,
			store:      cfg.store,
			sink:       cfg.sink,
			metrics:    cfg.metrics,
			logger:     cfg.logger,
			clock:      cfg.clock,
			newID:      cfg.newID,
			sem:        make(chan struct{}, cfg.workers),
		},
		profiles: cfg.profiles,
		queues:   make(map[string]*Queue),
	}
}

func validateCaseID(caseID string) error {
	if caseID == "" {
		return fmt.Errorf("%w: case id is required", ErrValidation)
	}
	if strings.ContainsAny(caseID, "/\\") || caseID == "." || caseID == ".." {
		return fmt.Errorf("%w: invalid case id %q", ErrValidation, caseID)
	}
	return nil
}

// GetOrCreateQueue returns the queue of a case. A persisted queue is loaded (resuming
// unfinished items); otherwise a new queue is created with the profile of caseType.
// The case type of an existing queue is never changed.
func (m *Manager) GetOrCreateQueue(ctx context.Context, caseID, caseType string) (*Queue, error) {
	if err := validateCaseID(caseID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[caseID]; ok {
		return q, nil
	}
	q, err := m.loadLocked(ctx, caseID)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, ErrQueueNotFound) {
		return nil, err
	}

	profile := resolveProfile(m.profiles, caseType)
	if m.deps.store != nil {
		if err := m.deps.store.SaveQueue(ctx, caseID, profile.CaseType); err != nil {
			return nil, err
		}
	}
	q = newQueue(caseID, profile, m.deps)
	m.queues[caseID] = q
	m.deps.logger.Info("evidence queue created", "case_id", caseID, "case_type", profile.CaseType)
	return q, nil
}

// loadLocked restores a persisted queue into memory. Caller must hold m.mu.
func (m *Manager) loadLocked(ctx context.Context, caseID string) (*Queue, error) {
	if m.deps.store == nil {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrQueueNotFound)
	}
	caseType, items, err := m.deps.store.Load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	q := newQueue(caseID, resolveProfile(m.profiles, caseType), m.deps)
	resumed := q.restore(ctx, items)
	m.queues[caseID] = q
	m.deps.logger.Info("evidence queue loaded", "case_id", caseID, "items", len(items), "resumed", resumed)
	return q, nil
}

// Queue returns the queue of a case, loading it from storage if needed.
func (m *Manager) Queue(ctx context.Context, caseID string) (*Queue, error) {
	if err := validateCaseID(caseID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[caseID]; ok {
		return q, nil
	}
	return m.loadLocked(ctx, caseID)
}

// AddToQueue queues a file for classification, creating the case queue with the general
// profile if it does not exist yet.
func (m *Manager) AddToQueue(ctx context.Context, fileRef, filename, caseID string, metadata map[string]any) (models.EvidenceQueueItem, error) {
	q, err := m.GetOrCreateQueue(ctx, caseID, CaseGeneral)
	if err != nil {
		return models.EvidenceQueueItem{}, err
	}
	return q.Add(ctx, fileRef, filename, metadata)
}

// QueueStatus returns the current counters and derived statistics of a case.
func (m *Manager) QueueStatus(ctx context.Context, caseID string) (models.QueueStatus, error) {
	q, err := m.Queue(ctx, caseID)
	if err != nil {
		return models.QueueStatus{}, err
	}
	return q.Status(), nil
}

// CancelItem cancels a queued or processing item.
func (m *Manager) CancelItem(ctx context.Context, caseID, itemID string) (models.CancelOutcome, error) {
	q, err := m.Queue(ctx, caseID)
	if err != nil {
		return "", err
	}
	return q.Cancel(ctx, itemID)
}

// EvidenceFacts returns the classified facts of a case for the workflow coordinator.
// It reports false when the case has no queue.
func (m *Manager) EvidenceFacts(ctx context.Context, caseID string) (map[string]any, bool) {
	q, err := m.Queue(ctx, caseID)
	if err != nil {
		return nil, false
	}
	return q.Facts(), true
}

// Resume loads every persisted case and re-queues items a crash left unfinished.
// It returns the number of items re-queued.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	if m.deps.store == nil {
		return 0, nil
	}
	cases, err := m.deps.store.Cases(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	resumed := 0
	for _, caseID := range cases {
		if _, ok := m.queues[caseID]; ok {
			continue
		}
		caseType, items, err := m.deps.store.Load(ctx, caseID)
		if err != nil {
			m.deps.logger.Warn("failed to load evidence queue", "case_id", caseID, "error", err)
			continue
		}
		q := newQueue(caseID, resolveProfile(m.profiles, caseType), m.deps)
		resumed += q.restore(ctx, items)
		m.queues[caseID] = q
	}
	if resumed > 0 {
		m.deps.logger.Info("resumed evidence items", "cases", len(cases), "items", resumed)
	}
	return resumed, nil
}

// Cases returns the IDs of the queues held in memory, sorted.
func (m *Manager) Cases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.queues))
}

// Teardown cancels in-flight work of a case and deletes its persisted items.
func (m *Manager) Teardown(ctx context.Context, caseID string) error {
	if err := validateCaseID(caseID); err != nil {
		return err
	}
	m.mu.Lock()
	q, ok := m.queues[caseID]
	delete(m.queues, caseID)
	m.mu.Unlock()

	if ok {
		q.close()
	}
	if m.deps.store != nil {
		if err := m.deps.store.Delete(ctx, caseID); err != nil {
			return err
		}
	}
	m.deps.logger.Info("evidence queue torn down", "case_id", caseID)
	return nil
}

// Close stops every queue. Unfinished items remain persisted for Resume.
func (m *Manager) Close() {
	m.mu.Lock()
	queues := slices.Collect(maps.Values(m.queues))
	m.queues = make(map[string]*Queue)
	m.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
}
