package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/brieflow/internal/events"
	"github.com/raphaelgruber/brieflow/internal/metrics"
	"github.com/raphaelgruber/brieflow/internal/models"
)

// Queue is the evidence queue of one case. Items are classified concurrently in the
// background; every state transition happens under the queue lock so readers never see a
// half-updated item.
type Queue struct {
	caseID  string
	profile Profile
	deps    *dependencies

	ctx    context.Context // queue lifetime
	cancel context.CancelFunc

	// writeMu orders a transition with its persistence so stored snapshots never go backwards.
	writeMu sync.Mutex

	mu      sync.RWMutex
	items   map[string]*models.EvidenceQueueItem
	order   []string
	cancels map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// dependencies are shared by every queue of a Manager.
type dependencies struct {
	classifier Classifier
	loader     Loader
	sizer      Sizer
	store      ItemStore
	sink       events.Sink
	metrics    *metrics.Collector
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() string
	sem        chan struct{}
}

func newQueue(caseID string, profile Profile, deps *dependencies) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		caseID:  caseID,
		profile: profile,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		items:   make(map[string]*models.EvidenceQueueItem),
		cancels: make(map[string]context.CancelFunc),
	}
}

// CaseID returns the case the queue belongs to.
func (q *Queue) CaseID() string { return q.caseID }

// CaseType returns the case type whose profile the queue applies.
func (q *Queue) CaseType() string { return q.profile.CaseType }

// Add creates a queued item and returns it immediately; classification happens out of band.
func (q *Queue) Add(ctx context.Context, fileRef, filename string, metadata map[string]any) (models.EvidenceQueueItem, error) {
	if fileRef == "" {
		return models.EvidenceQueueItem{}, fmt.Errorf("%w: file reference is required", ErrValidation)
	}
	if filename == "" {
		return models.EvidenceQueueItem{}, fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if q.deps.sizer != nil {
		size, err := q.deps.sizer(ctx, fileRef)
		switch {
		case err != nil:
			// An unreadable reference is queued and fails during classification.
			q.deps.logger.Debug("evidence size unknown", "case_id", q.caseID, "filename", filename, "error", err)
		case size == 0:
			return models.EvidenceQueueItem{}, fmt.Errorf("%w: %s is empty", ErrValidation, filename)
		}
	}

	item := &models.EvidenceQueueItem{
		ItemID:        q.deps.newID(),
		CaseID:        q.caseID,
		FileReference: fileRef,
		Filename:      filename,
		Metadata:      models.CloneMap(metadata),
		Status:        models.ItemQueued,
		QueuedAt:      q.deps.clock(),
	}

	q.writeMu.Lock()
	if q.isClosed() {
		q.writeMu.Unlock()
		return models.EvidenceQueueItem{}, ErrClosed
	}
	if q.deps.store != nil {
		if err := q.deps.store.SaveItem(ctx, *item); err != nil {
			q.writeMu.Unlock()
			return models.EvidenceQueueItem{}, err
		}
	}
	snapshot := q.insert(item)
	q.writeMu.Unlock()

	q.deps.logger.Info("evidence queued", "case_id", q.caseID, "item_id", item.ItemID, "filename", filename)
	q.emit(ctx, events.EvidenceQueued, snapshot)
	q.start(item.ItemID)
	return snapshot, nil
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// insert registers an item and creates its cancellation context.
func (q *Queue) insert(item *models.EvidenceQueueItem) models.EvidenceQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ItemID] = item
	q.order = append(q.order, item.ItemID)
	return item.Clone()
}

// start launches background processing of a queued item. Once the queue is closed the
// item is left queued for a later resume.
func (q *Queue) start(itemID string) {
	ctx, cancel := context.WithCancel(q.ctx)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return
	}
	q.cancels[itemID] = cancel
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		defer cancel()
		q.process(ctx, itemID)
	}()
}

// process runs one item through processing to completed or error.
func (q *Queue) process(ctx context.Context, itemID string) {
	select {
	case q.deps.sem <- struct{}{}:
		defer func() { <-q.deps.sem }()
	case <-ctx.Done():
		return
	}
	if ctx.Err() != nil {
		return
	}

	snapshot, ok := q.transition(ctx, itemID, models.ItemQueued, func(item *models.EvidenceQueueItem) {
		now := q.deps.clock()
		item.Status = models.ItemProcessing
		item.StartedAt = &now
	})
	if !ok {
		return
	}

	start := time.Now()
	classification, err := q.classify(ctx, snapshot)
	q.deps.metrics.Observe(metrics.OpClassify, start, err)

	if ctx.Err() != nil && err != nil {
		// Cancelled or shutting down; Cancel already recorded the new state.
		return
	}

	final, ok := q.transition(ctx, itemID, models.ItemProcessing, func(item *models.EvidenceQueueItem) {
		now := q.deps.clock()
		item.CompletedAt = &now
		if err != nil {
			item.Status = models.ItemError
			item.Error = err.Error()
			return
		}
		c := q.profile.Apply(classification)
		item.Status = models.ItemCompleted
		item.EvidenceClass = c.EvidenceClass
		item.EvidenceType = c.EvidenceType
		item.ClassificationConfidence = &c.Confidence
	})
	if !ok {
		return
	}

	if final.Status == models.ItemError {
		q.deps.logger.Warn("evidence classification failed", "case_id", q.caseID, "item_id", itemID, "error", final.Error)
		q.emit(ctx, events.EvidenceFailed, final)
		return
	}
	q.deps.logger.Info("evidence classified", "case_id", q.caseID, "item_id", itemID,
		"class", final.EvidenceClass, "type", final.EvidenceType)
	q.emit(ctx, events.EvidenceCompleted, final)
}

// classify loads and classifies an item. Panics in the loader or classifier become errors.
func (q *Queue) classify(ctx context.Context, item models.EvidenceQueueItem) (c models.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	content, err := q.deps.loader(ctx, item.FileReference)
	if err != nil {
		return models.Classification{}, err
	}
	if len(content) == 0 {
		return models.Classification{}, fmt.Errorf("%w: %s is empty", ErrValidation, item.Filename)
	}

	metadata := models.CloneMap(item.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["filename"] = item.Filename
	metadata["case_type"] = q.profile.CaseType
	return q.deps.classifier.Classify(ctx, content, metadata)
}

// transition applies mutate to an item currently in status from, persists the result and
// returns the new snapshot. It reports false when the item has moved on (e.g. cancelled).
func (q *Queue) transition(ctx context.Context, itemID string, from models.ItemStatus, mutate func(*models.EvidenceQueueItem)) (models.EvidenceQueueItem, bool) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	item, ok := q.items[itemID]
	if !ok || item.Status != from {
		q.mu.Unlock()
		return models.EvidenceQueueItem{}, false
	}
	mutate(item)
	snapshot := item.Clone()
	q.mu.Unlock()

	q.persist(ctx, snapshot)
	return snapshot, true
}

func (q *Queue) persist(ctx context.Context, item models.EvidenceQueueItem) {
	if q.deps.store == nil {
		return
	}
	if err := q.deps.store.SaveItem(context.WithoutCancel(ctx), item); err != nil {
		q.deps.logger.Warn("failed to persist evidence item", "case_id", q.caseID, "item_id", item.ItemID, "error", err)
	}
}

func (q *Queue) emit(ctx context.Context, eventType string, item models.EvidenceQueueItem) {
	data := map[string]any{
		"item_id":  item.ItemID,
		"filename": item.Filename,
		"status":   string(item.Status),
	}
	if item.Status == models.ItemCompleted {
		data["evidence_class"] = string(item.EvidenceClass)
		data["evidence_type"] = item.EvidenceType
	}
	if item.Error != "" {
		data["error"] = item.Error
	}
	q.deps.sink.Emit(ctx, events.Event{
		Type:       eventType,
		CaseID:     q.caseID,
		Data:       data,
		OccurredAt: q.deps.clock(),
	})
}

// Cancel stops an item that is still queued or processing. Cancelling a completed item
// is a no-op reported as CancelNoopCompleted.
func (q *Queue) Cancel(ctx context.Context, itemID string) (models.CancelOutcome, error) {
	q.writeMu.Lock()

	q.mu.Lock()
	item, ok := q.items[itemID]
	if !ok {
		q.mu.Unlock()
		q.writeMu.Unlock()
		return "", fmt.Errorf("item %s in case %s: %w", itemID, q.caseID, ErrItemNotFound)
	}
	switch item.Status {
	case models.ItemCompleted:
		q.mu.Unlock()
		q.writeMu.Unlock()
		return models.CancelNoopCompleted, nil
	case models.ItemError, models.ItemCancelled:
		q.mu.Unlock()
		q.writeMu.Unlock()
		return models.CancelNoopTerminal, nil
	}
	now := q.deps.clock()
	item.Status = models.ItemCancelled
	item.CompletedAt = &now
	snapshot := item.Clone()
	cancel := q.cancels[itemID]
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.persist(ctx, snapshot)
	q.writeMu.Unlock()

	q.deps.logger.Info("evidence cancelled", "case_id", q.caseID, "item_id", itemID)
	q.emit(ctx, events.EvidenceCancelled, snapshot)
	return models.CancelApplied, nil
}

// Item returns a copy of one item.
func (q *Queue) Item(itemID string) (models.EvidenceQueueItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[itemID]
	if !ok {
		return models.EvidenceQueueItem{}, fmt.Errorf("item %s in case %s: %w", itemID, q.caseID, ErrItemNotFound)
	}
	return item.Clone(), nil
}

// Items returns copies of every item in queue order.
func (q *Queue) Items() []models.EvidenceQueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.EvidenceQueueItem, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id].Clone())
	}
	return out
}

// Status computes the queue counters and derived statistics from the current items.
func (q *Queue) Status() models.QueueStatus {
	items := q.Items()
	status := models.QueueStatus{
		CaseID:                q.caseID,
		CaseType:              q.profile.CaseType,
		Total:                 len(items),
		EvidenceTypeBreakdown: make(map[string]int),
		CompletedItems:        []models.EvidenceQueueItem{},
	}

	var primary, confident int
	var confidenceSum float64
	for _, item := range items {
		switch item.Status {
		case models.ItemQueued:
			status.Queued++
		case models.ItemProcessing:
			status.Processing++
		case models.ItemCancelled:
			status.Cancelled++
		case models.ItemError:
			status.ErrorCount++
		case models.ItemCompleted:
			status.Completed++
			status.CompletedItems = append(status.CompletedItems, item)
			status.EvidenceTypeBreakdown[item.EvidenceType]++
			if item.EvidenceClass == models.EvidencePrimary {
				primary++
			}
			if item.ClassificationConfidence != nil {
				confident++
				confidenceSum += *item.ClassificationConfidence
			}
		}
	}
	if status.Completed > 0 {
		status.PrimaryPercentage = float64(primary) / float64(status.Completed) * 100
	}
	if confident > 0 {
		status.AverageConfidence = confidenceSum / float64(confident)
	}
	return status
}

// Facts summarizes classified evidence for workflow phases.
func (q *Queue) Facts() map[string]any {
	status := q.Status()
	breakdown := make(map[string]any, len(status.EvidenceTypeBreakdown))
	for t, n := range status.EvidenceTypeBreakdown {
		breakdown[t] = n
	}
	primaryFiles := []any{}
	for _, item := range status.CompletedItems {
		if item.EvidenceClass == models.EvidencePrimary {
			primaryFiles = append(primaryFiles, item.Filename)
		}
	}
	return map[string]any{
		"case_type":               status.CaseType,
		"total":                   status.Total,
		"completed":               status.Completed,
		"pending":                 status.Pending(),
		"error_count":             status.ErrorCount,
		"primary_percentage":      status.PrimaryPercentage,
		"average_confidence":      status.AverageConfidence,
		"evidence_type_breakdown": breakdown,
		"primary_evidence":        primaryFiles,
	}
}

// Wait blocks until every item started so far has left the queued and processing states,
// or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restore loads persisted items. Items interrupted while queued or processing are returned
// to queued and processed again.
func (q *Queue) restore(ctx context.Context, items []models.EvidenceQueueItem) int {
	var pending []string
	q.writeMu.Lock()
	for _, it := range items {
		item := it.Clone()
		if !item.Status.Terminal() {
			item.Status = models.ItemQueued
			item.StartedAt = nil
			pending = append(pending, item.ItemID)
			q.persist(ctx, item)
		}
		q.mu.Lock()
		if _, exists := q.items[item.ItemID]; !exists {
			q.items[item.ItemID] = &item
			q.order = append(q.order, item.ItemID)
		}
		q.mu.Unlock()
	}
	q.writeMu.Unlock()

	for _, id := range pending {
		q.start(id)
	}
	return len(pending)
}

// close stops accepting items, cancels in-flight work and waits for the workers to exit.
// Items interrupted this way stay queued or processing in storage so they can be resumed.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func sortByQueuedAt(items []models.EvidenceQueueItem) {
	slices.SortStableFunc(items, func(a, b models.EvidenceQueueItem) int {
		return a.QueuedAt.Compare(b.QueuedAt)
	})
}
