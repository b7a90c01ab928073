package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/store"
)

// ItemStore persists queue state so a case survives a restart.
type ItemStore interface {
	SaveQueue(ctx context.Context, caseID, caseType string) error
	SaveItem(ctx context.Context, item models.EvidenceQueueItem) error
	// Load returns the case type and items of a persisted queue, or ErrQueueNotFound.
	Load(ctx context.Context, caseID string) (string, []models.EvidenceQueueItem, error)
	Cases(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, caseID string) error
}

const (
	evidencePrefix = "evidence/"
	queueBlob      = "queue.json"
)

type queueRecord struct {
	CaseID   string `json:"case_id"`
	CaseType string `json:"case_type"`
}

// BlobItemStore keeps queue state as JSON blobs: evidence/<case>/queue.json for the queue
// and evidence/<case>/<item>.json per item.
type BlobItemStore struct {
	blobs store.DurableStore
}

// NewBlobItemStore creates an ItemStore over a DurableStore.
func NewBlobItemStore(blobs store.DurableStore) *BlobItemStore {
	return &BlobItemStore{blobs: blobs}
}

func casePrefix(caseID string) string {
	return evidencePrefix + caseID + "/"
}

// SaveQueue implements ItemStore.
func (s *BlobItemStore) SaveQueue(ctx context.Context, caseID, caseType string) error {
	data, err := json.Marshal(queueRecord{CaseID: caseID, CaseType: caseType})
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if err := s.blobs.Put(ctx, casePrefix(caseID)+queueBlob, data); err != nil {
		return fmt.Errorf("save queue %s: %w", caseID, err)
	}
	return nil
}

// SaveItem implements ItemStore.
func (s *BlobItemStore) SaveItem(ctx context.Context, item models.EvidenceQueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if err := s.blobs.Put(ctx, casePrefix(item.CaseID)+item.ItemID+".json", data); err != nil {
		return fmt.Errorf("save item %s: %w", item.ItemID, err)
	}
	return nil
}

// Load implements ItemStore. Items come back ordered by queue time.
func (s *BlobItemStore) Load(ctx context.Context, caseID string) (string, []models.EvidenceQueueItem, error) {
	raw, err := s.blobs.Get(ctx, casePrefix(caseID)+queueBlob)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("case %s: %w", caseID, ErrQueueNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("load queue %s: %w", caseID, err)
	}
	var rec queueRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", nil, fmt.Errorf("decode queue %s: %w", caseID, err)
	}

	infos, err := s.blobs.List(ctx, casePrefix(caseID))
	if err != nil {
		return "", nil, fmt.Errorf("list items %s: %w", caseID, err)
	}
	items := make([]models.EvidenceQueueItem, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, casePrefix(caseID))
		if name == queueBlob || strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := s.blobs.Get(ctx, info.Key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("load item %s: %w", info.Key, err)
		}
		var item models.EvidenceQueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return "", nil, fmt.Errorf("decode item %s: %w", info.Key, err)
		}
		items = append(items, item)
	}
	sortByQueuedAt(items)
	return rec.CaseType, items, nil
}

// Cases implements ItemStore.
func (s *BlobItemStore) Cases(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, evidencePrefix)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	var cases []string
	for _, info := range infos {
		caseID, name, ok := strings.Cut(strings.TrimPrefix(info.Key, evidencePrefix), "/")
		if ok && name == queueBlob {
			cases = append(cases, caseID)
		}
	}
	return cases, nil
}

// Delete implements ItemStore. Missing blobs are ignored.
func (s *BlobItemStore) Delete(ctx context.Context, caseID string) error {
	infos, err := s.blobs.List(ctx, casePrefix(caseID))
	if err != nil {
		return fmt.Errorf("list items %s: %w", caseID, err)
	}
	var errs []error
	for _, info := range infos {
		if err := s.blobs.Delete(ctx, info.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete case %s: %w", caseID, errors.Join(errs...))
	}
	return nil
}
