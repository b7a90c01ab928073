// Package evidence implements the per-case asynchronous evidence ingestion queue.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/brieflow/internal/models"
)

var (
	// ErrValidation indicates a malformed request such as an empty upload.
	ErrValidation = errors.New("validation error")

	// ErrQueueNotFound indicates no queue exists for the case.
	ErrQueueNotFound = errors.New("evidence queue not found")

	// ErrItemNotFound indicates the item is not part of the queue.
	ErrItemNotFound = errors.New("evidence item not found")

	// ErrClosed indicates the queue no longer accepts items.
	ErrClosed = errors.New("evidence queue closed")
)

// Classifier is the classification service consulted for every queued item.
type Classifier interface {
	Classify(ctx context.Context, content []byte, metadata map[string]any) (models.Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, content []byte, metadata map[string]any) (models.Classification, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, content []byte, metadata map[string]any) (models.Classification, error) {
	return f(ctx, content, metadata)
}

// Loader fetches the bytes behind a file reference.
type Loader func(ctx context.Context, fileRef string) ([]byte, error)

// ReadFile is the default Loader. It treats the file reference as a local path.
func ReadFile(ctx context.Context, fileRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fileRef)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileRef, err)
	}
	return data, nil
}

// Sizer reports the size of the content behind a file reference without reading it. It lets
// Add reject empty uploads before they are queued.
type Sizer func(ctx context.Context, fileRef string) (int64, error)

// FileSize is the default Sizer paired with ReadFile.
func FileSize(ctx context.Context, fileRef string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(fileRef)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", fileRef, err)
	}
	return info.Size(), nil
}
