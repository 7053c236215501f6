package core

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/studykb/internal/models"
)

var (
	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedType indicates a document type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrInvalidTransition is returned for illegal processing-status changes.
	ErrInvalidTransition = models.ErrInvalidTransition
)

// Error categories recorded on failed documents.
const (
	CategoryExtraction = "extraction"
	CategoryOCR        = "ocr"
	CategoryEmbedding  = "embedding"
	CategoryPersist    = "persistence"
	CategoryStorage    = "storage"
	CategoryUpstream   = "upstream"
	CategoryInternal   = "internal"
)

// ExtractionError means the parser could not read the binary. Fatal for the
// ingestion attempt and never retried automatically.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}
func (e *ExtractionError) Unwrap() error    { return e.Err }
func (e *ExtractionError) Category() string { return CategoryExtraction }

// OcrError is isolated to a single image and never fails a document.
type OcrError struct {
	Image string
	Err   error
}

func (e *OcrError) Error() string {
	return fmt.Sprintf("ocr %s: %v", e.Image, e.Err)
}
func (e *OcrError) Unwrap() error    { return e.Err }
func (e *OcrError) Category() string { return CategoryOCR }

// EmbeddingBatchError reports the batch that failed. Nothing is persisted.
type EmbeddingBatchError struct {
	Batch int
	Err   error
}

func (e *EmbeddingBatchError) Error() string {
	return fmt.Sprintf("embedding batch %d: %v", e.Batch, e.Err)
}
func (e *EmbeddingBatchError) Unwrap() error    { return e.Err }
func (e *EmbeddingBatchError) Category() string { return CategoryEmbedding }

// PersistenceError wraps chunk or document write failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}
func (e *PersistenceError) Unwrap() error    { return e.Err }
func (e *PersistenceError) Category() string { return CategoryPersist }

// StorageError wraps blob store failures.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Key, e.Err)
}
func (e *StorageError) Unwrap() error    { return e.Err }
func (e *StorageError) Category() string { return CategoryStorage }

// RetrievalUpstreamError is a failed answer-generation call. It is a
// request-level failure and never touches document state.
type RetrievalUpstreamError struct {
	Err error
}

func (e *RetrievalUpstreamError) Error() string {
	return fmt.Sprintf("answer generation: %v", e.Err)
}
func (e *RetrievalUpstreamError) Unwrap() error    { return e.Err }
func (e *RetrievalUpstreamError) Category() string { return CategoryUpstream }

type categorized interface {
	Category() string
}

// ErrorCategory classifies err for the document's processing error field.
func ErrorCategory(err error) string {
	var c categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return CategoryInternal
}
