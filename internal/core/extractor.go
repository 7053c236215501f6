package core

import (
	"context"
	"time"

	"github.com/markdave123-py/studykb/internal/models"
)

// ExtractedText represents the result of text extraction with metadata.
type ExtractedText struct {
	FullText string
	Pages    []models.Page
	Metadata ExtractMetadata
}

// ExtractMetadata holds document properties found by the parser.
type ExtractMetadata struct {
	PageCount    int
	Author       string
	CreatedDate  *time.Time
	ModifiedDate *time.Time
}

// DocumentExtractor turns a stored binary into per-page plain text.
type DocumentExtractor interface {
	// Extract picks a format adapter from the document's declared type and
	// content type. Unreadable input fails with *ExtractionError.
	Extract(ctx context.Context, doc *models.Document, data []byte) (*ExtractedText, error)
}

// ChunkCache memoises AI chunking results keyed by a content hash. Entries
// are immutable once written.
type ChunkCache interface {
	Get(ctx context.Context, key string) ([]models.ChunkProposal, bool)
	Set(ctx context.Context, key string, chunks []models.ChunkProposal)
}
