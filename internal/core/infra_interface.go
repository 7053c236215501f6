package core

import (
	"context"
	"io"

	"github.com/markdave123-py/studykb/internal/models"
)

// DbClient defines all persistence operations the knowledge base needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error)
	UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error
	SearchDocuments(ctx context.Context, q models.DocumentSearch) ([]models.DocumentMatch, error)
	RecordDocumentAccess(ctx context.Context, ids []string) error
	SoftDeleteDocument(ctx context.Context, id string) error

	InsertDocumentChunks(ctx context.Context, chunks []models.Chunk) error
	// ReplaceDocumentChunks deletes every chunk of the document and inserts
	// the given ones as a single all-or-nothing write.
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
