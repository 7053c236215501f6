package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/studykb/internal/core/object-client"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

// KnowledgeService is what the rest of the application calls: admit
// documents, report their processing state, answer questions over them.
type KnowledgeService struct {
	db        core.DbClient
	storage   core.ObjectClient
	bucket    string
	ingestor  ingestion_engine.Ingestor
	retriever *retrieval.Engine
	log       logger.Logger
}

func NewKnowledgeService(db core.DbClient, storage core.ObjectClient, bucket string, ing ingestion_engine.Ingestor, retriever *retrieval.Engine, log logger.Logger) *KnowledgeService {
	return &KnowledgeService{db: db, storage: storage, bucket: bucket, ingestor: ing, retriever: retriever, log: log.Named("knowledge")}
}

// NewDocument describes a file being added to the knowledge base.
type NewDocument struct {
	OwnerID     string
	SubjectID   string
	Title       string
	Description string
	FileName    string
	ContentType string
	Type        models.DocumentType
	Visibility  models.Visibility
}

// AddDocument stores the binary, records a pending document and enqueues it.
func (s *KnowledgeService) AddDocument(ctx context.Context, in NewDocument, data []byte) (*models.Document, error) {
	docType := in.Type
	if docType == "" {
		docType = models.DetectDocumentType(in.FileName, in.ContentType)
	}
	if docType == "" {
		return nil, fmt.Errorf("%s: %w", in.FileName, core.ErrUnsupportedType)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(path.Base(in.FileName), path.Ext(in.FileName))
	}

	docID := uuid.NewString()
	key := s.objectKey(in.OwnerID, docID, in.FileName)
	url, err := s.storage.UploadFile(ctx, s.bucket, key, data, in.ContentType)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          docID,
		OwnerID:     in.OwnerID,
		SubjectID:   in.SubjectID,
		Title:       title,
		Description: in.Description,
		Type:        docType,
		FileName:    in.FileName,
		StorageURL:  url,
		FileSize:    int64(len(data)),
		ContentType: in.ContentType,
		Visibility:  in.Visibility,
		Processing:  models.NewProcessingState(),
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.DeleteFile(ctx, s.bucket, key); derr != nil {
			s.log.Warn("could not remove orphaned upload", logger.String("key", key), logger.Error(derr))
		}
		return nil, &core.PersistenceError{Op: "create document", Err: err}
	}

	s.ingestor.Enqueue(doc.ID)
	s.log.Info("document added", logger.String("document_id", doc.ID), logger.String("type", string(doc.Type)))
	return doc, nil
}

// EnqueueIngestion admits a document to the pipeline. Pending documents are
// queued as they are; completed or failed ones are reset first.
func (s *KnowledgeService) EnqueueIngestion(ctx context.Context, docID string) error {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Processing.Status == models.StatusPending {
		s.ingestor.Enqueue(docID)
		return nil
	}
	return s.ingestor.Reingest(ctx, docID)
}

func (s *KnowledgeService) GetProcessingStatus(ctx context.Context, docID string) (*models.ProcessingState, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	st := doc.Processing
	return &st, nil
}

func (s *KnowledgeService) Get(ctx context.Context, docID string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, docID)
}

func (s *KnowledgeService) RetrieveAndAnswer(ctx context.Context, question string, opts retrieval.Options) (*retrieval.Answer, error) {
	return s.retriever.Answer(ctx, question, opts)
}

// DeleteDocument hides the document, drops its chunks and removes the blob.
// A blob that cannot be removed is logged, not returned.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Processing.Status == models.StatusProcessing {
		return fmt.Errorf("document %s is being processed: %w", docID, core.ErrInvalidTransition)
	}
	if err := s.db.SoftDeleteDocument(ctx, docID); err != nil {
		return &core.PersistenceError{Op: "delete document", Err: err}
	}
	if err := s.db.DeleteChunksByDocument(ctx, docID); err != nil {
		return &core.PersistenceError{Op: "delete chunks", Err: err}
	}

	bucket, key, err := objectclient.ParseStorageURL(doc.StorageURL)
	if err == nil {
		err = s.storage.DeleteFile(ctx, bucket, key)
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		s.log.Warn("could not delete blob", logger.String("document_id", docID), logger.Error(err))
	}
	return nil
}

// objectKey creates a consistent S3 key layout.
func (s *KnowledgeService) objectKey(ownerID, docID, filename string) string {
	filename = strings.TrimSpace(path.Base(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	if ownerID == "" {
		ownerID = "shared"
	}
	return path.Join("users", ownerID, "documents", docID, filename)
}
