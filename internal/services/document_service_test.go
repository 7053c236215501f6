package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/coretest"
	db "github.com/markdave123-py/studykb/internal/core/database"
	objectclient "github.com/markdave123-py/studykb/internal/core/object-client"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

// recordingIngestor remembers what it was asked to do.
type recordingIngestor struct {
	mu         sync.Mutex
	enqueued   []string
	reingested []string
	err        error
}

func (r *recordingIngestor) Start(context.Context, int) {}
func (r *recordingIngestor) Wait()                      {}

func (r *recordingIngestor) Enqueue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, id)
}

func (r *recordingIngestor) Reingest(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reingested = append(r.reingested, id)
	return r.err
}

func (r *recordingIngestor) ProcessOne(context.Context, string) error { return nil }

type fixture struct {
	db       *db.MemoryClient
	store    *objectclient.MemoryStore
	ingestor *recordingIngestor
	llm      *coretest.LLM
	svc      *KnowledgeService
}

func newFixture() *fixture {
	f := &fixture{
		db:       db.NewMemoryClient(),
		store:    objectclient.NewMemoryStore(),
		ingestor: &recordingIngestor{},
		llm:      &coretest.LLM{Responses: []string{"answer"}},
	}
	log := logger.NewNop()
	engine := retrieval.NewEngine(f.db, f.llm, retrieval.DefaultConfig(), log, nil)
	f.svc = NewKnowledgeService(f.db, f.store, "materials", f.ingestor, engine, log)
	return f
}

func TestAddDocument(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.svc.AddDocument(ctx, NewDocument{
		OwnerID:     "u1",
		SubjectID:   "physics",
		FileName:    "Newton Laws.pdf",
		ContentType: "application/pdf",
	}, []byte("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, models.DocumentTypePDF, doc.Type)
	assert.Equal(t, "Newton Laws", doc.Title)
	assert.Equal(t, int64(8), doc.FileSize)
	assert.Equal(t, "s3://materials/users/u1/documents/"+doc.ID+"/Newton_Laws.pdf", doc.StorageURL)
	assert.Equal(t, []string{doc.ID}, f.ingestor.enqueued)

	stored, err := f.db.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Processing.Status)

	data, err := f.store.GetFile(ctx, "materials", "users/u1/documents/"+doc.ID+"/Newton_Laws.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestAddDocument_UnsupportedType(t *testing.T) {
	f := newFixture()
	_, err := f.svc.AddDocument(context.Background(), NewDocument{FileName: "notes.txt", ContentType: "text/plain"}, []byte("x"))
	assert.ErrorIs(t, err, core.ErrUnsupportedType)
	assert.Empty(t, f.ingestor.enqueued)
}

func TestEnqueueIngestion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "pending", Type: models.DocumentTypePDF}))

	st, err := models.NewProcessingState().Start(time.Now())
	require.NoError(t, err)
	st, err = st.Fail(time.Now(), core.CategoryExtraction, "bad pdf")
	require.NoError(t, err)
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "failed", Type: models.DocumentTypePDF, Processing: st}))

	require.NoError(t, f.svc.EnqueueIngestion(ctx, "pending"))
	require.NoError(t, f.svc.EnqueueIngestion(ctx, "failed"))
	assert.Equal(t, []string{"pending"}, f.ingestor.enqueued)
	assert.Equal(t, []string{"failed"}, f.ingestor.reingested)

	err = f.svc.EnqueueIngestion(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEnqueueIngestion_PropagatesRejection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	st, err := models.NewProcessingState().Start(time.Now())
	require.NoError(t, err)
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "busy", Processing: st}))
	f.ingestor.err = core.ErrInvalidTransition

	assert.ErrorIs(t, f.svc.EnqueueIngestion(ctx, "busy"), core.ErrInvalidTransition)
}

func TestGetProcessingStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "d"}))

	st, err := f.svc.GetProcessingStatus(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Status)
	assert.Zero(t, st.Progress)

	_, err = f.svc.GetProcessingStatus(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRetrieveAndAnswer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "d", Title: "Notes"}))
	require.NoError(t, f.db.ReplaceDocumentChunks(ctx, "d", []models.Chunk{
		{ID: "c0", DocumentID: "d", Content: "Momentum is conserved in every collision between isolated bodies."},
	}))

	ans, err := f.svc.RetrieveAndAnswer(ctx, "Explain momentum", retrieval.Options{DocumentIDs: []string{"d"}})
	require.NoError(t, err)
	assert.Equal(t, "answer", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "d", ans.Sources[0].DocumentID)

	f.llm.Err = errors.New("quota exceeded")
	_, err = f.svc.RetrieveAndAnswer(ctx, "Explain momentum", retrieval.Options{DocumentIDs: []string{"d"}})
	var ue *core.RetrievalUpstreamError
	assert.True(t, errors.As(err, &ue))
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.AddDocument(ctx, NewDocument{OwnerID: "u1", FileName: "slides.pptx"}, []byte("pk"))
	require.NoError(t, err)
	require.NoError(t, f.db.ReplaceDocumentChunks(ctx, doc.ID, []models.Chunk{{ID: "c", DocumentID: doc.ID}}))

	require.NoError(t, f.svc.DeleteDocument(ctx, doc.ID))

	_, err = f.svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	chunks, err := f.db.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = f.store.GetFile(ctx, "materials", "users/u1/documents/"+doc.ID+"/slides.pptx")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteDocument_RejectsProcessing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	st, err := models.NewProcessingState().Start(time.Now())
	require.NoError(t, err)
	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{ID: "busy", Processing: st}))

	assert.ErrorIs(t, f.svc.DeleteDocument(ctx, "busy"), core.ErrInvalidTransition)
	_, err = f.svc.Get(ctx, "busy")
	assert.NoError(t, err)
}
