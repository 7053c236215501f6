package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/models"
)

func seedDocument(t *testing.T, m *MemoryClient, id, title string, status models.ProcessingStatus) {
	t.Helper()
	doc := &models.Document{ID: id, Title: title, SubjectID: "cs", Type: models.DocumentTypePDF}
	require.NoError(t, m.CreateDocument(context.Background(), doc))
	st := models.NewProcessingState()
	st.Status = status
	require.NoError(t, m.UpdateDocument(context.Background(), id, models.DocumentPatch{Processing: &st}))
}

func TestMemoryClient_CreateAndGet(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	doc := &models.Document{ID: "d1", Title: "Notes"}
	require.NoError(t, m.CreateDocument(ctx, doc))

	got, err := m.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Notes", got.Title)
	assert.Equal(t, models.StatusPending, got.Processing.Status)
	assert.Equal(t, models.VisibilityPrivate, got.Visibility)

	assert.Error(t, m.CreateDocument(ctx, &models.Document{ID: "d1"}))
}

func TestMemoryClient_GetMissing(t *testing.T) {
	m := NewMemoryClient()
	_, err := m.GetDocumentByID(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryClient_ReplaceChunks(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	first := []models.Chunk{
		{ID: "a", DocumentID: "d1", ChunkIndex: 0, Content: "alpha"},
		{ID: "b", DocumentID: "d1", ChunkIndex: 1, Content: "beta"},
	}
	require.NoError(t, m.ReplaceDocumentChunks(ctx, "d1", first))

	second := []models.Chunk{{ID: "c", DocumentID: "d1", ChunkIndex: 0, Content: "gamma"}}
	require.NoError(t, m.ReplaceDocumentChunks(ctx, "d1", second))

	got, err := m.GetChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gamma", got[0].Content)
}

func TestMemoryClient_ReplaceChunks_RejectsDuplicateIndex(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, m.ReplaceDocumentChunks(ctx, "d1", []models.Chunk{{ID: "a", DocumentID: "d1", ChunkIndex: 0}}))

	err := m.ReplaceDocumentChunks(ctx, "d1", []models.Chunk{
		{ID: "x", DocumentID: "d1", ChunkIndex: 0},
		{ID: "y", DocumentID: "d1", ChunkIndex: 0},
	})
	require.Error(t, err)

	// The earlier set is untouched.
	got, _ := m.GetChunksByDocument(ctx, "d1")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestMemoryClient_ChunksOrderedByIndex(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, m.InsertDocumentChunks(ctx, []models.Chunk{
		{ID: "b", DocumentID: "d1", ChunkIndex: 1},
		{ID: "a", DocumentID: "d1", ChunkIndex: 0},
	}))
	got, err := m.GetChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMemoryClient_SearchDocuments(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	seedDocument(t, m, "d1", "Data Structures", models.StatusCompleted)
	seedDocument(t, m, "d2", "Biology", models.StatusCompleted)
	seedDocument(t, m, "d3", "Hash tables draft", models.StatusProcessing)

	require.NoError(t, m.ReplaceDocumentChunks(ctx, "d1", []models.Chunk{
		{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "A hash table maps keys to buckets."},
	}))
	require.NoError(t, m.ReplaceDocumentChunks(ctx, "d2", []models.Chunk{
		{ID: "c2", DocumentID: "d2", ChunkIndex: 0, Content: "Photosynthesis converts light into energy."},
	}))

	matches, err := m.SearchDocuments(ctx, models.DocumentSearch{Keywords: []string{"hash", "table"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].Document.ID)
	assert.Equal(t, 2.0, matches[0].Score)

	matches, err = m.SearchDocuments(ctx, models.DocumentSearch{Keywords: []string{"hash"}, SubjectID: "other"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryClient_SoftDeleteHidesDocument(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()
	seedDocument(t, m, "d1", "Notes", models.StatusCompleted)

	require.NoError(t, m.SoftDeleteDocument(ctx, "d1"))
	_, err := m.GetDocumentByID(ctx, "d1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, m.SoftDeleteDocument(ctx, "d1"), core.ErrNotFound)
}

func TestMemoryClient_RecordDocumentAccess(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()
	seedDocument(t, m, "d1", "Notes", models.StatusCompleted)

	require.NoError(t, m.RecordDocumentAccess(ctx, []string{"d1", "missing"}))
	got, err := m.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)
	assert.NotNil(t, got.LastAccessedAt)
}
