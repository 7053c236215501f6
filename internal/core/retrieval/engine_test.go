package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/coretest"
	db "github.com/markdave123-py/studykb/internal/core/database"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
	"github.com/markdave123-py/studykb/internal/models"
)

const (
	hashQuestion = "What is a hash table and how does chaining work?"
	hashPage     = "Hash tables use chaining to resolve collisions between keys that land in the same bucket."
	photoPage    = "Photosynthesis converts light energy into chemical energy stored in glucose molecules."
)

func completedState(t require.TestingT) models.ProcessingState {
	st, err := models.NewProcessingState().Start(time.Now())
	require.NoError(t, err)
	st, err = st.Complete(time.Now(), "done")
	require.NoError(t, err)
	return st
}

func seed(t require.TestingT, store *db.MemoryClient, id, title string, contents ...string) {
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: id, Title: title, SubjectID: "science"}))
	st := completedState(t)
	require.NoError(t, store.UpdateDocument(ctx, id, models.DocumentPatch{Processing: &st}))

	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		page := i + 1
		chunks[i] = models.Chunk{ID: fmt.Sprintf("%s-%d", id, i), DocumentID: id, ChunkIndex: i, Content: c, PageNumber: &page}
	}
	require.NoError(t, store.ReplaceDocumentChunks(ctx, id, chunks))
}

func newEngine(store core.DbClient, llm core.LLMProvider) *Engine {
	return NewEngine(store, llm, DefaultConfig(), logger.NewNop(), nil)
}

func TestRetrieve_RelevanceGate(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures", hashPage)
	seed(t, store, "bio", "Plant Biology", photoPage)

	res, err := newEngine(store, nil).Retrieve(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"hash", "table", "chaining", "work"}, res.Keywords)
	assert.Equal(t, 1, res.DocumentsFound)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "ds", res.Chunks[0].DocumentID)
	assert.Equal(t, hashPage, res.Chunks[0].Content)
	assert.Equal(t, 1, res.Chunks[0].Page)
}

func TestRetrieve_ShortRelevantChunkIsKept(t *testing.T) {
	const short = "Hash tables use chaining to resolve collisions"
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures", short)
	seed(t, store, "bio", "Plant Biology", photoPage)

	res, err := newEngine(store, nil).Retrieve(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DocumentsFound)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "ds", res.Chunks[0].DocumentID)
	assert.Equal(t, short, res.Chunks[0].Content)
}

func TestRetrieve_GateFiltersChunksOfMatchedDocument(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures",
		hashPage,
		"Binary search trees keep keys ordered so lookups take logarithmic time on average.",
	)

	res, err := newEngine(store, nil).Retrieve(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 0, res.Chunks[0].ChunkIndex)
}

func TestRetrieve_ExplicitSelectionBypassesGate(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures", hashPage)
	seed(t, store, "bio", "Plant Biology", photoPage)

	res, err := newEngine(store, nil).Retrieve(context.Background(), hashQuestion, Options{DocumentIDs: []string{"bio"}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DocumentsFound)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "bio", res.Chunks[0].DocumentID)
	assert.Equal(t, photoPage, res.Chunks[0].Content)
}

func TestRetrieve_SkipsTrivialChunks(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bio", "Plant Biology", "Figure 3", photoPage)

	res, err := newEngine(store, nil).Retrieve(context.Background(), "anything", Options{DocumentIDs: []string{"bio"}})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 2, res.Chunks[0].Page)
}

func TestRetrieve_CapsAndTruncates(t *testing.T) {
	store := db.NewMemoryClient()
	var many []string
	for i := 0; i < 12; i++ {
		many = append(many, fmt.Sprintf("Hash table note %d: chaining keeps colliding keys in a list per bucket.", i))
	}
	seed(t, store, "ds", "Data Structures", many...)
	seed(t, store, "long", "Long Read", strings.Repeat("长", 2000))

	e := newEngine(store, nil)

	res, err := e.Retrieve(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, MaxChunksSearched)

	res, err = e.Retrieve(context.Background(), hashQuestion, Options{DocumentIDs: []string{"ds"}})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, MaxChunksExplicit)

	res, err = e.Retrieve(context.Background(), hashQuestion, Options{DocumentIDs: []string{"long"}})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, MaxChunkChars, utf8.RuneCountInString(res.Chunks[0].Content))
}

func TestRetrieve_PageFallsBackToPosition(t *testing.T) {
	store := db.NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "d", Title: "Notes"}))
	require.NoError(t, store.ReplaceDocumentChunks(ctx, "d", []models.Chunk{
		{ID: "c0", DocumentID: "d", ChunkIndex: 0, Content: photoPage},
		{ID: "c1", DocumentID: "d", ChunkIndex: 1, Content: hashPage},
	}))

	res, err := newEngine(store, nil).Retrieve(ctx, "notes", Options{DocumentIDs: []string{"d"}})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, 1, res.Chunks[0].Page)
	assert.Equal(t, 2, res.Chunks[1].Page)
}

func TestRetrieve_EmptyQuestion(t *testing.T) {
	_, err := newEngine(db.NewMemoryClient(), nil).Retrieve(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAnswer_CitesExactlyThePromptedChunks(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures", hashPage)
	seed(t, store, "bio", "Plant Biology", photoPage)
	llm := &coretest.LLM{Responses: []string{"Hash tables chain collisions [Source 1, Page 1]."}, Tokens: 2000}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := NewEngine(store, llm, DefaultConfig(), logger.NewNop(), m)

	ans, err := e.Answer(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Hash tables chain collisions [Source 1, Page 1].", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, Source{DocumentID: "ds", Title: "Data Structures", PageNumber: 1, ChunkIndex: 0}, ans.Sources[0])
	assert.Equal(t, 2000, ans.Usage.Tokens)
	assert.InDelta(t, 0.001, ans.Usage.Cost, 1e-12)
	assert.Equal(t, Meta{Keywords: []string{"hash", "table", "chaining", "work"}, DocumentsFound: 1, ChunksFound: 1}, ans.Meta)

	prompt := llm.Calls()[0].User
	assert.Contains(t, prompt, `[Source 1] "Data Structures" - Page 1: `+hashPage)
	assert.NotContains(t, prompt, "[Source 2]")
	assert.NotContains(t, prompt, "Photosynthesis")
	assert.Contains(t, prompt, "[Source N, Page P]")

	doc, err := store.GetDocumentByID(context.Background(), "ds")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ViewCount)
	assert.NotNil(t, doc.LastAccessedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnswerRequests.WithLabelValues("answered")))
}

func TestAnswer_CitationConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := db.NewMemoryClient()
		n := rapid.IntRange(0, 15).Draw(t, "chunks")
		var contents []string
		eligible := 0
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "long") {
				contents = append(contents, fmt.Sprintf("Chunk %d explains a topic in enough words to be worth retrieving.", i))
				eligible++
			} else {
				contents = append(contents, fmt.Sprintf("Short %d", i))
			}
		}
		seed(t, store, "doc", "Course Notes", contents...)

		llm := &coretest.LLM{Responses: []string{"ok"}}
		ans, err := newEngine(store, llm).Answer(context.Background(), "Summarise the notes", Options{DocumentIDs: []string{"doc"}})
		if err != nil {
			t.Fatalf("answer: %v", err)
		}

		want := eligible
		if want > MaxChunksExplicit {
			want = MaxChunksExplicit
		}
		if len(ans.Sources) != want {
			t.Fatalf("got %d sources, want %d", len(ans.Sources), want)
		}

		prompt := llm.Calls()[0].User
		if got := strings.Count(prompt, "[Source "); got != len(ans.Sources)+boolInt(len(ans.Sources) > 0) {
			t.Fatalf("prompt has %d source markers for %d sources", got, len(ans.Sources))
		}
		for i, s := range ans.Sources {
			label := SourceLabel(i+1, RetrievedChunk{Title: s.Title, Page: s.PageNumber})
			if !strings.Contains(prompt, label) {
				t.Fatalf("source %d (%s) missing from prompt", i+1, label)
			}
		}
	})
}

// boolInt accounts for the "[Source N, Page P]" citation instruction.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestAnswer_NoMaterial(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "bio", "Plant Biology", photoPage)
	llm := &coretest.LLM{Responses: []string{"Your materials do not cover this."}}

	ans, err := newEngine(store, llm).Answer(context.Background(), hashQuestion, Options{})
	require.NoError(t, err)

	assert.Empty(t, ans.Sources)
	assert.Zero(t, ans.Meta.ChunksFound)
	require.Equal(t, 1, llm.CallCount())
	prompt := llm.Calls()[0].User
	assert.Contains(t, prompt, "No relevant material was found")
	assert.Contains(t, prompt, hashQuestion)
	assert.NotContains(t, prompt, "[Source")
}

func TestAnswer_UpstreamError(t *testing.T) {
	store := db.NewMemoryClient()
	seed(t, store, "ds", "Data Structures", hashPage)
	llm := &coretest.LLM{Err: errors.New("503 from provider")}

	ans, err := newEngine(store, llm).Answer(context.Background(), hashQuestion, Options{})
	assert.Nil(t, ans)

	var ue *core.RetrievalUpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, core.CategoryUpstream, core.ErrorCategory(err))

	doc, err := store.GetDocumentByID(context.Background(), "ds")
	require.NoError(t, err)
	assert.Zero(t, doc.ViewCount)
	assert.Equal(t, models.StatusCompleted, doc.Processing.Status)
}
