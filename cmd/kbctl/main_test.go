package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/app"
	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/coretest"
	db "github.com/markdave123-py/studykb/internal/core/database"
	"github.com/markdave123-py/studykb/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/studykb/internal/core/object-client"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
	"github.com/markdave123-py/studykb/internal/services"
)

// plainExtractor treats the stored bytes as the text of a single page.
type plainExtractor struct{}

func (plainExtractor) Extract(_ context.Context, _ *models.Document, data []byte) (*core.ExtractedText, error) {
	return &core.ExtractedText{
		FullText: string(data),
		Pages:    []models.Page{{Number: 1, Text: string(data)}},
	}, nil
}

const notes = "Photosynthesis converts light energy into chemical energy stored in glucose molecules inside the chloroplast."

// memoryLoader returns a loader over one shared in-memory application.
func memoryLoader(llm *coretest.LLM) appLoader {
	log := logger.NewNop()
	store := db.NewMemoryClient()
	blobs := objectclient.NewMemoryStore()
	ing := ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:        store,
		Objects:   blobs,
		Extractor: plainExtractor{},
		Chunker:   ingestion_engine.NewSemanticChunker(nil, nil, ingestion_engine.ApproxCounter{}, log),
		Batcher:   ingestion_engine.NewEmbeddingBatcher(&coretest.Embedder{}, 0, nil),
		Log:       log,
	}, ingestion_engine.DefaultIngestConfig())
	engine := retrieval.NewEngine(store, llm, retrieval.DefaultConfig(), log, nil)
	a := &app.App{
		Log:       log,
		DBClient:  store,
		Objects:   blobs,
		Ingestor:  ing,
		Knowledge: services.NewKnowledgeService(store, blobs, "materials", ing, engine, log),
	}
	return func(context.Context) (*app.App, error) { return a, nil }
}

func run(t *testing.T, load appLoader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(load)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKbctl_AddIngestStatusAsk(t *testing.T) {
	llm := &coretest.LLM{Responses: []string{"Light becomes chemical energy [Source 1, Page 1]."}}
	load := memoryLoader(llm)

	file := filepath.Join(t.TempDir(), "biology.pdf")
	require.NoError(t, os.WriteFile(file, []byte(notes), 0o644))

	out, err := run(t, load, "add", file, "--subject", "biology", "--process")
	require.NoError(t, err, out)
	var doc models.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "biology", doc.Title)
	assert.Equal(t, models.StatusCompleted, doc.Processing.Status)

	out, err = run(t, load, "status", doc.ID)
	require.NoError(t, err, out)
	var st models.ProcessingState
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 100, st.Progress)

	out, err = run(t, load, "ingest", doc.ID, "--workers", "1")
	require.NoError(t, err, out)
	var results []ingestResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusCompleted, results[0].Status.Status)

	out, err = run(t, load, "ask", "How does photosynthesis store energy?", "--doc", doc.ID)
	require.NoError(t, err, out)
	var ans retrieval.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &ans))
	assert.Equal(t, "Light becomes chemical energy [Source 1, Page 1].", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, doc.ID, ans.Sources[0].DocumentID)
}

func TestKbctl_IngestUnknownDocument(t *testing.T) {
	out, err := run(t, memoryLoader(&coretest.LLM{}), "ingest", "missing")
	require.Error(t, err)
	assert.Contains(t, out, `"error"`)
}
