// Package retrieval selects stored chunks for a question, assembles a
// grounded prompt and asks the completion service for a cited answer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
	"github.com/markdave123-py/studykb/internal/models"
)

// Selection limits.
const (
	// TopDocuments is how many documents an undirected search scopes to.
	TopDocuments = 3
	// MaxChunksSearched caps chunks returned when documents came from search.
	MaxChunksSearched = 5
	// MaxChunksExplicit caps chunks returned for caller-chosen documents.
	MaxChunksExplicit = 10
	// MaxChunkChars is the longest chunk text placed into a prompt.
	MaxChunkChars = 1500
	// MinChunkChars is the shortest chunk text worth retrieving from an
	// explicitly selected document. Searched documents rely on the
	// relevance gate alone.
	MinChunkChars = 50
)

var ErrEmptyQuestion = errors.New("question is empty")

// Options scopes a question. DocumentIDs, when set, bypass search and the
// relevance gate.
type Options struct {
	SubjectID   string
	DocumentIDs []string
}

// RetrievedChunk is a chunk selected for the prompt, already truncated.
type RetrievedChunk struct {
	DocumentID string
	Title      string
	Page       int
	ChunkIndex int
	Content    string
}

type Result struct {
	Chunks         []RetrievedChunk
	Keywords       []string
	DocumentsFound int
}

// Config tunes answer generation.
type Config struct {
	CostPer1KTokens float64
	Temperature     float32
}

func DefaultConfig() Config {
	return Config{CostPer1KTokens: 0.0005, Temperature: 0.3}
}

type Engine struct {
	db      core.DbClient
	llm     core.LLMProvider
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewEngine(db core.DbClient, llm core.LLMProvider, cfg Config, log logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{db: db, llm: llm, cfg: cfg, log: log.Named("retrieval"), metrics: m}
}

// Retrieve picks the chunks that will ground an answer. It reads stored state
// only.
func (e *Engine) Retrieve(ctx context.Context, question string, opts Options) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	res := &Result{Keywords: ExtractKeywords(question)}
	explicit := len(opts.DocumentIDs) > 0

	docs, err := e.scope(ctx, res.Keywords, opts)
	if err != nil {
		return nil, err
	}
	res.DocumentsFound = len(docs)

	limit := MaxChunksSearched
	if explicit {
		limit = MaxChunksExplicit
	}

	for _, doc := range docs {
		if len(res.Chunks) >= limit {
			break
		}
		chunks, err := e.db.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("load chunks of %s: %w", doc.ID, err)
		}
		for _, ch := range chunks {
			content := strings.TrimSpace(ch.Content)
			if explicit {
				if utf8.RuneCountInString(content) <= MinChunkChars {
					continue
				}
			} else if !Relevant(content, res.Keywords) {
				continue
			}
			res.Chunks = append(res.Chunks, RetrievedChunk{
				DocumentID: doc.ID,
				Title:      doc.Title,
				Page:       pageOf(ch),
				ChunkIndex: ch.ChunkIndex,
				Content:    truncate(content, MaxChunkChars),
			})
			if len(res.Chunks) >= limit {
				break
			}
		}
	}

	e.log.Debug("retrieved context",
		logger.Strings("keywords", res.Keywords),
		logger.Bool("explicit", explicit),
		logger.Int("documents", res.DocumentsFound),
		logger.Int("chunks", len(res.Chunks)))
	return res, nil
}

// scope returns the documents to read chunks from: exactly the requested ones
// in request order, or the best keyword matches.
func (e *Engine) scope(ctx context.Context, keywords []string, opts Options) ([]models.Document, error) {
	if len(opts.DocumentIDs) > 0 {
		found, err := e.db.GetDocumentsByIDs(ctx, opts.DocumentIDs)
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		byID := make(map[string]models.Document, len(found))
		for _, d := range found {
			byID[d.ID] = d
		}
		docs := make([]models.Document, 0, len(found))
		seen := make(map[string]bool, len(opts.DocumentIDs))
		for _, id := range opts.DocumentIDs {
			if d, ok := byID[id]; ok && !seen[id] {
				seen[id] = true
				docs = append(docs, d)
			}
		}
		return docs, nil
	}

	if len(keywords) == 0 {
		return nil, nil
	}
	matches, err := e.db.SearchDocuments(ctx, models.DocumentSearch{
		Keywords:  keywords,
		SubjectID: opts.SubjectID,
		Limit:     TopDocuments,
	})
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	docs := make([]models.Document, len(matches))
	for i, m := range matches {
		docs[i] = m.Document
	}
	return docs, nil
}

// pageOf falls back to the chunk's position when no page was attributed.
func pageOf(ch models.Chunk) int {
	if ch.PageNumber != nil {
		return *ch.PageNumber
	}
	return ch.ChunkIndex + 1
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
