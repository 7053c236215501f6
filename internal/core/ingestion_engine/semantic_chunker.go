package ingestion_engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

// ChunkOptions bounds chunk sizes in tokens.
type ChunkOptions struct {
	MinTokens    int
	MaxTokens    int
	TargetTokens int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{MinTokens: 300, MaxTokens: 600, TargetTokens: 450}
}

// ChunkSource says where a set of chunk boundaries came from.
type ChunkSource string

const (
	SourceAI       ChunkSource = "ai"
	SourceCache    ChunkSource = "cache"
	SourceFallback ChunkSource = "fallback"
)

var errMalformedChunks = errors.New("malformed chunking response")

const chunkerSystemPrompt = `You split study material into retrieval chunks.
Rules:
- Every chunk is between %d and %d tokens, aiming for about %d.
- Keep each chunk semantically coherent. Never split in the middle of a sentence, heading, list, table or code block.
- Chunks must appear in reading order and together cover the whole text without rewording it.
- Give each chunk a one-line summary.
Respond with a JSON array only: [{"content": "...", "summary": "..."}]`

// SemanticChunker asks the model for chunk boundaries, memoises successful
// answers by content hash, and degrades to a paragraph packer when the model
// is unavailable or answers with anything but a well-formed chunk array.
type SemanticChunker struct {
	llm    core.LLMProvider
	cache  core.ChunkCache
	tokens TokenCounter
	log    logger.Logger
}

func NewSemanticChunker(llm core.LLMProvider, cache core.ChunkCache, tokens TokenCounter, log logger.Logger) *SemanticChunker {
	if tokens == nil {
		tokens = ApproxCounter{}
	}
	return &SemanticChunker{llm: llm, cache: cache, tokens: tokens, log: log.Named("chunker")}
}

// Chunk never fails. Whitespace-only text yields no chunks.
func (c *SemanticChunker) Chunk(ctx context.Context, text string, opts ChunkOptions) ([]models.ChunkProposal, ChunkSource) {
	if strings.TrimSpace(text) == "" {
		return nil, SourceFallback
	}

	key := ContentHash(text)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			return cached, SourceCache
		}
	}

	chunks, err := c.aiChunk(ctx, text, opts)
	if err != nil {
		c.log.Warn("semantic chunking degraded to paragraph split",
			logger.String("content_hash", key), logger.Error(err))
		return fallbackChunk(text, opts.TargetTokens, c.tokens), SourceFallback
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, chunks)
	}
	return chunks, SourceAI
}

func (c *SemanticChunker) aiChunk(ctx context.Context, text string, opts ChunkOptions) ([]models.ChunkProposal, error) {
	if c.llm == nil {
		return nil, errors.New("no completion service configured")
	}
	system := fmt.Sprintf(chunkerSystemPrompt, opts.MinTokens, opts.MaxTokens, opts.TargetTokens)
	gen, err := c.llm.Generate(ctx, system, text, core.GenerateOptions{Temperature: 0.1, JSON: true})
	if err != nil {
		return nil, err
	}
	return parseChunkResponse(gen.Text)
}

// parseChunkResponse accepts a JSON array of {content, summary}, optionally
// wrapped in a single markdown code fence.
func parseChunkResponse(raw string) ([]models.ChunkProposal, error) {
	body := stripCodeFence(strings.TrimSpace(raw))

	var chunks []models.ChunkProposal
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&chunks); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedChunks, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", errMalformedChunks)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: empty array", errMalformedChunks)
	}
	for i := range chunks {
		chunks[i].Content = strings.TrimSpace(chunks[i].Content)
		chunks[i].Summary = strings.TrimSpace(chunks[i].Summary)
		if chunks[i].Content == "" {
			return nil, fmt.Errorf("%w: chunk %d has no content", errMalformedChunks, i)
		}
	}
	return chunks, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop an info string such as "json".
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
