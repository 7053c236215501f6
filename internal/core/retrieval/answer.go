package retrieval

import (
	"context"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
)

// Source cites one chunk that was sent to the model. Sources[i] is
// "[Source i+1]" in the prompt.
type Source struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	PageNumber int    `json:"page_number"`
	ChunkIndex int    `json:"chunk_index"`
}

type Usage struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

type Meta struct {
	Keywords       []string `json:"keywords"`
	DocumentsFound int      `json:"documents_found"`
	ChunksFound    int      `json:"chunks_found"`
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Usage   Usage    `json:"usage"`
	Meta    Meta     `json:"meta"`
}

// Answer retrieves context for question and generates a cited answer. A
// failed completion call is returned as *core.RetrievalUpstreamError.
func (e *Engine) Answer(ctx context.Context, question string, opts Options) (*Answer, error) {
	res, err := e.Retrieve(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	system, user := BuildPrompt(question, res.Chunks)
	gen, err := e.llm.Generate(ctx, system, user, core.GenerateOptions{Temperature: e.cfg.Temperature})
	if err != nil {
		e.metrics.Answered("upstream_error", len(res.Chunks), 0)
		e.log.Warn("answer generation failed", logger.Error(err))
		return nil, &core.RetrievalUpstreamError{Err: err}
	}

	out := &Answer{
		Answer:  gen.Text,
		Sources: make([]Source, len(res.Chunks)),
		Usage: Usage{
			Tokens: gen.TotalTokens,
			Cost:   float64(gen.TotalTokens) / 1000 * e.cfg.CostPer1KTokens,
		},
		Meta: Meta{
			Keywords:       res.Keywords,
			DocumentsFound: res.DocumentsFound,
			ChunksFound:    len(res.Chunks),
		},
	}
	if out.Meta.Keywords == nil {
		out.Meta.Keywords = []string{}
	}

	var cited []string
	seen := make(map[string]bool)
	for i, c := range res.Chunks {
		out.Sources[i] = Source{DocumentID: c.DocumentID, Title: c.Title, PageNumber: c.Page, ChunkIndex: c.ChunkIndex}
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			cited = append(cited, c.DocumentID)
		}
	}
	if len(cited) > 0 {
		if err := e.db.RecordDocumentAccess(ctx, cited); err != nil {
			e.log.Warn("could not record document access", logger.Strings("document_ids", cited), logger.Error(err))
		}
	}

	outcome := "answered"
	if len(res.Chunks) == 0 {
		outcome = "no_material"
	}
	e.metrics.Answered(outcome, len(res.Chunks), gen.TotalTokens)
	return out, nil
}
