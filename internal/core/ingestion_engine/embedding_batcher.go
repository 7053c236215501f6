package ingestion_engine

import (
	"context"
	"fmt"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/metrics"
)

// DefaultEmbedBatchSize is the largest batch the embedding API accepts.
const DefaultEmbedBatchSize = 100

// EmbeddingBatcher embeds texts in fixed-size sequential batches.
type EmbeddingBatcher struct {
	provider  core.EmbeddingProvider
	batchSize int
	metrics   *metrics.Metrics
}

func NewEmbeddingBatcher(provider core.EmbeddingProvider, batchSize int, m *metrics.Metrics) *EmbeddingBatcher {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &EmbeddingBatcher{provider: provider, batchSize: batchSize, metrics: m}
}

// EmbedAll returns one vector per text in input order. Any failed batch,
// including one that returns the wrong number of vectors, fails the whole
// call with an *core.EmbeddingBatchError numbering batches from 1.
func (b *EmbeddingBatcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start, batch := 0, 1; start < len(texts); start, batch = start+b.batchSize, batch+1 {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := b.provider.EmbedTexts(ctx, texts[start:end])
		if err == nil && len(vecs) != end-start {
			err = fmt.Errorf("got %d vectors for %d texts", len(vecs), end-start)
		}
		b.metrics.EmbeddingBatch(err == nil)
		if err != nil {
			return nil, &core.EmbeddingBatchError{Batch: batch, Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
