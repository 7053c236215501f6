package ingestion_engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/coretest"
)

func TestEmbeddingBatcher_SplitsInOrder(t *testing.T) {
	emb := &coretest.Embedder{Dim: 3}
	b := NewEmbeddingBatcher(emb, 2, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := b.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Len(t, v, 3)
		assert.Equal(t, float32(len(texts[i])), v[0])
	}

	batches := emb.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"eeeee"}, batches[2])
}

func TestEmbeddingBatcher_FailedBatch(t *testing.T) {
	emb := &coretest.Embedder{FailOnBatch: 2}
	b := NewEmbeddingBatcher(emb, 1, nil)

	vecs, err := b.EmbedAll(context.Background(), []string{"one", "two", "three"})
	assert.Nil(t, vecs)

	var be *core.EmbeddingBatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 2, be.Batch)
	assert.ErrorIs(t, err, coretest.ErrInjected)
	assert.Equal(t, core.CategoryEmbedding, core.ErrorCategory(err))
	assert.Len(t, emb.Batches(), 2, "no batch is attempted after a failure")
}

type shortEmbedder struct{}

func (shortEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}

func TestEmbeddingBatcher_CountMismatch(t *testing.T) {
	b := NewEmbeddingBatcher(shortEmbedder{}, 0, nil)
	_, err := b.EmbedAll(context.Background(), []string{"a", "b"})

	var be *core.EmbeddingBatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 1, be.Batch)
}

func TestEmbeddingBatcher_Empty(t *testing.T) {
	emb := &coretest.Embedder{}
	vecs, err := NewEmbeddingBatcher(emb, 10, nil).EmbedAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Empty(t, emb.Batches())
}
