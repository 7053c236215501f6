package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(2, time.Hour)
	ctx := context.Background()

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	in := []models.ChunkProposal{{Content: "one", Summary: "s"}}
	c.Set(ctx, "a", in)

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, in, got)

	// Returned slices are copies.
	got[0].Content = "mutated"
	again, _ := c.Get(ctx, "a")
	assert.Equal(t, "one", again[0].Content)
}

func TestLRU_Evicts(t *testing.T) {
	c := NewLRU(2, time.Hour)
	ctx := context.Background()
	c.Set(ctx, "a", nil)
	c.Set(ctx, "b", nil)
	c.Set(ctx, "c", nil)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedis_ErrorsAreMisses(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewRedis(client, time.Minute, logger.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", []models.ChunkProposal{{Content: "x"}})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
