package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
)

type flakyLLM struct {
	calls int
	err   error
}

func (f *flakyLLM) Generate(_ context.Context, _, _ string, _ core.GenerateOptions) (*core.Generation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.Generation{Text: "ok", TotalTokens: 3}, nil
}

func TestBreakerLLM_PassesThrough(t *testing.T) {
	next := &flakyLLM{}
	b := NewBreakerLLM(next, DefaultBreakerConfig(), logger.NewNop())

	gen, err := b.Generate(context.Background(), "sys", "user", core.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", gen.Text)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerLLM_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyLLM{err: errors.New("boom")}
	b := NewBreakerLLM(next, BreakerConfig{FailureThreshold: 2, Timeout: time.Minute, MaxRequests: 1}, logger.NewNop())

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "", "", core.GenerateOptions{})
		require.Error(t, err)
	}
	_, err := b.Generate(context.Background(), "", "", core.GenerateOptions{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, "open", b.State())
}

func TestRateLimiter_NilAndUnlimited(t *testing.T) {
	var r *RateLimiter
	assert.NoError(t, r.Wait(context.Background()))

	unlimited := NewRateLimiter(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, unlimited.Wait(context.Background()))
	}
}
