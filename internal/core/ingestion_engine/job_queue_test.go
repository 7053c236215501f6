package ingestion_engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/logger"
)

func waitOrFail(t *testing.T, wait func(), d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for the queue to drain")
	}
}

func TestJobQueue_BoundsConcurrency(t *testing.T) {
	var (
		active, peak atomic.Int32
		mu           sync.Mutex
		handled      []string
	)
	q := NewJobQueue(func(_ context.Context, id string) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)

		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
	}, nil, logger.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 2)

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		q.Enqueue(id)
	}
	waitOrFail(t, q.Wait, 5*time.Second)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e", "f"}, handled)
	assert.Zero(t, q.Len())
}

func TestJobQueue_SurvivesPanics(t *testing.T) {
	var (
		mu       sync.Mutex
		handled  []string
		panicked []string
	)
	q := NewJobQueue(func(_ context.Context, id string) {
		if id == "bad" {
			panic("boom")
		}
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
	}, func(_ context.Context, id string, recovered any) {
		mu.Lock()
		panicked = append(panicked, id)
		mu.Unlock()
		assert.Equal(t, "boom", recovered)
	}, logger.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 1)

	q.Enqueue("first")
	q.Enqueue("bad")
	q.Enqueue("last")
	waitOrFail(t, q.Wait, 5*time.Second)

	assert.Equal(t, []string{"first", "last"}, handled)
	assert.Equal(t, []string{"bad"}, panicked)
}

func TestJobQueue_DropsOnShutdown(t *testing.T) {
	var calls atomic.Int32
	q := NewJobQueue(func(context.Context, string) { calls.Add(1) }, nil, logger.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Start(ctx, 2)
	q.Enqueue("a")
	q.Enqueue("b")

	waitOrFail(t, q.Wait, 5*time.Second)
	require.Zero(t, q.Len())
	assert.Zero(t, calls.Load())
}

func TestJobQueue_CollapsesDuplicateWaitingIDs(t *testing.T) {
	var (
		mu      sync.Mutex
		handled []string
	)
	q := NewJobQueue(func(_ context.Context, id string) {
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
	}, nil, logger.NewNop(), nil)

	q.Enqueue("a")
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("a")
	assert.Equal(t, 2, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 1)
	waitOrFail(t, q.Wait, 5*time.Second)

	// Once handled, the id may be queued again.
	q.Enqueue("a")
	waitOrFail(t, q.Wait, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "a"}, handled)
}
