package ingestion_engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
)

// JobHandler processes one queued document id.
type JobHandler func(ctx context.Context, id string)

// JobQueue is a FIFO of document ids served by a fixed number of workers.
// Enqueue never blocks. An id already waiting in the queue is not added twice. A handler that panics is reported through onPanic
// and the worker moves on to the next id.
type JobQueue struct {
	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	stopped  bool
	wake     chan struct{}
	inFlight sync.WaitGroup

	handler JobHandler
	onPanic func(ctx context.Context, id string, recovered any)
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewJobQueue(handler JobHandler, onPanic func(context.Context, string, any), log logger.Logger, m *metrics.Metrics) *JobQueue {
	return &JobQueue{
		wake:    make(chan struct{}, 1),
		queued:  make(map[string]struct{}),
		handler: handler,
		onPanic: onPanic,
		log:     log.Named("queue"),
		metrics: m,
	}
}

// Start launches numWorkers goroutines. They stop when ctx is cancelled;
// ids still pending at that point are dropped.
func (q *JobQueue) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go q.worker(ctx, w)
	}
}

// Enqueue appends id to the queue. After shutdown ids are dropped.
func (q *JobQueue) Enqueue(id string) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.log.Warn("queue stopped, dropping document", logger.String("document_id", id))
		return
	}
	if _, ok := q.queued[id]; ok {
		q.mu.Unlock()
		q.log.Debug("document already queued", logger.String("document_id", id))
		return
	}
	q.queued[id] = struct{}{}
	q.inFlight.Add(1)
	q.pending = append(q.pending, id)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.QueueDepth(depth)
	q.signal()
}

// Wait blocks until every id enqueued so far has been handled or dropped.
func (q *JobQueue) Wait() {
	q.inFlight.Wait()
}

// Len is the number of ids waiting for a worker.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *JobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *JobQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	delete(q.queued, id)
	if len(q.pending) > 0 {
		// Pass the wake-up on so an idle sibling picks up the rest.
		q.signal()
	}
	q.metrics.QueueDepth(len(q.pending))
	return id, true
}

func (q *JobQueue) worker(ctx context.Context, w int) {
	for {
		if ctx.Err() != nil {
			q.drop()
			q.log.Debug("worker shutting down", logger.Int("worker", w))
			return
		}
		id, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
			case <-q.wake:
			}
			continue
		}
		q.run(ctx, w, id)
	}
}

func (q *JobQueue) run(ctx context.Context, w int, id string) {
	defer q.inFlight.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("ingestion handler panicked",
				logger.String("document_id", id),
				logger.Int("worker", w),
				logger.String("panic", fmt.Sprint(r)),
				logger.String("stack", string(debug.Stack())))
			if q.onPanic != nil {
				q.onPanic(ctx, id, r)
			}
		}
	}()
	q.handler(ctx, id)
}

func (q *JobQueue) drop() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.queued = make(map[string]struct{})
	q.stopped = true
	q.mu.Unlock()

	if len(dropped) > 0 {
		q.log.Warn("dropping queued documents on shutdown", logger.Strings("document_ids", dropped))
	}
	for range dropped {
		q.inFlight.Done()
	}
	q.metrics.QueueDepth(0)
}
