package export

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeyhiveai/honeyhive-go/core"
	"github.com/honeyhiveai/honeyhive-go/internal/httpclient"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
)

// Sender delivers one batch to the backend. The returned error carries a
// core taxonomy code; anything else is treated as permanent.
type Sender[T any] interface {
	Send(ctx context.Context, batch []T) error
}

// Options tunes a Queue. Zero values fall back to conservative defaults.
type Options struct {
	// Mode labels this queue in logs and metric attributes ("otlp" or
	// "events").
	Mode string

	Capacity   int
	BatchSize  int
	BatchDelay time.Duration
	Workers    int

	// DisableBatch sends each item as its own batch immediately.
	DisableBatch bool

	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryCap         time.Duration

	Logger *log.Logger
}

func (o *Options) fill() {
	if o.Capacity <= 0 {
		o.Capacity = 2048
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 128
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

// FlushResult reports what a Flush accomplished.
type FlushResult struct {
	Flushed   int
	Dropped   int
	Cancelled int
}

// Queue is a bounded in-memory FIFO drained by a fixed worker pool.
// Producers never block: on queue-full the item is dropped and counted.
// Item order is preserved within a batch; batches sent by different
// workers are unordered with respect to each other.
type Queue[T any] struct {
	sender Sender[T]
	opts   Options

	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// flushCtx, when non-nil, is the deadline context of an active Flush;
	// retry backoffs abort when it expires.
	flushCtx atomic.Pointer[context.Context]

	// inflight counts items accepted by Enqueue that a worker has not yet
	// finished sending or abandoning.
	inflight atomic.Int64
	stats    counters
	disabled atomic.Bool
	shutdown atomic.Bool
	stopOnce sync.Once
}

// NewQueue creates the queue and starts its workers.
func NewQueue[T any](sender Sender[T], opts Options) *Queue[T] {
	opts.fill()
	initInstruments()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		sender: sender,
		opts:   opts,
		ch:     make(chan T, opts.Capacity),
		ctx:    ctx,
		cancel: cancel,
	}
	for range opts.Workers {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// SetDisabled toggles degraded mode: a disabled queue drops every enqueue
// with a counter instead of sending.
func (q *Queue[T]) SetDisabled(disabled bool) {
	q.disabled.Store(disabled)
}

// Enqueue offers an item to the queue without blocking. It reports whether
// the item was accepted; rejected items are counted as drops.
func (q *Queue[T]) Enqueue(item T) bool {
	if q.shutdown.Load() || q.disabled.Load() {
		q.stats.dropped.Add(1)
		recordDropped(context.Background(), q.opts.Mode, "disabled", 1)
		return false
	}
	q.inflight.Add(1)
	select {
	case q.ch <- item:
		q.stats.enqueued.Add(1)
		return true
	default:
		q.inflight.Add(-1)
		q.stats.dropped.Add(1)
		recordDropped(context.Background(), q.opts.Mode, "queue_full", 1)
		return false
	}
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue[T]) Stats() Stats {
	return q.stats.snapshot()
}

// Flush drains the queue until it is empty and no batch is in flight, or
// until ctx expires. Retry backoffs in progress are cancelled once the
// deadline passes. The result reports items exported, dropped, and
// cancelled during the flush window.
func (q *Queue[T]) Flush(ctx context.Context) FlushResult {
	before := q.stats.snapshot()

	q.flushCtx.Store(&ctx)
	defer q.flushCtx.Store(nil)

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(q.ch) == 0 && q.inflight.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			after := q.stats.snapshot()
			return FlushResult{
				Flushed:   int(after.Exported - before.Exported),
				Dropped:   int(after.Dropped + after.Failed - before.Dropped - before.Failed),
				Cancelled: int(after.Cancelled - before.Cancelled),
			}
		case <-ticker.C:
		}
	}

	after := q.stats.snapshot()
	return FlushResult{
		Flushed: int(after.Exported - before.Exported),
		Dropped: int(after.Dropped + after.Failed - before.Dropped - before.Failed),
	}
}

// Shutdown flushes with the given context as deadline, then stops the
// workers and releases resources. It is idempotent; once it returns, the
// queue schedules no further work.
func (q *Queue[T]) Shutdown(ctx context.Context) {
	if q.shutdown.Swap(true) {
		return
	}
	q.Flush(ctx)
	q.stopOnce.Do(func() {
		q.cancel()
	})
	q.wg.Wait()
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()
	for {
		batch, ok := q.nextBatch()
		if !ok {
			return
		}
		q.sendWithRetry(batch)
		q.inflight.Add(-int64(len(batch)))
	}
}

// nextBatch blocks for the first item, then accumulates until the batch is
// full or the delay elapses.
func (q *Queue[T]) nextBatch() ([]T, bool) {
	var first T
	select {
	case <-q.ctx.Done():
		return nil, false
	case first = <-q.ch:
	}

	batch := make([]T, 0, q.opts.BatchSize)
	batch = append(batch, first)
	if q.opts.DisableBatch || q.opts.BatchSize == 1 {
		return batch, true
	}

	timer := time.NewTimer(q.opts.BatchDelay)
	defer timer.Stop()
	for len(batch) < q.opts.BatchSize {
		select {
		case item := <-q.ch:
			batch = append(batch, item)
		case <-timer.C:
			return batch, true
		case <-q.ctx.Done():
			return batch, true
		}
	}
	return batch, true
}

func (q *Queue[T]) sendWithRetry(batch []T) {
	n := len(batch)
	for attempt := 0; ; attempt++ {
		err := q.sender.Send(q.ctx, batch)
		if err == nil {
			q.stats.exported.Add(uint64(n))
			recordExported(context.Background(), q.opts.Mode, n)
			return
		}

		if !core.IsRetryable(err) || attempt >= q.opts.RetryMaxAttempts {
			q.stats.failed.Add(uint64(n))
			recordDropped(context.Background(), q.opts.Mode, "send_failed", n)
			q.opts.Logger.WarnRateLimited("export."+q.opts.Mode, time.Minute,
				"export batch dropped", "mode", q.opts.Mode, "items", n, "error", err)
			return
		}

		q.stats.retries.Add(1)
		recordRetry(context.Background(), q.opts.Mode)

		select {
		case <-time.After(q.backoff(attempt, err)):
		case <-q.ctx.Done():
			q.stats.cancelled.Add(uint64(n))
			return
		case <-q.flushDone():
			q.stats.cancelled.Add(uint64(n))
			return
		}
	}
}

// flushDone returns the expiry channel of the active flush deadline, or a
// never-closing channel when no flush is in progress.
func (q *Queue[T]) flushDone() <-chan struct{} {
	if p := q.flushCtx.Load(); p != nil {
		return (*p).Done()
	}
	return nil
}

// backoff computes the next retry delay: full jitter over an exponentially
// growing window, floored by any Retry-After hint from the backend.
func (q *Queue[T]) backoff(attempt int, err error) time.Duration {
	ceil := q.opts.RetryBase << attempt
	if ceil > q.opts.RetryCap || ceil <= 0 {
		ceil = q.opts.RetryCap
	}
	delay := rand.N(ceil)

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
		delay = apiErr.RetryAfter
	}
	return delay
}
