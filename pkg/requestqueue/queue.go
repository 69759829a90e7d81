// Package requestqueue serializes outgoing provider calls.
//
// The queue is a serialization point, not a parallelism primitive: a single
// consumer dispatches one request at a time with a minimum spacing between
// dispatches, so the client stays provider-friendly under bursts. Rate-limit
// responses feed a backoff delay shared by every queued request, distinct
// from the per-call retry engine: a burst of 429s slows the whole client
// down collectively instead of each call backing off on its own.
package requestqueue

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lakefront/s3console/pkg/apperror"
)

// Priorities assigned by call-site policy.
const (
	PriorityAuth        = 100
	PriorityInteractive = 50
	PriorityNormal      = 10
	PriorityBackground  = 0
)

// ErrClosed is returned for requests still pending when the queue shuts down.
var ErrClosed = errors.New("request queue closed")

// Config configures a Queue.
type Config struct {
	// MinInterval is the minimum spacing between any two dispatches.
	// Default 100ms.
	MinInterval time.Duration

	// BaseRateDelay is the floor of the shared rate-limit delay. Default 1s.
	BaseRateDelay time.Duration

	// MaxRateDelay caps rate-limit backoff sleeps. Default 30s.
	MaxRateDelay time.Duration

	// Logger receives dispatch and backoff diagnostics. Nil disables logging.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 100 * time.Millisecond
	}
	if c.BaseRateDelay <= 0 {
		c.BaseRateDelay = time.Second
	}
	if c.MaxRateDelay <= 0 {
		c.MaxRateDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Options configures a single enqueued request.
type Options struct {
	// Priority orders dispatch; higher runs first. FIFO within a priority.
	Priority int

	// MaxRetries bounds rate-limit re-queues for this request. Default 3.
	MaxRetries int
}

// Stats is a diagnostic snapshot of queue state.
type Stats struct {
	Pending     int           `json:"pending"`
	RateDelay   time.Duration `json:"rate_delay"`
	Dispatched  uint64        `json:"dispatched"`
	RateLimited uint64        `json:"rate_limited"`
}

type outcome struct {
	value any
	err   error
}

type item struct {
	id         string
	ctx        context.Context
	fn         func(context.Context) (any, error)
	priority   int
	retryCount int
	maxRetries int
	done       chan outcome
}

// Queue dispatches requests one at a time in priority order.
//
// Construct with New and release with Close.
type Queue struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu          sync.Mutex
	pending     []*item
	rateDelay   time.Duration
	dispatched  uint64
	rateLimited uint64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	doneWg sync.WaitGroup
}

// New creates a Queue and starts its consumer goroutine.
func New(cfg Config) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:    cfg.Logger,
		rateDelay: cfg.BaseRateDelay,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	q.doneWg.Add(1)
	go q.run()

	return q
}

// Enqueue submits fn and blocks until it settles: resolved, rejected, or
// abandoned because ctx ended first. fn runs on the consumer goroutine.
func (q *Queue) Enqueue(ctx context.Context, fn func(context.Context) (any, error), opts Options) (any, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	it := &item{
		id:         uuid.NewString(),
		ctx:        ctx,
		fn:         fn,
		priority:   opts.Priority,
		maxRetries: opts.MaxRetries,
		done:       make(chan outcome, 1),
	}

	q.mu.Lock()
	q.insert(it)
	q.mu.Unlock()
	q.signal()

	select {
	case out := <-it.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.ctx.Done():
		return nil, ErrClosed
	}
}

// EnqueueValue submits fn and returns its typed result.
func EnqueueValue[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error), opts Options) (T, error) {
	v, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Stats returns a diagnostic snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:     len(q.pending),
		RateDelay:   q.rateDelay,
		Dispatched:  q.dispatched,
		RateLimited: q.rateLimited,
	}
}

// Close stops the consumer. Requests still pending reject with ErrClosed.
func (q *Queue) Close() {
	q.cancel()
	q.doneWg.Wait()

	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- outcome{err: ErrClosed}
	}
}

// insert places it before the first pending entry with strictly lower
// priority, keeping FIFO order within a priority level. Caller holds mu.
func (q *Queue) insert(it *item) {
	at := len(q.pending)
	for i, p := range q.pending {
		if p.priority < it.priority {
			at = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[at+1:], q.pending[at:])
	q.pending[at] = it
}

func (q *Queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending = q.pending[1:]
	return it
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.doneWg.Done()

	for {
		it := q.pop()
		if it == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		// Abandoned while queued: settle without dispatching.
		if err := it.ctx.Err(); err != nil {
			it.done <- outcome{err: err}
			continue
		}

		// Enforce minimum spacing between dispatches.
		if err := q.limiter.Wait(q.ctx); err != nil {
			it.done <- outcome{err: ErrClosed}
			return
		}

		value, err := it.fn(it.ctx)

		q.mu.Lock()
		q.dispatched++
		q.mu.Unlock()

		if err == nil {
			q.relaxRateDelay()
			it.done <- outcome{value: value}
			continue
		}

		if apperror.IsRateLimit(err) && it.retryCount < it.maxRetries {
			q.handleRateLimit(it)
			continue
		}

		it.done <- outcome{value: value, err: err}
	}
}

// relaxRateDelay decays the shared delay multiplicatively after a success.
func (q *Queue) relaxRateDelay() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rateDelay = time.Duration(float64(q.rateDelay) * 0.8)
	if q.rateDelay < q.cfg.BaseRateDelay {
		q.rateDelay = q.cfg.BaseRateDelay
	}
}

// handleRateLimit sleeps out the shared backoff on the consumer goroutine
// (pausing the whole queue is the point), then re-inserts the request with
// a priority bump so retried work is not starved behind new arrivals.
func (q *Queue) handleRateLimit(it *item) {
	q.mu.Lock()
	q.rateLimited++
	backoff := q.rateDelay << uint(it.retryCount)
	backoff += time.Duration(rand.Float64() * 0.1 * float64(backoff))
	if backoff > q.cfg.MaxRateDelay {
		backoff = q.cfg.MaxRateDelay
	}
	// Grow the shared delay so unrelated queued requests slow down too.
	q.rateDelay = min(q.rateDelay*2, q.cfg.MaxRateDelay)
	q.mu.Unlock()

	q.logger.Warn("rate limited, backing off",
		zap.String("request_id", it.id),
		zap.Int("retry_count", it.retryCount),
		zap.Duration("backoff", backoff))

	select {
	case <-q.ctx.Done():
		it.done <- outcome{err: ErrClosed}
		return
	case <-time.After(backoff):
	}

	it.retryCount++
	it.priority++

	q.mu.Lock()
	q.insert(it)
	q.mu.Unlock()
	q.signal()
}
