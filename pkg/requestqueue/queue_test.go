package requestqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/apperror"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(Config{
		MinInterval:   time.Millisecond,
		BaseRateDelay: 5 * time.Millisecond,
		MaxRateDelay:  50 * time.Millisecond,
	})
	t.Cleanup(q.Close)
	return q
}

func TestEnqueueResolves(t *testing.T) {
	q := newTestQueue(t)

	got, err := EnqueueValue(context.Background(), q, func(context.Context) (string, error) {
		return "ok", nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, uint64(1), q.Stats().Dispatched)
}

func TestEnqueueRejectsNonRateLimitFailureDirectly(t *testing.T) {
	q := newTestQueue(t)

	boom := &apperror.HTTPError{StatusCode: 500}
	calls := 0
	_, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, boom
	}, Options{MaxRetries: 3})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-rate-limit failures are not re-queued")

	var httpErr *apperror.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Same(t, boom, httpErr)
}

func TestRateLimitRequeuesWithPriorityBump(t *testing.T) {
	q := newTestQueue(t)

	calls := 0
	start := time.Now()
	got, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, &apperror.HTTPError{StatusCode: 429}
		}
		return "done", nil
	}, Options{Priority: PriorityNormal, MaxRetries: 2})

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 2, calls)
	// The caller's promise only settled after the backoff and retry.
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, uint64(1), q.Stats().RateLimited)
}

func TestRateLimitRetriesExhaustedRejects(t *testing.T) {
	q := newTestQueue(t)

	calls := 0
	_, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, &apperror.HTTPError{StatusCode: 429}
	}, Options{MaxRetries: 2})

	require.Error(t, err)
	assert.True(t, apperror.IsRateLimit(err))
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries re-queues")
}

func TestSharedRateDelayGrowsAndRelaxes(t *testing.T) {
	q := newTestQueue(t)
	base := q.Stats().RateDelay

	_, _ = q.Enqueue(context.Background(), func(context.Context) (any, error) {
		return nil, &apperror.HTTPError{StatusCode: 429}
	}, Options{MaxRetries: 1})

	grown := q.Stats().RateDelay
	assert.Greater(t, grown, base)

	// Successes decay the shared delay back toward the floor.
	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		}, Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, base, q.Stats().RateDelay)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t)

	var mu sync.Mutex
	var order []string

	// A slow head-of-line request keeps the consumer busy while the rest
	// of the batch queues up.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), func(context.Context) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, nil
		}, Options{Priority: PriorityNormal})
	}()
	time.Sleep(10 * time.Millisecond)

	submit := func(name string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), func(context.Context) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			}, Options{Priority: priority})
		}()
		time.Sleep(5 * time.Millisecond) // deterministic submission order
	}

	submit("background", PriorityBackground)
	submit("auth", PriorityAuth)
	submit("normal", PriorityNormal)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"auth", "normal", "background"}, order)
}

func TestEnqueueHonorsCallerContext(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Enqueue(ctx, func(context.Context) (any, error) {
		return nil, errors.New("should not run")
	}, Options{})

	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseRejectsPending(t *testing.T) {
	q := New(Config{MinInterval: time.Millisecond})

	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
			<-release
			return nil, nil
		}, Options{})
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	go q.Close()
	close(release)

	err := <-errCh
	// Either the request completed before shutdown or it was rejected;
	// it must not hang.
	if err != nil {
		assert.ErrorIs(t, err, ErrClosed)
	}
}
