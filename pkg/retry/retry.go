// Package retry wraps operations with bounded retry and exponential backoff.
//
// Retry eligibility is delegated to the apperror classifier: transient
// classes (network, timeout, server, rate limit) are retried, auth and
// permission failures never are. The final error surfaced to the caller is
// always the original error from the last attempt, never a synthetic
// retries-exhausted wrapper.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/apperror"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// Factor is the multiplicative backoff growth per retry.
	Factor float64

	// Jitter adds up to 10% uniform noise to each delay to avoid
	// synchronized retries.
	Jitter bool
}

// DefaultPolicy is the policy applied when callers pass a zero Policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      2,
		Jitter:      true,
	}
}

// AuthPolicy is tuned for credential checks: fail fast, no jitter.
func AuthPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Factor:      2,
	}
}

// UploadPolicy is tuned for uploads: they fail more transiently and are
// expensive to restart, so more patience is warranted.
func UploadPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Factor:      1.5,
		Jitter:      true,
	}
}

// MetadataPolicy covers bucket/object metadata calls.
func MetadataPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      2,
		Jitter:      true,
	}
}

// Delay returns the pre-jitter backoff delay before retry number attempt
// (1-based: attempt 1 is the delay after the first failure).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Factor <= 1 {
		p.Factor = def.Factor
	}
	return p
}

// State is the transient retry progress surfaced to observers, typically
// for UI feedback.
type State struct {
	// Attempt is the attempt number that just failed (1-based).
	Attempt int

	// NextDelay is the sleep before the next attempt, jitter included.
	NextDelay time.Duration

	// IsRetrying is always true when the callback fires.
	IsRetrying bool

	// Err is the classified failure of this attempt.
	Err *apperror.Error
}

// OnRetry observes each scheduled retry. May be nil.
type OnRetry func(State)

// Engine executes operations under a Policy.
type Engine struct {
	policy Policy
	logger *zap.Logger
}

// New creates an Engine. A zero Policy field falls back to its default.
func New(policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policy: policy.withDefaults(), logger: logger}
}

// Do runs op, retrying on retry-eligible failures until the policy's
// attempt budget is spent. Non-retryable failures and the final attempt's
// failure are returned immediately with no further delay.
func (e *Engine) Do(ctx context.Context, op func(context.Context) error, onRetry OnRetry) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if attempt >= e.policy.MaxAttempts || !apperror.ShouldRetry(err) {
			return err
		}

		delay := e.policy.Delay(attempt)
		if e.policy.Jitter {
			delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
		}

		classified := apperror.Classify(err)
		e.logger.Debug("retrying operation",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("code", string(classified.Code)))
		if onRetry != nil {
			onRetry(State{Attempt: attempt, NextDelay: delay, IsRetrying: true, Err: classified})
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// DoValue runs op under eng's policy and returns its result.
func DoValue[T any](ctx context.Context, eng *Engine, op func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	var out T
	err := eng.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onRetry)
	return out, err
}
