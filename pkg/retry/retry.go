// Package retry re-runs calls that leave the process: notification webhooks
// and the first connection to Postgres and Redis at boot.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent marks err as final even when a RetryIf predicate would accept it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether err carries the Retryable marker.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// strip removes a top-level marker so callers see the original error.
func strip(err error) error {
	switch e := err.(type) {
	case *retryableError:
		return e.err
	case *permanentError:
		return e.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// Backoff computes exponential delays with symmetric jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter in [0,1]: 0.2 means +-20%.
	Jitter float64
}

// Delay returns the pause after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs an operation up to Attempts times.
type Retrier struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithAttempts sets the total number of attempts, the first one included.
func WithAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff replaces the delay schedule.
func WithBackoff(b Backoff) Option {
	return func(r *Retrier) {
		if b.Multiplier < 1 {
			b.Multiplier = 1
		}
		r.backoff = b
	}
}

// WithRetryIf decides which errors are retried. By default only errors
// wrapped with Retryable are.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithLogger logs every retry as a warning.
func WithLogger(log *logger.Logger, operation string) Option {
	if log == nil {
		log = logger.Nop()
	}
	return func(r *Retrier) {
		r.onRetry = func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying",
				logger.Operation(operation),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}
	}
}

// New creates a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		attempts: 3,
		backoff:  Backoff{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.1},
		retryIf:  IsRetryable,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends. The returned error never carries the retry markers.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return strip(lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || !r.retryIf(err) || attempt == r.attempts {
			return strip(err)
		}

		delay := r.backoff.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if r.sleep(ctx, delay) != nil {
			return strip(lastErr)
		}
	}
	return strip(lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// WebhookRetrier retries notification deliveries marked Retryable.
func WebhookRetrier(attempts int) *Retrier {
	if attempts <= 0 {
		attempts = 3
	}
	return New(
		WithAttempts(attempts),
		WithBackoff(Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2, Jitter: 0.2}),
	)
}

// StartupRetrier waits for Postgres or Redis while the process boots.
// Every error except cancellation is retried.
func StartupRetrier(log *logger.Logger, operation string) *Retrier {
	return New(
		WithAttempts(6),
		WithBackoff(Backoff{Initial: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2, Jitter: 0.1}),
		WithRetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
		WithLogger(log, operation),
	)
}
