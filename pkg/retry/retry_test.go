package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetrier records delays instead of sleeping.
func fastRetrier(attempts int, slept *[]time.Duration) *Retrier {
	r := New(
		WithAttempts(attempts),
		WithBackoff(Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2}),
	)
	r.sleep = func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}
	return r
}

func TestRetrier_RetriesRetryableErrors(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := fastRetrier(4, &slept).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return Retryable(errors.New("503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, slept)
}

func TestRetrier_UnmarkedErrorsAreFinal(t *testing.T) {
	calls := 0
	bad := errors.New("400")
	err := fastRetrier(5, nil).Do(context.Background(), func(context.Context) error {
		calls++
		return bad
	})
	assert.Same(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_PermanentBeatsRetryIf(t *testing.T) {
	calls := 0
	bad := errors.New("bad credentials")
	r := fastRetrier(5, nil)
	r.retryIf = func(error) bool { return true }

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.Same(t, bad, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	calls := 0
	down := errors.New("down")
	err := fastRetrier(2, nil).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(down)
	})

	assert.Same(t, down, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestRetrier_WrappedMarkerIsStillRetried(t *testing.T) {
	calls := 0
	err := fastRetrier(3, nil).Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("post: %w", Retryable(errors.New("timeout")))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := fastRetrier(5, nil)
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	down := errors.New("down")
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return Retryable(down)
	})
	assert.Same(t, down, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_CapsAndJitters(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 3}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))

	b.Jitter = 0.2
	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fastRetrier(3, nil), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("not yet"))
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestStartupRetrier_RetriesPlainErrors(t *testing.T) {
	r := StartupRetrier(nil, "connect")
	assert.True(t, r.retryIf(errors.New("connection refused")))
	assert.False(t, r.retryIf(context.Canceled))
}
