package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
)

func newTestExecutor(maxRetries int) (*Executor, *[]time.Duration) {
	var delays []time.Duration
	e := NewExecutor(RetryConfig{
		MaxRetries:        maxRetries,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}, NewBreakerRegistry(5, 5*time.Minute), nil)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return e, &delays
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	e, delays := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestExecutor_RetriesServerErrors(t *testing.T) {
	e, delays := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.NewServerError(500, "boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)

	// Exponential growth with jitter: second delay larger than base.
	assert.GreaterOrEqual(t, (*delays)[0], 800*time.Millisecond)
	assert.Greater(t, (*delays)[1], (*delays)[0])
}

func TestExecutor_AuthErrorNotRetried(t *testing.T) {
	e, _ := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		return errors.NewAuthError("svc", "invalid api key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
}

func TestExecutor_ClientErrorNotRetried(t *testing.T) {
	e, _ := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		return errors.NewClientError(404, "not found")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_RateLimitRetried(t *testing.T) {
	e, _ := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		return errors.NewRateLimitError("quota")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "rate-limit errors use all retries")
}

func TestExecutor_BreakerSkipsAfterTrip(t *testing.T) {
	e, _ := newTestExecutor(3)

	// Two exhausted runs of 3 retries each put the breaker past threshold 5.
	for i := 0; i < 2; i++ {
		_ = e.Do(context.Background(), "svc", func(ctx context.Context) error {
			return errors.NewServerError(502, "bad gateway")
		})
	}

	calls := 0
	err := e.Do(context.Background(), "svc", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, calls, "open breaker short-circuits without calling fn")
}

func TestExecutor_SuccessResetsBreaker(t *testing.T) {
	e, _ := newTestExecutor(3)

	_ = e.Do(context.Background(), "svc", func(ctx context.Context) error {
		return errors.NewServerError(500, "boom")
	})
	assert.Equal(t, 3, e.Breaker("svc").ConsecutiveFailures())

	require.NoError(t, e.Do(context.Background(), "svc", func(ctx context.Context) error {
		return nil
	}))
	assert.Equal(t, 0, e.Breaker("svc").ConsecutiveFailures())
}
