package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock drives the limiter deterministically: sleep advances time instead
// of blocking.
type fakeClock struct {
	now time.Time
}

func newFakeLimiter(start time.Time) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{now: start}
	l := NewMemoryLimiter(zap.NewNop())
	l.now = func() time.Time { return clock.now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.now = clock.now.Add(d)
		return nil
	}
	return l, clock
}

func TestMemoryLimiter_PerSecondWindow(t *testing.T) {
	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l, clock := newFakeLimiter(start)
	l.SetLimit("svc", 100, 2)

	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "svc"))
	require.NoError(t, l.Wait(ctx, "svc"))
	assert.Equal(t, start, clock.now, "first two admissions are immediate")

	// Third admission must wait for the one-second window to roll.
	require.NoError(t, l.Wait(ctx, "svc"))
	assert.True(t, clock.now.Sub(start) >= time.Second,
		"third admission delayed past the 1s window, got %v", clock.now.Sub(start))
}

func TestMemoryLimiter_PerMinuteWindow(t *testing.T) {
	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l, clock := newFakeLimiter(start)
	l.SetLimit("svc", 3, 100)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "svc"))
	}
	assert.Equal(t, start, clock.now)

	require.NoError(t, l.Wait(ctx, "svc"))
	assert.True(t, clock.now.Sub(start) >= time.Minute,
		"fourth admission delayed past the 60s window, got %v", clock.now.Sub(start))
}

// Replays every admission against both windows: at no point may more than
// perSecond admissions share a 1s window or perMinute share a 60s window.
func TestMemoryLimiter_WindowInvariant(t *testing.T) {
	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newFakeLimiter(start)
	const perMinute, perSecond = 10, 3
	l.SetLimit("svc", perMinute, perSecond)

	ctx := context.Background()
	var admissions []time.Time
	for i := 0; i < 40; i++ {
		require.NoError(t, l.Wait(ctx, "svc"))
		w := l.window("svc")
		admissions = append(admissions, w.admissions[len(w.admissions)-1])
	}

	for i, at := range admissions {
		inSecond, inMinute := 0, 0
		for _, other := range admissions {
			d := at.Sub(other)
			if d >= 0 && d < time.Second {
				inSecond++
			}
			if d >= 0 && d < time.Minute {
				inMinute++
			}
		}
		assert.LessOrEqual(t, inSecond, perSecond, "admission %d violates 1s window", i)
		assert.LessOrEqual(t, inMinute, perMinute, "admission %d violates 60s window", i)
	}
}

func TestMemoryLimiter_SetLimitIdempotent(t *testing.T) {
	l, _ := newFakeLimiter(time.Now())
	l.SetLimit("svc", 30, 5)
	l.SetLimit("svc", 30, 5)

	w := l.window("svc")
	assert.Equal(t, 30, w.perMinute)
	assert.Equal(t, 5, w.perSecond)

	// Zero values keep the existing budgets.
	l.SetLimit("svc", 0, 0)
	assert.Equal(t, 30, w.perMinute)
	assert.Equal(t, 5, w.perSecond)
}

func TestMemoryLimiter_ContextCancellation(t *testing.T) {
	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newFakeLimiter(start)
	l.SetLimit("svc", 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "svc"))

	cancel()
	err := l.Wait(ctx, "svc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLimiter_ServicesAreIndependent(t *testing.T) {
	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l, clock := newFakeLimiter(start)
	l.SetLimit("a", 100, 1)
	l.SetLimit("b", 100, 1)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "a"))
	require.NoError(t, l.Wait(ctx, "b"))
	assert.Equal(t, start, clock.now, "limits on one service do not delay another")
}
