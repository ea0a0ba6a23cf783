package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryLimiter keeps a per-service sliding window of admission timestamps.
// Callers on the same service are serialized by the service mutex so the
// accounting stays accurate under concurrency; entries older than 60 s are
// expired lazily on each call.
type MemoryLimiter struct {
	mu       sync.Mutex
	services map[string]*serviceWindow
	logger   *zap.Logger

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type serviceWindow struct {
	mu         sync.Mutex
	perMinute  int
	perSecond  int
	admissions []time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(logger *zap.Logger) *MemoryLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLimiter{
		services: make(map[string]*serviceWindow),
		logger:   logger,
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// SetLimit configures a service's budgets.
func (l *MemoryLimiter) SetLimit(service string, perMinute, perSecond int) {
	w := l.window(service)
	w.mu.Lock()
	defer w.mu.Unlock()
	if perMinute > 0 {
		w.perMinute = perMinute
	}
	if perSecond > 0 {
		w.perSecond = perSecond
	}
}

// Wait blocks until both the one-second and sixty-second windows admit one
// more request, then records the admission time.
func (l *MemoryLimiter) Wait(ctx context.Context, service string) error {
	w := l.window(service)

	// One pending waiter is advanced at a time per service.
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := l.now()
		w.expire(now)

		delay := w.nextDelay(now)
		if delay <= 0 {
			w.admissions = append(w.admissions, now)
			return nil
		}

		l.logger.Debug("rate limit wait",
			zap.String("service", service),
			zap.Duration("delay", delay))

		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *MemoryLimiter) window(service string) *serviceWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.services[service]
	if !ok {
		w = &serviceWindow{perMinute: DefaultPerMinute, perSecond: DefaultPerSecond}
		l.services[service] = w
	}
	return w
}

// expire drops admissions older than the minute window.
func (w *serviceWindow) expire(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(w.admissions); i++ {
		if w.admissions[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.admissions = append(w.admissions[:0], w.admissions[i:]...)
	}
}

// nextDelay returns how long the caller must wait before both windows admit
// one more request, or zero if admission is possible now.
func (w *serviceWindow) nextDelay(now time.Time) time.Duration {
	var delay time.Duration

	// Per-second window.
	secCutoff := now.Add(-time.Second)
	inSecond := 0
	var oldestInSecond time.Time
	for i := len(w.admissions) - 1; i >= 0; i-- {
		if !w.admissions[i].After(secCutoff) {
			break
		}
		inSecond++
		oldestInSecond = w.admissions[i]
	}
	if inSecond >= w.perSecond {
		d := oldestInSecond.Add(time.Second).Sub(now)
		if d > delay {
			delay = d
		}
	}

	// Per-minute window: expire already dropped anything older than 60 s.
	if len(w.admissions) >= w.perMinute {
		d := w.admissions[len(w.admissions)-w.perMinute].Add(time.Minute).Sub(now)
		if d > delay {
			delay = d
		}
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}
