package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
)

// RetryConfig holds retry policy parameters.
type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig mirrors the pipeline-wide defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Executor applies retry-with-backoff and per-service circuit breaking to
// outbound calls. Auth and non-429 client errors propagate immediately;
// rate-limit, server, network and unknown errors are retried.
type Executor struct {
	cfg      RetryConfig
	breakers *BreakerRegistry
	logger   *slog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor sharing one breaker registry.
func NewExecutor(cfg RetryConfig, breakers *BreakerRegistry, logger *slog.Logger) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		breakers: breakers,
		logger:   logger,
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

// Breaker exposes the breaker for a service, mainly for collectors that need
// to consult ShouldSkip before starting a batch.
func (e *Executor) Breaker(service string) *CircuitBreaker {
	return e.breakers.For(service)
}

// Do runs fn with the retry policy for the named service. The classified
// error of the last attempt is returned when retries are exhausted.
func (e *Executor) Do(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	cb := e.breakers.For(service)
	if cb.ShouldSkip() {
		return errors.NewExternalError(service, "circuit breaker open, skipping call")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BaseDelay
	bo.MaxInterval = e.cfg.MaxDelay
	bo.Multiplier = e.cfg.BackoffMultiplier
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		lastErr = err
		cb.RecordFailure()

		if !errors.IsRetryable(err) {
			e.logger.Warn("outbound call failed permanently",
				"service", service, "attempt", attempt, "error", err)
			return err
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := bo.NextBackOff()
		e.logger.Debug("retrying outbound call",
			"service", service, "attempt", attempt, "delay", delay, "error", err)

		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return errors.Wrap(lastErr, "retries exhausted for "+service)
}
