// Package resilience decorates outbound calls (LLM, search, scraping) with
// classified retries and per-service circuit breaking.
package resilience

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and skips calls
// for a cooldown period. One success fully resets it.
type CircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           CircuitState
	threshold       int
	cooldown        time.Duration

	now func() time.Time
}

const (
	DefaultCircuitThreshold = 5
	DefaultCircuitCooldown  = 5 * time.Minute
)

// NewCircuitBreaker creates a breaker; zero parameters use the defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitCooldown
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// ShouldSkip reports whether calls should be skipped right now. Once the
// cooldown has elapsed the breaker moves to half-open and admits probes.
func (cb *CircuitBreaker) ShouldSkip() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return false
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.cooldown {
			cb.state = CircuitHalfOpen
			return false
		}
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// ConsecutiveFailures returns the current failure run length.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// BreakerRegistry holds one breaker per named service.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	threshold int
	cooldown  time.Duration
}

// NewBreakerRegistry creates a registry whose breakers share parameters.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// For returns the breaker for a service, creating it on first use.
func (r *BreakerRegistry) For(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[service]
	if !ok {
		cb = NewCircuitBreaker(r.threshold, r.cooldown)
		r.breakers[service] = cb
	}
	return cb
}
