package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitPrefix namespaces limiter keys in redis.
const RateLimitPrefix = "acip:ratelimit:"

// RedisLimiter implements Limiter on redis sorted sets so multiple pipeline
// processes can share one budget per service. The window bookkeeping mirrors
// the in-memory limiter: one sorted set per (service, window) scored by
// admission time in nanoseconds.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	limits map[string][2]int // service -> {perMinute, perSecond}

	pollInterval time.Duration
}

// NewRedisLimiter creates a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:       client,
		logger:       logger,
		limits:       make(map[string][2]int),
		pollInterval: 100 * time.Millisecond,
	}
}

// SetLimit configures a service's budgets.
func (r *RedisLimiter) SetLimit(service string, perMinute, perSecond int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.limits[service]
	if !ok {
		cur = [2]int{DefaultPerMinute, DefaultPerSecond}
	}
	if perMinute > 0 {
		cur[0] = perMinute
	}
	if perSecond > 0 {
		cur[1] = perSecond
	}
	r.limits[service] = cur
}

// Wait polls both windows until admission, then records the admission in both.
func (r *RedisLimiter) Wait(ctx context.Context, service string) error {
	perMinute, perSecond := r.limitsFor(service)

	for {
		ok, err := r.tryAdmit(ctx, service, perMinute, perSecond)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RedisLimiter) limitsFor(service string) (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cur, ok := r.limits[service]; ok {
		return cur[0], cur[1]
	}
	return DefaultPerMinute, DefaultPerSecond
}

// tryAdmit checks both windows atomically-enough via a pipeline: expire stale
// members, count, and only add the admission when both windows have room.
func (r *RedisLimiter) tryAdmit(ctx context.Context, service string, perMinute, perSecond int) (bool, error) {
	now := time.Now()
	minuteKey := RateLimitPrefix + service + ":1m"
	secondKey := RateLimitPrefix + service + ":1s"

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, minuteKey, "-inf",
		strconv.FormatInt(now.Add(-time.Minute).UnixNano(), 10))
	pipe.ZRemRangeByScore(ctx, secondKey, "-inf",
		strconv.FormatInt(now.Add(-time.Second).UnixNano(), 10))
	minuteCount := pipe.ZCard(ctx, minuteKey)
	secondCount := pipe.ZCard(ctx, secondKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	if minuteCount.Val() >= int64(perMinute) || secondCount.Val() >= int64(perSecond) {
		r.logger.Debug("rate limit exceeded",
			zap.String("service", service),
			zap.Int64("minute_count", minuteCount.Val()),
			zap.Int64("second_count", secondCount.Val()))
		return false, nil
	}

	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000),
	}
	add := r.client.Pipeline()
	add.ZAdd(ctx, minuteKey, member)
	add.ZAdd(ctx, secondKey, member)
	add.Expire(ctx, minuteKey, 2*time.Minute)
	add.Expire(ctx, secondKey, 2*time.Second)
	if _, err := add.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter admission failed: %w", err)
	}
	return true, nil
}
