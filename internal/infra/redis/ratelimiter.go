package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 200
	rateLimitKeyPrefix = "push:ratelimit:"
	minWait            = time.Millisecond
)

// gcraScript implements the generic cell rate algorithm. It keeps one theoretical arrival
// time per key and returns 0 when the send may go out now, or the milliseconds to wait.
//
// KEYS[1] bucket key, ARGV[1] now (ms), ARGV[2] emission interval (ms), ARGV[3] burst (ms).
var gcraScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local next_tat = tat + interval
local allow_at = next_tat - burst
if now < allow_at then
  return math.ceil(allow_at - now)
end

redis.call("SET", KEYS[1], next_tat, "PX", math.ceil(next_tat - now))
return 0
`)

// RedisRateLimiter spaces sends to each push service host evenly across replicas, allowing a
// burst of up to one second's worth of sends.
type RedisRateLimiter struct {
	client   goredis.Scripter
	interval time.Duration
	burst    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	interval := time.Second / time.Duration(limitPerSec)
	if interval < minWait {
		interval = minWait
	}

	return &RedisRateLimiter{
		client:   client,
		interval: interval,
		burst:    interval * time.Duration(limitPerSec),
		now:      nowFn,
		sleep:    sleepFn,
	}, nil
}

// Allow takes a send slot for host if one is free right now.
func (r *RedisRateLimiter) Allow(ctx context.Context, host string) (bool, error) {
	wait, err := r.reserve(ctx, host)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until a send slot for host is free or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, host string) error {
	for {
		wait, err := r.reserve(ctx, host)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, host string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return 0, fmt.Errorf("push service host is required")
	}

	waitMs, err := gcraScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + host},
		r.now().UnixMilli(),
		r.interval.Milliseconds(),
		r.burst.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", host, err)
	}

	return time.Duration(waitMs) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
