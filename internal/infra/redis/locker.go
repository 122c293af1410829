package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	lockPollInterval   = 25 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker is a lease-based distributed lock. While held, the lease is renewed every
// third of its ttl, so long critical sections keep it; a holder that dies loses the key after ttl.
type RedisLocker struct {
	client *goredis.Client
	poll   time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisLocker(client *goredis.Client) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisLocker{
		client: client,
		poll:   lockPollInterval,
		sleep:  sleepWithContext,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			go l.renew(key, token, ttl, stop)
			return l.releaser(key, token, stop), nil
		}

		if err := l.sleep(ctx, l.poll); err != nil {
			return nil, err
		}
	}
}

// renew extends the lease until stop closes or the key no longer carries token.
func (l *RedisLocker) renew(key, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
			cancel()
			// A transient error is retried on the next tick; a lost lease is final.
			if err == nil && renewed == 0 {
				return
			}
		}
	}
}

func (l *RedisLocker) releaser(key, token string, stop chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}
}
