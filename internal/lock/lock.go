package lock

import (
	"context"
	"time"
)

// Locker serializes work on a key across goroutines, or processes for distributed implementations.
type Locker interface {
	// Acquire blocks until key is held or ctx ends. Calling release more than once is a no-op.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// IdentityKey is the lock key guarding one user's subscription and pending queue.
func IdentityKey(userID string) string {
	return "push:identity:" + userID
}
