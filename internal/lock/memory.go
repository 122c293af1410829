package lock

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

const defaultPollInterval = 10 * time.Millisecond

var _ Locker = (*MemoryLocker)(nil)

// MemoryLocker is an in-process Locker. ttl is not enforced.
type MemoryLocker struct {
	held mapset.Set[string]
	poll time.Duration
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: mapset.NewSet[string](),
		poll: defaultPollInterval,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		if l.held.Add(key) {
			var once sync.Once
			return func() {
				once.Do(func() { l.held.Remove(key) })
			}, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports the keys currently locked.
func (l *MemoryLocker) Held() []string {
	return l.held.ToSlice()
}
