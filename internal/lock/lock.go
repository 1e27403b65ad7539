// Package lock serializes writes per athlete. Runs for different athletes
// proceed in parallel; runs for the same athlete queue behind each other.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"adaptive-training/internal/config"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context ended
var ErrNotAcquired = errors.New("lock not acquired")

// ErrLockLost is returned on release when the lock expired and was taken over
var ErrLockLost = errors.New("lock lost before release")

// Release gives a held lock back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker hands out exclusive per-key locks
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// AthleteKey is the lock key for an athlete's write path
func AthleteKey(athleteID string) string {
	return "athlete:" + athleteID
}

// New returns a redis-backed locker when redis is enabled, else an in-process
// one. The returned close func releases the redis connection.
func New(cfg config.RedisConfig) (Locker, func() error) {
	if !cfg.Enabled {
		return NewLocalLocker(), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := time.Duration(cfg.LockTTLSecs) * time.Second
	return NewRedisLocker(client, ttl), client.Close
}

// LocalLocker is a keyed mutex for a single process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx ends
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
