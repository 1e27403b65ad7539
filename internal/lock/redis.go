package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix     = "adaptive-training:lock:"
	defaultRetryInterval = 100 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a cross-process lock built on SET NX PX. Each hold carries a
// random token so an expired holder can never release its successor's lock.
// A held key is renewed every ttl/3 until release, so a run may outlast the
// ttl; the ttl only bounds how long a crashed holder blocks others.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
	prefix string
}

// RedisOption configures a RedisLocker
type RedisOption func(*RedisLocker)

// WithRetryInterval sets how often a contended Acquire polls
func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.retry = d
	}
}

// WithRenewInterval sets how often a held lock's expiry is extended
func WithRenewInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.renew = d
	}
}

// WithKeyPrefix namespaces lock keys
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a locker whose holds expire after ttl
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  defaultRetryInterval,
		renew:  ttl / 3,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls until key is free or ctx ends
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	k := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			stop := l.keepAlive(context.WithoutCancel(ctx), k, token)
			return l.release(k, token, stop), nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
	}
}

// keepAlive extends the hold until the returned stop func is called or the
// key is found to belong to someone else
func (l *RedisLocker) keepAlive(ctx context.Context, k, token string) (stop func()) {
	if l.renew <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(l.renew)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				n, err := renewScript.Run(ctx, l.client, []string{k}, token, l.ttl.Milliseconds()).Int()
				if err == nil && n == 0 {
					// expired and possibly taken over; release reports it
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

func (l *RedisLocker) release(k, token string, stop func()) Release {
	var once sync.Once
	var err error
	return func(ctx context.Context) error {
		once.Do(func() {
			stop()

			var n int
			n, err = releaseScript.Run(ctx, l.client, []string{k}, token).Int()
			if err != nil {
				err = fmt.Errorf("releasing lock %s: %w", k, err)
				return
			}
			if n == 0 {
				err = fmt.Errorf("%w: %s", ErrLockLost, k)
			}
		})
		return err
	}
}
