// Package lock serializes control operations. Acquisition never blocks:
// a held lock fails immediately with ErrBusy.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrBusy means another control operation holds the lock.
var ErrBusy = errors.New("another control operation is in progress")

// Locker hands out an exclusive lock. The returned release func is safe to
// call more than once.
type Locker interface {
	TryLock(ctx context.Context) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local { return &Local{} }

func (l *Local) TryLock(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lease taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// leaseBackend is the token-guarded key store behind Redis.
type leaseBackend interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisBackend struct {
	rdb redis.UniversalClient
}

func (b redisBackend) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.rdb.SetNX(ctx, key, token, ttl).Result()
}

func (b redisBackend) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	return n == 1, err
}

func (b redisBackend) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.rdb, []string{key}, token).Err()
}

// Redis is a lease-based Locker shared between processes. The lease is
// renewed every TTL/3 while held; the TTL only bounds how long a crashed
// holder can keep the lock.
type Redis struct {
	backend leaseBackend
	key     string
	ttl     time.Duration
}

func NewRedis(rdb redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return newLease(redisBackend{rdb: rdb}, key, ttl)
}

func newLease(backend leaseBackend, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{backend: backend, key: key, ttl: ttl}
}

func (r *Redis) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := r.backend.acquire(ctx, r.key, token, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	// The lease must outlive a cancelled caller.
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(bg, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(bg, 5*time.Second)
			defer cancel()
			_ = r.backend.release(ctx, r.key, token)
		})
	}, nil
}

// keepAlive renews the lease until stop is closed or the lease is lost.
func (r *Redis) keepAlive(ctx context.Context, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, r.ttl/3)
			ok, err := r.backend.renew(rctx, r.key, token, r.ttl)
			cancel()
			if err == nil && !ok {
				return
			}
		}
	}
}
