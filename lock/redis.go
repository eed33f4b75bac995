package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired before the
// wait budget or ctx ran out.
var ErrLockTimeout = errors.New("refresh lock timeout")

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotHeld is returned by release when the lock expired or was taken over.
var ErrNotHeld = errors.New("refresh lock not held")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Redis is a single-key mutex built on SET NX PX with a compare-and-delete
// release.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// Option tunes a Redis lock.
type Option func(*Redis)

// WithTTL bounds how long a crashed holder can block others. Default 15s.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithWait bounds how long Acquire blocks. Default 10s.
func WithWait(wait time.Duration) Option {
	return func(r *Redis) {
		if wait > 0 {
			r.wait = wait
		}
	}
}

// WithPollInterval sets the delay between acquisition attempts. Default 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.poll = d
		}
	}
}

// NewRedis returns a lock on prefix+":refresh-lock:"+profile.
func NewRedis(client redis.UniversalClient, prefix, profile string, opts ...Option) *Redis {
	if prefix == "" {
		prefix = "ac"
	}
	if profile == "" {
		profile = "default"
	}
	r := &Redis{
		client: client,
		key:    prefix + ":refresh-lock:" + profile,
		ttl:    15 * time.Second,
		wait:   10 * time.Second,
		poll:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the Redis key guarded by the lock.
func (r *Redis) Key() string {
	return r.key
}

// Acquire blocks until the lock is held. The returned release deletes the key
// only if this holder still owns it.
func (r *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			return r.releaser(token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(token string) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := releaseLua.Run(ctx, r.client, []string{r.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
}
