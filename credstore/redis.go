package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Redis stores the credential set as a JSON blob under one key per profile,
// so every process pointing at the same profile shares one session.
//
//	Performance: 1 Redis command per operation.
type Redis struct {
	redis   redis.UniversalClient
	prefix  string
	profile string
	ttl     time.Duration
}

// NewRedis creates a Redis backend. prefix sets the key namespace; ttl bounds
// how long a stored set survives without being rewritten (0 keeps it).
func NewRedis(client redis.UniversalClient, prefix, profile string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "ac"
	}
	if profile == "" {
		profile = "default"
	}
	return &Redis{
		redis:   client,
		prefix:  prefix,
		profile: profile,
		ttl:     ttl,
	}
}

// Key returns the Redis key holding the credential blob.
func (r *Redis) Key() string {
	return r.prefix + ":cred:" + r.profile
}

func (r *Redis) Load(ctx context.Context) (*Credentials, error) {
	data, err := r.redis.Get(ctx, r.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credentials blob: %w", err)
	}
	return &c, nil
}

func (r *Redis) Save(ctx context.Context, c Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, r.Key(), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.Key()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
