package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "retrotalk:lock:"
	defaultTTL = 2 * time.Minute
)

// RedisLocker holds a redsync mutex per key so several service instances can
// share one store. A local KeyedMutex in front keeps same-process callers off
// Redis while they wait.
type RedisLocker struct {
	client *redis.Client
	rs     *redsync.Redsync
	local  *KeyedMutex
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		local:  NewKeyedMutex(),
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (r *RedisLocker) Mode() string { return "redis" }

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	mutex := r.rs.NewMutex(keyPrefix+key, redsync.WithExpiry(r.ttl))
	if err := mutex.LockContext(ctx); err != nil {
		unlockLocal()
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return func() {
		// Release with a fresh context: the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(releaseCtx); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("failed to release retrospect lock")
		}
		unlockLocal()
	}, nil
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
