package lock

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Locker serialises work on a key, typically one retrospect id.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the key and is safe to call once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Mode() string
	Close() error
}

// NewLocker returns a Redis-backed locker when redisURL is set, otherwise an
// in-process one.
func NewLocker(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) (Locker, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewKeyedMutex(), nil
	}
	return NewRedisLocker(ctx, redisURL, ttl, logger)
}
