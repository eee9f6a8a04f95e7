package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only if it still carries the caller's token,
// so a run that outlived its TTL cannot release a newer run's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLease is a single-holder lock with a TTL, keyed by name.
type RunLease struct {
	client *Client
	logger *zap.Logger
}

// NewRunLease creates a lease service.
func NewRunLease(client *Client, logger *zap.Logger) *RunLease {
	return &RunLease{client: client, logger: logger}
}

func (l *RunLease) key(name string) string {
	return keyPrefix + "lease:" + name
}

// TryAcquire takes the lease if nobody holds it. The returned token must be
// passed to Release.
func (l *RunLease) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	l.logger.Debug("run lease acquired", zap.String("name", name), zap.Duration("ttl", ttl))
	return token, true, nil
}

// Release gives the lease back. Releasing a lease that expired or was taken
// over by someone else is not an error.
func (l *RunLease) Release(ctx context.Context, name, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key(name)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	if n == 0 {
		l.logger.Warn("run lease was no longer ours on release", zap.String("name", name))
	}
	return nil
}
