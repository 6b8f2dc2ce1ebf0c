package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/go-redis/redis"
	"github.com/google/uuid"
)

const redisKeyPrefix = "lock:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker keeps locks as expiring redis keys.
type RedisLocker struct {
	client *redis.Client
	expiry time.Duration
	owner  string
	logger logging.Logger
}

// NewRedisLocker connects to redis at addr and verifies the connection.
func NewRedisLocker(addr string, expiry time.Duration, logger logging.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisLocker{
		client: client,
		expiry: expiry,
		owner:  uuid.NewString(),
		logger: logger.With("module", "lock", "backend", "redis"),
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(redisKeyPrefix+name, l.owner, l.expiry).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, name string) error {
	res, err := releaseScript.Run(l.client, []string{redisKeyPrefix + name}, l.owner).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return fmt.Errorf("release lock %s: %w", name, common.ErrLockNotHeld)
	}
	return nil
}

// Close closes the redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
