package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "siterestore:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker locks through SET NX keys with a TTL.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed locker using a redis:// URL.
func NewRedisLocker(url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLockerWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	redisKey := redisKeyPrefix + keyHash(key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return func() error {
		// The caller's context may be gone by the time the lock is released.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
