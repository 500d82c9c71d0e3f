package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLease provides the process lease via Redis using SET NX with TTL.
// It uses a random ownership value and a Lua script for atomic release
// to prevent accidental release of a lease held by another process.
type RedisLease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLease creates a new process lease backed by Redis.
func NewRedisLease(client *redis.Client, name string, ttl time.Duration) *RedisLease {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLease{
		client: client,
		key:    fmt.Sprintf("lease:%s", name),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to acquire the lease. Returns true if successful.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	result, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return result, nil
}

// Release releases the lease only if we still own it (Lua for atomicity).
func (l *RedisLease) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}

// Extend extends the lease TTL; the dispatcher calls this on a
// heartbeat so the lease outlives long uptimes but still expires after
// a crash.
func (l *RedisLease) Extend(ctx context.Context, ttl time.Duration) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("lease %s no longer owned", l.key)
	}
	return nil
}
