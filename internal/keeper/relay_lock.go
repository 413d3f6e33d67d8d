/**
 * @description
 * Distributed relay lock built on Redis. Keeper replicas all consume the same
 * delivery queue; the lock keeps two replicas from relaying the same transfer
 * concurrently. The controller's state guards make a duplicate relay safe,
 * but holding the lock avoids burning a relay attempt on a guaranteed
 * conflict.
 */

package keeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var relayUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RelayLock guards a transfer id while a relay attempt is in flight.
type RelayLock interface {
	Acquire(ctx context.Context, transferID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, transferID string)
}

// RedisRelayLock implements RelayLock using SET NX with a per-holder token.
type RedisRelayLock struct {
	client redis.UniversalClient
	prefix string
	token  string
}

// NewRedisRelayLock creates a lock manager. The token identifies this keeper
// instance so a replica never releases a lock it does not hold.
func NewRedisRelayLock(client redis.UniversalClient, prefix, token string) *RedisRelayLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "treasury:relay_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRelayLock{
		client: client,
		prefix: trimmedPrefix,
		token:  token,
	}
}

func (l *RedisRelayLock) key(transferID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, transferID)
}

// Acquire takes the lock for one transfer. Returns false when another
// replica holds it.
func (l *RedisRelayLock) Acquire(ctx context.Context, transferID string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return l.client.SetNX(ctx, l.key(transferID), l.token, ttl).Result()
}

// Release frees the lock if this instance still holds it. Release failures
// are swallowed: the TTL bounds how long a stale lock can linger.
func (l *RedisRelayLock) Release(ctx context.Context, transferID string) {
	if l == nil || l.client == nil {
		return
	}
	_ = relayUnlockScript.Run(ctx, l.client, []string{l.key(transferID)}, l.token).Err()
}

// NoopRelayLock always grants the lock. Used when Redis is not configured,
// which is fine for a single-replica keeper.
type NoopRelayLock struct{}

func (NoopRelayLock) Acquire(ctx context.Context, transferID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopRelayLock) Release(ctx context.Context, transferID string) {}
