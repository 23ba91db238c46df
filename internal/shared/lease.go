package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SyncLeaseKey is the redis key guarding the adjustment sync critical section.
const SyncLeaseKey = "adjustments:sync:lease"

// releaseScript deletes the lease only when still owned by this holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a single-holder lease with a TTL safety valve: a crashed
// holder frees the lease once the TTL lapses.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLease constructs a lease on the given key.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// Acquire attempts to take the lease. It returns false when another holder
// currently owns it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("shared: lease not configured")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release frees the lease if this instance still owns it.
func (l *RedisLease) Release(ctx context.Context) error {
	if l == nil || l.client == nil || l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
}
