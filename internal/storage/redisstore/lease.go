package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey: ключ аренды публикации outbox.
const DefaultLeaseKey = "streamflow:outbox:lease"

// renewScript продлевает аренду, только если ею владеет ARGV[1].
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// releaseScript удаляет ключ, только если им владеет ARGV[1].
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// leaseClient: подмножество *redis.Client, которое использует аренда.
type leaseClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Lease: аренда с TTL: в каждый момент публикацией outbox занимается один экземпляр.
// Если владелец пропал, аренда истекает сама.
type Lease struct {
	client leaseClient
	key    string
	owner  string
	ttl    time.Duration
}

// NewLease создаёт аренду для владельца owner (обычно hostname + pid).
func NewLease(client leaseClient, key, owner string, ttl time.Duration) *Lease {
	if key == "" {
		key = DefaultLeaseKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lease{client: client, key: key, owner: owner, ttl: ttl}
}

// TryAcquire берёт свободную аренду или продлевает свою.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if acquired {
		return true, nil
	}

	renewed, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release освобождает аренду, если ею всё ещё владеет этот экземпляр.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
