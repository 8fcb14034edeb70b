// Package lock provides a lease held across processes in Redis.
package lock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of the Redis client used by Locker.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Locker grants leases with SET NX PX and releases them with a
// compare-and-delete script.
type Locker struct {
	client Client
}

// New creates a Locker.
func New(client Client) *Locker {
	return &Locker{client: client}
}

// TryLock acquires key for ttl. The lease expires on its own if the holder
// dies before releasing it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "set %s", key)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return errors.Wrapf(err, "release %s", key)
		}
		return nil
	}
	return release, true, nil
}
