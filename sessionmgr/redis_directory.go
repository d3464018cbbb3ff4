package sessionmgr

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisDirectory is a Directory backed by Redis, letting a pool of proxy
// instances behind a load balancer agree on which connection a session
// belongs to. It only ever stores the sessionId→connectionId string: the
// Connection itself (its live upstream transport, goroutines, buffered
// events) stays process-local to whichever instance dialed it, so a lookup
// resolving to a connection id this instance never dialed still misses
// locally and falls through to §4.6's "connection not found" path.
type RedisDirectory struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDirectory creates a Redis-backed Directory. ttl bounds how long an
// idle mapping survives in Redis independent of this instance's own sweep;
// zero means no expiry is set.
func NewRedisDirectory(rdb *redis.Client, prefix string, ttl time.Duration) *RedisDirectory {
	if prefix == "" {
		prefix = "mcpproxy:session:"
	}
	return &RedisDirectory{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *RedisDirectory) key(sessionID string) string { return d.prefix + sessionID }

func (d *RedisDirectory) Get(ctx context.Context, sessionID string) (string, bool, error) {
	connID, err := d.rdb.Get(ctx, d.key(sessionID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return connID, true, nil
}

func (d *RedisDirectory) Put(ctx context.Context, sessionID, connectionID string) error {
	return d.rdb.Set(ctx, d.key(sessionID), connectionID, d.ttl).Err()
}

func (d *RedisDirectory) Delete(ctx context.Context, sessionID string) error {
	return d.rdb.Del(ctx, d.key(sessionID)).Err()
}

var _ Directory = (*RedisDirectory)(nil)
