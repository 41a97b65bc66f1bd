package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPageCache is a PageCache backed by Redis, the supplemented
// persistence SPEC_FULL.md's DOMAIN STACK calls for alongside the
// in-memory default: a host running many dagcore processes against the
// same network wants page-cache entries shared across them, the same
// reason the teacher reaches for Redis for session/rate-limit state.
type RedisPageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPageCache wraps client. ttl is the expiry set on a key's
// whole entry set by every Set for that key; Get does not extend it
// (0 disables expiry, relying entirely on explicit Invalidate/Delete
// calls).
func NewRedisPageCache(client *redis.Client, ttl time.Duration) *RedisPageCache {
	return &RedisPageCache{client: client, ttl: ttl}
}

// redisEntry is the wire format stored per Redis key: a set member list
// keeps every interval-scoped entry for a given cache key, since Redis
// has no notion of "overlapping interval" queries natively.
type redisEntry struct {
	Interval TimeInterval `json:"interval"`
	Value    []byte       `json:"value"`
}

func (c *RedisPageCache) setKey(key string) string { return "dagcore:page:" + key }

func (c *RedisPageCache) Get(ctx context.Context, key string, t time.Time) ([]byte, bool, error) {
	raw, err := c.client.SMembers(ctx, c.setKey(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("runtime: redis page cache get %q: %w", key, err)
	}
	for _, member := range raw {
		var e redisEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			continue
		}
		if e.Interval.IsZero() || (!t.Before(e.Interval.Start) && t.Before(e.Interval.End)) {
			return e.Value, true, nil
		}
	}
	return nil, false, nil
}

func (c *RedisPageCache) Set(ctx context.Context, key string, interval TimeInterval, value []byte) error {
	payload, err := json.Marshal(redisEntry{Interval: interval, Value: value})
	if err != nil {
		return fmt.Errorf("runtime: redis page cache encode %q: %w", key, err)
	}
	redisKey := c.setKey(key)
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, redisKey, payload)
	if c.ttl > 0 {
		pipe.Expire(ctx, redisKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("runtime: redis page cache set %q: %w", key, err)
	}
	return nil
}

func (c *RedisPageCache) Invalidate(ctx context.Context, key string, interval TimeInterval) error {
	redisKey := c.setKey(key)
	raw, err := c.client.SMembers(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("runtime: redis page cache invalidate %q: %w", key, err)
	}
	var stale []any
	for _, member := range raw {
		var e redisEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			continue
		}
		if e.Interval.Overlaps(interval) {
			stale = append(stale, member)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := c.client.SRem(ctx, redisKey, stale...).Err(); err != nil {
		return fmt.Errorf("runtime: redis page cache invalidate %q: %w", key, err)
	}
	return nil
}

func (c *RedisPageCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.setKey(key)).Err(); err != nil {
		return fmt.Errorf("runtime: redis page cache delete %q: %w", key, err)
	}
	return nil
}
