package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisPageCache(t *testing.T) *RedisPageCache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPageCache(client, 0)
}

func TestRedisPageCacheSetGetRoundTrip(t *testing.T) {
	c := newTestRedisPageCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", TimeInterval{}, []byte("v1")))

	got, ok, err := c.Get(ctx, "k", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)
}

func TestRedisPageCacheMissReturnsFalse(t *testing.T) {
	c := newTestRedisPageCache(t)
	_, ok, err := c.Get(context.Background(), "missing", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisPageCacheRespectsTimeInterval(t *testing.T) {
	c := newTestRedisPageCache(t)
	ctx := context.Background()
	base := mustTimeT(t, "2026-01-01T00:00:00Z")

	require.NoError(t, c.Set(ctx, "k", TimeInterval{Start: base, End: base.Add(time.Hour)}, []byte("in-window")))

	got, ok, err := c.Get(ctx, "k", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("in-window"), got)

	_, ok, err = c.Get(ctx, "k", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisPageCacheInvalidateDropsOverlapping(t *testing.T) {
	c := newTestRedisPageCache(t)
	ctx := context.Background()
	base := mustTimeT(t, "2026-01-01T00:00:00Z")

	require.NoError(t, c.Set(ctx, "k", TimeInterval{Start: base, End: base.Add(time.Hour)}, []byte("a")))
	require.NoError(t, c.Set(ctx, "k", TimeInterval{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}, []byte("b")))

	require.NoError(t, c.Invalidate(ctx, "k", TimeInterval{Start: base, End: base.Add(time.Hour)}))

	_, ok, err := c.Get(ctx, "k", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := c.Get(ctx, "k", base.Add(150*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), got)
}

func TestRedisPageCacheDeleteDropsEverything(t *testing.T) {
	c := newTestRedisPageCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", TimeInterval{}, []byte("v")))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func mustTimeT(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}
