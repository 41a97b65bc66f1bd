package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPageCacheSetGetRoundTrip(t *testing.T) {
	pc := NewMemoryPageCache(10)
	ctx := context.Background()

	require.NoError(t, pc.Set(ctx, "k1", TimeInterval{}, []byte("v1")))
	got, ok, err := pc.Get(ctx, "k1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)
}

func TestMemoryPageCacheRespectsTimeInterval(t *testing.T) {
	pc := NewMemoryPageCache(10)
	ctx := context.Background()

	jan := TimeInterval{Start: mustTime(t, "2026-01-01T00:00:00Z"), End: mustTime(t, "2026-02-01T00:00:00Z")}
	feb := TimeInterval{Start: mustTime(t, "2026-02-01T00:00:00Z"), End: mustTime(t, "2026-03-01T00:00:00Z")}
	require.NoError(t, pc.Set(ctx, "k", jan, []byte("jan-value")))
	require.NoError(t, pc.Set(ctx, "k", feb, []byte("feb-value")))

	got, ok, err := pc.Get(ctx, "k", mustTime(t, "2026-01-15T00:00:00Z"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("jan-value"), got)

	got, ok, err = pc.Get(ctx, "k", mustTime(t, "2026-02-15T00:00:00Z"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("feb-value"), got)

	_, ok, err = pc.Get(ctx, "k", mustTime(t, "2026-03-15T00:00:00Z"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryPageCacheInvalidateDropsOverlapping(t *testing.T) {
	pc := NewMemoryPageCache(10)
	ctx := context.Background()

	jan := TimeInterval{Start: mustTime(t, "2026-01-01T00:00:00Z"), End: mustTime(t, "2026-02-01T00:00:00Z")}
	feb := TimeInterval{Start: mustTime(t, "2026-02-01T00:00:00Z"), End: mustTime(t, "2026-03-01T00:00:00Z")}
	require.NoError(t, pc.Set(ctx, "k", jan, []byte("jan-value")))
	require.NoError(t, pc.Set(ctx, "k", feb, []byte("feb-value")))

	require.NoError(t, pc.Invalidate(ctx, "k", jan))

	_, ok, err := pc.Get(ctx, "k", mustTime(t, "2026-01-15T00:00:00Z"))
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := pc.Get(ctx, "k", mustTime(t, "2026-02-15T00:00:00Z"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("feb-value"), got)
}

func TestMemoryPageCacheDeleteDropsEverything(t *testing.T) {
	pc := NewMemoryPageCache(10)
	ctx := context.Background()

	require.NoError(t, pc.Set(ctx, "k", TimeInterval{}, []byte("v1")))
	require.NoError(t, pc.Set(ctx, "k", TimeInterval{Start: mustTime(t, "2026-01-01T00:00:00Z"), End: mustTime(t, "2026-02-01T00:00:00Z")}, []byte("v2")))

	require.NoError(t, pc.Delete(ctx, "k"))

	_, ok, err := pc.Get(ctx, "k", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryPageCacheEvictsLeastRecentlyUsed(t *testing.T) {
	pc := NewMemoryPageCache(2)
	ctx := context.Background()

	require.NoError(t, pc.Set(ctx, "a", TimeInterval{}, []byte("a")))
	require.NoError(t, pc.Set(ctx, "b", TimeInterval{}, []byte("b")))
	require.NoError(t, pc.Set(ctx, "c", TimeInterval{}, []byte("c")))

	_, ok, err := pc.Get(ctx, "a", time.Now())
	require.NoError(t, err)
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok, err = pc.Get(ctx, "c", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
}
