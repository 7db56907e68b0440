package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCacheEvictsLRUWhenFull(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	_, _, _ = c.Get(ctx, "b") // touch b so a is the LRU entry
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	_, aStillThere, _ := c.Get(ctx, "a")
	_, cThere, _ := c.Get(ctx, "c")
	assert.False(t, aStillThere)
	assert.True(t, cThere)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	c := NewMemoryCache(10, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheClearResetsStats(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Clear(ctx))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestKeyIsStableForEqualValues(t *testing.T) {
	a := Key(map[string]interface{}{"temperature": 0.3, "top_p": 0.9})
	b := Key(map[string]interface{}{"top_p": 0.9, "temperature": 0.3})
	assert.Equal(t, a, b)
}
