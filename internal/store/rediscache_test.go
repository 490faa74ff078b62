package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentrt/internal/logger"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *redisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := newRedisCache(mr.Addr(), logger.Noop{})
	require.NoError(t, err)
	return mr, cache
}

func TestRedisCachePutThenGetRoundTrips(t *testing.T) {
	_, cache := setupTestCache(t)
	tmpl := sampleTemplate("cache test")
	tmpl.ID = "tmpl-cache-1"

	cache.put(context.Background(), tmpl)

	got, ok := cache.get(context.Background(), tmpl.ID)
	require.True(t, ok)
	assert.Equal(t, tmpl.ID, got.ID)
	assert.Equal(t, tmpl.Name, got.Name)
	assert.Len(t, got.Steps, len(tmpl.Steps))
}

func TestRedisCacheGetMissReturnsFalse(t *testing.T) {
	_, cache := setupTestCache(t)
	_, ok := cache.get(context.Background(), "does-not-exist")
	assert.False(t, ok)
}

func TestRedisCacheInvalidateRemovesEntry(t *testing.T) {
	_, cache := setupTestCache(t)
	tmpl := sampleTemplate("cache test")
	tmpl.ID = "tmpl-cache-2"
	cache.put(context.Background(), tmpl)

	cache.invalidate(context.Background(), tmpl.ID)

	_, ok := cache.get(context.Background(), tmpl.ID)
	assert.False(t, ok)
}

func TestRedisCacheCompressesLargePayloads(t *testing.T) {
	mr, cache := setupTestCache(t)
	tmpl := sampleTemplate("cache test")
	tmpl.ID = "tmpl-cache-large"
	for i := 0; i < 2000; i++ {
		tmpl.Feedback = append(tmpl.Feedback, "a reasonably long piece of recorded feedback text to pad this payload")
	}

	cache.put(context.Background(), tmpl)
	raw, err := mr.Get(cache.key(tmpl.ID))
	require.NoError(t, err)
	assert.Equal(t, byte(1), raw[0])

	got, ok := cache.get(context.Background(), tmpl.ID)
	require.True(t, ok)
	assert.Len(t, got.Feedback, len(tmpl.Feedback))
}

func TestStoreGetFallsBackToIndexAfterCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := NewWithRedisCache(dir, logger.Noop{}, mr.Addr())
	require.NoError(t, err)

	tmpl := sampleTemplate("cache test")
	require.NoError(t, st.Save(context.Background(), tmpl))

	id := ComputeID(tmpl.Steps, tmpl.Edges)

	mr.FastForward(cacheTTL * 2)

	got, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Name, got.Name)
}
