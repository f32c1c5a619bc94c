package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
)

func TestRedisHashCache(t *testing.T) {
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cache, err := NewRedisHashCache(domain.CacheConfig{
		RedisURL:   "redis://" + mr.Addr(),
		DefaultTTL: time.Hour,
	}, logger)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()

	_, ok := cache.Get(ctx, "abc123")
	assert.False(t, ok)

	entry := &domain.CanonicalIDEntry{
		HashValue:     "abc123",
		CanonicalID:   "AA0001",
		CoreValuesStr: "doid9351_increased_upkbp052311",
	}
	require.NoError(t, cache.Set(ctx, entry))

	got, ok := cache.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	// Expired entries fall through to the store.
	mr.FastForward(2 * time.Hour)
	_, ok = cache.Get(ctx, "abc123")
	assert.False(t, ok)
}

func TestRedisHashCache_CorruptEntryIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cache, err := NewRedisHashCache(domain.CacheConfig{
		RedisURL:   "redis://" + mr.Addr(),
		DefaultTTL: time.Hour,
	}, logger)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, mr.Set(cacheKey("abc123"), "not json"))

	_, ok := cache.Get(context.Background(), "abc123")
	assert.False(t, ok)
}

func TestLRUHashCache(t *testing.T) {
	cache, err := NewLRUHashCache(2)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "abc123")
	assert.False(t, ok)

	entry := &domain.CanonicalIDEntry{HashValue: "abc123", CanonicalID: "AA0001"}
	require.NoError(t, cache.Set(ctx, entry))

	got, ok := cache.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	// Returned entries are copies, not shared with the cache.
	got.CanonicalID = "ZZ9999"
	again, ok := cache.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, "AA0001", again.CanonicalID)

	// Oldest entry evicted past capacity.
	require.NoError(t, cache.Set(ctx, &domain.CanonicalIDEntry{HashValue: "def456", CanonicalID: "AA0002"}))
	require.NoError(t, cache.Set(ctx, &domain.CanonicalIDEntry{HashValue: "ghi789", CanonicalID: "AA0003"}))
	_, ok = cache.Get(ctx, "abc123")
	assert.False(t, ok)
}
