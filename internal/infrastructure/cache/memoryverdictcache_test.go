package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
)

func positiveEntry(t *testing.T, storedAt time.Time) *entitlement.CacheEntry {
	t.Helper()
	v, err := entitlement.NewVerdict(entitlement.TierUnlimited, nil, entitlement.SourceLedger, storedAt)
	require.NoError(t, err)
	return &entitlement.CacheEntry{Verdict: v, StoredAt: storedAt}
}

func TestMemoryVerdictCache_GetMiss(t *testing.T) {
	c := NewMemoryVerdictCache()

	entry, err := c.Get(context.Background(), "user:1")

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryVerdictCache_PutAndGet(t *testing.T) {
	c := NewMemoryVerdictCache()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, c.Put(ctx, "user:1", positiveEntry(t, now)))

	entry, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Verdict.Entitled)
	assert.Equal(t, now, entry.StoredAt)
}

func TestMemoryVerdictCache_PutReplacesWholeEntry(t *testing.T) {
	c := NewMemoryVerdictCache()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, c.Put(ctx, "user:1", positiveEntry(t, now.Add(-time.Hour))))
	negative := &entitlement.CacheEntry{
		Verdict:  entitlement.DeniedVerdict(entitlement.SourceLedger, now),
		StoredAt: now,
	}
	require.NoError(t, c.Put(ctx, "user:1", negative))

	entry, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Verdict.Entitled)
	assert.Equal(t, now, entry.StoredAt)
}

func TestMemoryVerdictCache_GetReturnsCopy(t *testing.T) {
	c := NewMemoryVerdictCache()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, c.Put(ctx, "user:1", positiveEntry(t, now)))

	first, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	first.Verdict.Entitled = false

	second, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, second.Verdict.Entitled, "mutating a returned entry must not affect the cache")
}

func TestMemoryVerdictCache_Delete(t *testing.T) {
	c := NewMemoryVerdictCache()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "user:1", positiveEntry(t, time.Now().UTC())))

	require.NoError(t, c.Delete(ctx, "user:1"))
	require.NoError(t, c.Delete(ctx, "user:missing"), "deleting a missing key is not an error")

	entry, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryVerdictCache_Clear(t *testing.T) {
	c := NewMemoryVerdictCache()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, c.Put(ctx, "user:1", positiveEntry(t, now)))
	require.NoError(t, c.Put(ctx, "guest:dev", positiveEntry(t, now)))

	require.NoError(t, c.Clear(ctx))

	for _, key := range []string{"user:1", "guest:dev"} {
		entry, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, entry)
	}
}
