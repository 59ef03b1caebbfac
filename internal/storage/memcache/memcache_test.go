package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/common"
)

func TestSetGet(t *testing.T) {
	cache := New(common.NewFakeClock(time.Now()))
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k1", []byte("v1"), 0))

	v, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	_, ok, err = cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	clock := common.NewFakeClock(time.Now())
	cache := New(clock)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, cache.Set(ctx, "forever", []byte("v"), 0))

	_, ok, _ := cache.Get(ctx, "short")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)

	_, ok, _ = cache.Get(ctx, "short")
	assert.False(t, ok, "expired entries are dropped on read")
	assert.Equal(t, 1, cache.Len(), "lazy expiry removed the entry")

	_, ok, _ = cache.Get(ctx, "forever")
	assert.True(t, ok, "zero ttl means no expiry")
}

func TestOverwriteResetsTTL(t *testing.T) {
	clock := common.NewFakeClock(time.Now())
	cache := New(clock)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v1"), time.Minute))
	clock.Advance(30 * time.Second)
	require.NoError(t, cache.Set(ctx, "k", []byte("v2"), time.Minute))
	clock.Advance(45 * time.Second)

	v, ok, _ := cache.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestDelete(t *testing.T) {
	cache := New(common.NewFakeClock(time.Now()))
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, cache.Delete(ctx, "k"))

	_, ok, _ := cache.Get(ctx, "k")
	assert.False(t, ok)
	require.NoError(t, cache.Delete(ctx, "k"), "deleting a missing key is not an error")
}

func TestCloseIdempotent(t *testing.T) {
	cache := New(nil)
	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())
}
