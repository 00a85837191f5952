package negcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheMarkAndCheck(t *testing.T) {
	c := NewMemCache()
	ctx := context.Background()

	neg, err := c.IsNegative(ctx, "XYZ")
	require.NoError(t, err)
	assert.False(t, neg)

	require.NoError(t, c.MarkNegative(ctx, "XYZ", time.Hour))

	neg, err = c.IsNegative(ctx, "XYZ")
	require.NoError(t, err)
	assert.True(t, neg)
}

func TestMemCacheExpires(t *testing.T) {
	c := NewMemCache()
	ctx := context.Background()
	require.NoError(t, c.MarkNegative(ctx, "XYZ", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	neg, err := c.IsNegative(ctx, "XYZ")
	require.NoError(t, err)
	assert.False(t, neg)
}

func TestMemCacheIndependentTickers(t *testing.T) {
	c := NewMemCache()
	ctx := context.Background()
	require.NoError(t, c.MarkNegative(ctx, "AAA", time.Hour))

	neg, _ := c.IsNegative(ctx, "BBB")
	assert.False(t, neg)
	assert.Equal(t, 1, c.Len())
}

func TestNewFromEnvFallsBackToMemCache(t *testing.T) {
	c := NewFromEnv("")
	_, ok := c.(*MemCache)
	assert.True(t, ok)
}
