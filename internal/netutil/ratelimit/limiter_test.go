package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowRespectsBurst(t *testing.T) {
	l := NewLimiter(1, 2)
	assert.True(t, l.Allow("wikidata.org"))
	assert.True(t, l.Allow("wikidata.org"))
	assert.False(t, l.Allow("wikidata.org"))
}

func TestLimiterPerHostIndependent(t *testing.T) {
	l := NewLimiter(1, 1)
	assert.True(t, l.Allow("finnhub.io"))
	assert.True(t, l.Allow("query.wikidata.org"))
}

func TestLimiterWaitUnblocksWithinContext(t *testing.T) {
	l := NewLimiter(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "finnhub.io"))
}

func TestManagerAllowsUnconfiguredProvider(t *testing.T) {
	m := NewManager()
	assert.True(t, m.Allow("unknown-provider", "host"))
}

func TestManagerPerProviderLimiter(t *testing.T) {
	m := NewManager()
	m.AddProvider("finnhub", 1, 1)
	assert.True(t, m.Allow("finnhub", "finnhub.io"))
	assert.False(t, m.Allow("finnhub", "finnhub.io"))
}
