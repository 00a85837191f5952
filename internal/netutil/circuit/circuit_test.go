package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenDuration:     20 * time.Millisecond,
		RequestTimeout:   100 * time.Millisecond,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }

	require.Error(t, b.Call(context.Background(), failing))
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Call(context.Background(), failing))
	assert.Equal(t, StateOpen, b.State())

	err := b.Call(context.Background(), failing)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	ok := func(ctx context.Context) error { return nil }
	require.NoError(t, b.Call(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTimeout(t *testing.T) {
	b := NewBreaker(testConfig())
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := b.Call(context.Background(), slow)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestManagerCallsThroughNamedBreaker(t *testing.T) {
	m := NewManager()
	m.AddProvider("wikidata", testConfig())

	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = m.Call(context.Background(), "wikidata", failing)
	_ = m.Call(context.Background(), "wikidata", failing)

	b, ok := m.GetBreaker("wikidata")
	require.True(t, ok)
	assert.Equal(t, StateOpen, b.State())
}

func TestManagerUnconfiguredProviderPassesThrough(t *testing.T) {
	m := NewManager()
	called := false
	err := m.Call(context.Background(), "unconfigured", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
