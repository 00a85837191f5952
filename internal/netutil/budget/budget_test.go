package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerConsumeWithinLimit(t *testing.T) {
	tr := NewTracker(5, 0, 0.8)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Consume())
	}
	assert.Equal(t, int64(3), tr.Stats().Used)
}

func TestTrackerWarningThreshold(t *testing.T) {
	tr := NewTracker(10, 0, 0.5)
	for i := 0; i < 5; i++ {
		_ = tr.Consume()
	}
	err := tr.Consume()
	var warn *WarningError
	require.True(t, errors.As(err, &warn))
}

func TestTrackerExhausted(t *testing.T) {
	tr := NewTracker(2, 0, 0.9)
	require.NoError(t, tr.Consume())
	_ = tr.Consume()

	err := tr.Consume()
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, int64(2), exhausted.Used)
}

func TestManagerUnconfiguredProviderAlwaysAllowed(t *testing.T) {
	m := NewManager()
	assert.NoError(t, m.Allow("unconfigured"))
	assert.NoError(t, m.Consume("unconfigured"))
}

func TestManagerPerProviderTracking(t *testing.T) {
	m := NewManager()
	m.AddProvider("finnhub", 1, 0, 0.9)
	require.NoError(t, m.Consume("finnhub"))

	err := m.Consume("finnhub")
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.True(t, m.Stats()["finnhub"].IsExhausted)
}
