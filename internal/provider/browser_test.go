package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserAdapterCapturesCommandOutput(t *testing.T) {
	a := NewBrowserAdapter("vanguard", "printf", `name,weight_percentage\nVanguard Holding,3.0\n`)
	holdings, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, holdings.Len())
}

func TestBrowserAdapterEmptyBinSkips(t *testing.T) {
	a := NewBrowserAdapter("vanguard", "")
	_, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.False(t, ok)
}
