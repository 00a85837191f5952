package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/model"
)

type fakeSource struct {
	positions []model.Position
	err       error
}

func (f fakeSource) ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return f.positions, f.err
}

func TestLoadSplitsDirectAndETF(t *testing.T) {
	src := fakeSource{positions: []model.Position{
		{ISIN: "US0378331005", Name: "Apple Inc", Quantity: 10, UnitPrice: 150, AssetClass: model.AssetStock},
		{ISIN: "IE00B4L5Y983", Name: "iShares Core MSCI World", Quantity: 5, UnitPrice: 80, AssetClass: model.AssetUnknown},
		{ISIN: "LU0392494562", Name: "Amundi ETF S&P 500", Quantity: 2, UnitPrice: 50},
	}}

	res, err := Load(context.Background(), src, "portfolio-1")
	require.NoError(t, err)
	assert.Len(t, res.Direct, 1)
	assert.Len(t, res.ETFs, 2)
	assert.Empty(t, res.Issues)
}

func TestLoadDropsInvalidISIN(t *testing.T) {
	src := fakeSource{positions: []model.Position{
		{ISIN: "NOTANISIN", Name: "Bad Row", Quantity: 1, UnitPrice: 1},
		{ISIN: "US0378331005", Name: "Apple Inc", Quantity: 10, UnitPrice: 150, AssetClass: model.AssetStock},
	}}

	res, err := Load(context.Background(), src, "portfolio-1")
	require.NoError(t, err)
	assert.Len(t, res.Direct, 1)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "INVALID_ISIN", res.Issues[0].Code)
}

func TestLoadEmptyReturnsEmptyBucketsWithoutIssues(t *testing.T) {
	res, err := Load(context.Background(), fakeSource{}, "portfolio-1")
	require.NoError(t, err)
	assert.Empty(t, res.Direct)
	assert.Empty(t, res.ETFs)
	// NO_POSITIONS is validate.Loaded's call, not the loader's.
	assert.Empty(t, res.Issues)
}

func TestParseQuantityTrimsAndAllowsPlus(t *testing.T) {
	v, err := ParseQuantity(" +12.5 ")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
}
