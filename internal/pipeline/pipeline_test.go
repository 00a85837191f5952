package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
)

type fakePositionSource struct {
	positions []model.Position
	err       error
}

func (f fakePositionSource) ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return f.positions, f.err
}

type fakeHoldingsSource struct {
	tables map[string]cache.RawHoldings
}

func (f fakeHoldingsSource) GetHoldings(ctx context.Context, isinVal string, registry cache.AdapterRegistry, forceRefresh bool) (cache.RawHoldings, error) {
	return f.tables[isinVal], nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, in resolver.Input) resolver.Result {
	if in.ProviderISIN != "" {
		return resolver.Result{ISIN: in.ProviderISIN, Status: model.StatusResolved, Source: model.SourceExisting, Confidence: 1.0}
	}
	return resolver.Result{Status: model.StatusUnresolved, Source: model.SourceTier2Skipped}
}

func baseConfig() Config {
	return Config{
		Positions: fakePositionSource{positions: []model.Position{
			{ISIN: "US0231351067", Name: "Amazon.com Inc", Quantity: 10, UnitPrice: 100, AssetClass: model.AssetStock, Currency: "EUR"},
			{ISIN: "IE00B4L5Y983", Name: "iShares Core MSCI World", Quantity: 1, UnitPrice: 1000, AssetClass: model.AssetETF, Currency: "EUR"},
		}},
		Holdings: fakeHoldingsSource{tables: map[string]cache.RawHoldings{
			"IE00B4L5Y983": {
				Columns: []string{"Name", "ISIN", "Ticker", "Weight (%)"},
				Rows: []map[string]string{
					{"Name": "Apple Inc", "ISIN": "US0378331005", "Ticker": "AAPL", "Weight (%)": "60"},
					{"Name": "Microsoft Corp", "ISIN": "US5949181045", "Ticker": "MSFT", "Weight (%)": "40"},
				},
			},
		}},
		Resolver:                    fakeResolver{},
		ReportingCurrency:           "EUR",
		ModerateResolutionThreshold: 0.8,
		AggregationTolerance:        0.01,
		Quiet:                       true,
	}
}

func TestRunSuccessfulPortfolio(t *testing.T) {
	var events []ProgressEvent
	res := Run(context.Background(), baseConfig(), func(e ProgressEvent) { events = append(events, e) })

	require.True(t, res.Success)
	assert.Equal(t, 1, res.ETFsProcessed)
	assert.Equal(t, 0, res.ETFsFailed)
	assert.Greater(t, res.TotalValue, 0.0)
	assert.NotEmpty(t, res.Exposures)
	assert.NotEmpty(t, events)
	assert.Equal(t, PhaseComplete, events[len(events)-1].Phase)
}

func TestRunEmptyLoadIsFatal(t *testing.T) {
	cfg := baseConfig()
	cfg.Positions = fakePositionSource{positions: nil}

	res := Run(context.Background(), cfg, nil)
	require.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "FILE_NOT_FOUND", res.Errors[0].ErrorType)
}

func TestRunContinuesWhenOneETFFailsDecomposition(t *testing.T) {
	cfg := baseConfig()
	cfg.Positions = fakePositionSource{positions: []model.Position{
		{ISIN: "IE00B4L5Y983", Name: "iShares Core MSCI World", Quantity: 1, UnitPrice: 1000, AssetClass: model.AssetETF, Currency: "EUR"},
		{ISIN: "LU0392494562", Name: "Amundi S&P 500", Quantity: 1, UnitPrice: 500, AssetClass: model.AssetETF, Currency: "EUR"},
	}}

	res := Run(context.Background(), cfg, nil)
	assert.Equal(t, 1, res.ETFsProcessed)
	assert.Equal(t, 1, res.ETFsFailed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "EMPTY_HOLDINGS_TABLE", res.Errors[0].ErrorType)
}
