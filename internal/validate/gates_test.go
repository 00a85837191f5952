package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skeptomenos/portfolio-prism/internal/model"
)

func TestLoadedFlagsEmptyPortfolio(t *testing.T) {
	issues := Loaded(nil, nil)
	assert.Len(t, issues, 1)
	assert.Equal(t, "NO_POSITIONS", issues[0].Code)
}

func TestLoadedFlagsZeroValuePositions(t *testing.T) {
	issues := Loaded([]model.Position{{ISIN: "US0378331005", Quantity: 0, UnitPrice: 100}}, nil)
	assert.Len(t, issues, 1)
	assert.Equal(t, "ZERO_VALUE_POSITIONS", issues[0].Code)
}

func TestCurrencyFlagsMismatch(t *testing.T) {
	issues := Currency([]model.Position{{ISIN: "US0378331005", Currency: "USD"}}, "EUR")
	assert.Len(t, issues, 1)
	assert.Equal(t, "NON_EUR_CURRENCY", issues[0].Code)
	assert.Equal(t, model.SeverityHigh, issues[0].Severity)
}

func TestCurrencyAllowsMatch(t *testing.T) {
	issues := Currency([]model.Position{{ISIN: "US0378331005", Currency: "EUR"}}, "EUR")
	assert.Empty(t, issues)
}

func TestDecompositionDetectsUnscaledDecimals(t *testing.T) {
	holdings := []model.Holding{{WeightPercentage: 0.3}, {WeightPercentage: 0.4}, {WeightPercentage: 0.2}}
	issues := Decomposition("IE00B4L5Y983", 0.9, holdings, 0)
	// The holdings carry no resolution status, so LOW_RESOLUTION_RATE is
	// raised as well, after the weight-format issue.
	assert.Len(t, issues, 2)
	assert.Equal(t, "WEIGHT_DECIMAL_FORMAT", issues[0].Code)
	assert.Equal(t, model.SeverityCritical, issues[0].Severity)
}

func TestDecompositionFlagsLowResolutionRate(t *testing.T) {
	holdings := []model.Holding{
		{WeightPercentage: 50, ResolutionStatus: model.StatusResolved},
		{WeightPercentage: 50, ResolutionStatus: model.StatusUnresolved},
	}
	issues := Decomposition("IE00B4L5Y983", 100, holdings, 0.8)
	var codes []string
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	assert.Contains(t, codes, "MODERATE_RESOLUTION_RATE")
}

func TestDecompositionFlagsVeryLowWeightSum(t *testing.T) {
	holdings := []model.Holding{{WeightPercentage: 10}}
	issues := Decomposition("IE00B4L5Y983", 10, holdings, 0)
	assert.NotEmpty(t, issues)
	assert.Equal(t, "WEIGHT_SUM_VERY_LOW", issues[0].Code)
}

func TestEnrichmentFlagsLowCoverage(t *testing.T) {
	holdings := []model.Holding{
		{Sector: model.DefaultSector, Geography: model.DefaultGeography},
		{Sector: "Technology", Geography: "North America"},
		{Sector: model.DefaultSector, Geography: model.DefaultGeography},
	}
	issues := Enrichment(holdings)
	var codes []string
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	assert.Contains(t, codes, "LOW_SECTOR_COVERAGE")
	assert.Contains(t, codes, "LOW_GEOGRAPHY_COVERAGE")
}

func TestAggregationFlagsZeroPortfolioValue(t *testing.T) {
	issues := Aggregation(nil, 0, 0, 0)
	assert.Len(t, issues, 1)
	assert.Equal(t, "ZERO_PORTFOLIO_VALUE", issues[0].Code)
}

func TestAggregationFlagsTotalMismatch(t *testing.T) {
	issues := Aggregation(nil, 80, 100, 0.01)
	assert.Len(t, issues, 1)
	assert.Equal(t, "TOTAL_MISMATCH_LARGE", issues[0].Code)
}

func TestAggregationFlagsPercentageSumLow(t *testing.T) {
	exposures := []model.AggregatedExposure{{PortfolioPercentage: 40}, {PortfolioPercentage: 30}}
	issues := Aggregation(exposures, 100, 100, 0.01)
	var codes []string
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	assert.Contains(t, codes, "PERCENTAGE_SUM_LOW")
}
