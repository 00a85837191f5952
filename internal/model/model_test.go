package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionMarketValue(t *testing.T) {
	p := Position{Quantity: 10, UnitPrice: 2.5}
	assert.Equal(t, 25.0, p.MarketValue())
}

func TestETFDecompositionWeightSum(t *testing.T) {
	d := ETFDecomposition{Holdings: []Holding{
		{WeightPercentage: 40},
		{WeightPercentage: 35.5},
	}}
	assert.InDelta(t, 75.5, d.WeightSum(), 0.0001)
}

func TestAggregatedExposureTotal(t *testing.T) {
	a := AggregatedExposure{Direct: 100, Indirect: 50}
	assert.Equal(t, 150.0, a.TotalExposure())
}

func TestSeverityPenalty(t *testing.T) {
	assert.Equal(t, 0.25, SeverityCritical.Penalty())
	assert.Equal(t, 0.10, SeverityHigh.Penalty())
	assert.Equal(t, 0.03, SeverityMedium.Penalty())
	assert.Equal(t, 0.01, SeverityLow.Penalty())
}

func TestDataQualityScore(t *testing.T) {
	var q DataQuality
	assert.Equal(t, 1.0, q.Score())
	assert.True(t, q.IsTrustworthy())

	q.Add(ValidationIssue{Severity: SeverityHigh, Code: "X"})
	assert.InDelta(t, 0.90, q.Score(), 0.0001)
	assert.False(t, q.IsTrustworthy())
	assert.False(t, q.HasCritical())

	q.Add(ValidationIssue{Severity: SeverityCritical, Code: "Y"})
	assert.True(t, q.HasCritical())
}

func TestDataQualityScoreFloorsAtZero(t *testing.T) {
	var q DataQuality
	for i := 0; i < 10; i++ {
		q.Add(ValidationIssue{Severity: SeverityCritical, Code: "C"})
	}
	assert.Equal(t, 0.0, q.Score())
}
