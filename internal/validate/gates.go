// Package validate implements the validation gates that run between every
// pipeline phase: schema and semantic checks that degrade a running
// DataQuality score and can fail the run outright on a CRITICAL finding.
package validate

import (
	"fmt"
	"math"

	"github.com/skeptomenos/portfolio-prism/internal/model"
)

func f(v float64) *float64 { return &v }

// Loaded validates the Load phase's output.
func Loaded(direct, etfs []model.Position) []model.ValidationIssue {
	var issues []model.ValidationIssue
	if len(direct) == 0 && len(etfs) == 0 {
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityHigh, Category: model.CategorySchema,
			Code: "NO_POSITIONS", Message: "loader produced no positions", Phase: "load",
			FixHint: "sync the portfolio or upload a holdings file",
		})
		return issues
	}

	for _, p := range append(append([]model.Position{}, direct...), etfs...) {
		if p.MarketValue() <= 0 {
			issues = append(issues, model.ValidationIssue{
				Severity: model.SeverityMedium, Category: model.CategoryValue,
				Code: "ZERO_VALUE_POSITIONS", Item: p.ISIN, Phase: "load",
				Message: fmt.Sprintf("%s has non-positive market value", p.ISIN),
				FixHint: "check quantity/unit_price for " + p.ISIN,
			})
		}
	}
	return issues
}

// Currency validates every position's currency against the reporting
// currency. Non-reporting-currency positions are flagged, not converted.
func Currency(positions []model.Position, reportingCurrency string) []model.ValidationIssue {
	var issues []model.ValidationIssue
	for _, p := range positions {
		if p.Currency != "" && p.Currency != reportingCurrency {
			issues = append(issues, model.ValidationIssue{
				Severity: model.SeverityHigh, Category: model.CategoryCurrency,
				Code: "NON_EUR_CURRENCY", Item: p.ISIN, Phase: "load",
				Message: fmt.Sprintf("%s denominated in %s, reporting currency is %s", p.ISIN, p.Currency, reportingCurrency),
				FixHint: "values are not converted; treat this exposure as informational only",
			})
		}
	}
	return issues
}

// Decomposition validates one ETF's constituent table: weight-sum bounds
// and resolution-rate thresholds.
func Decomposition(etfISIN string, weightSum float64, holdings []model.Holding, moderateThreshold float64) []model.ValidationIssue {
	var issues []model.ValidationIssue

	hasOverweightRow := false
	for _, h := range holdings {
		if h.WeightPercentage > 1.5 {
			hasOverweightRow = true
			break
		}
	}

	switch {
	case weightSum >= 0.5 && weightSum <= 1.5 && !hasOverweightRow:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityCritical, Category: model.CategoryWeight,
			Code: "WEIGHT_DECIMAL_FORMAT", Item: etfISIN, Phase: "decompose",
			Message: fmt.Sprintf("%s weights sum to %.4f: looks like unscaled decimal fractions", etfISIN, weightSum),
			FixHint: "the decomposer should have auto-scaled this table; check the adapter's output",
			Actual:  f(weightSum),
		})
	case weightSum < 50:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityCritical, Category: model.CategoryWeight,
			Code: "WEIGHT_SUM_VERY_LOW", Item: etfISIN, Phase: "decompose",
			Message: fmt.Sprintf("%s weights sum to only %.2f%%", etfISIN, weightSum),
			FixHint: "holdings table is likely truncated or mis-parsed",
			Actual:  f(weightSum), Expected: f(100),
		})
	case weightSum < 90:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityHigh, Category: model.CategoryWeight,
			Code: "WEIGHT_SUM_LOW", Item: etfISIN, Phase: "decompose",
			Message: fmt.Sprintf("%s weights sum to %.2f%%", etfISIN, weightSum),
			Actual:  f(weightSum), Expected: f(100),
		})
	case weightSum > 110:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityMedium, Category: model.CategoryWeight,
			Code: "WEIGHT_SUM_HIGH", Item: etfISIN, Phase: "decompose",
			Message: fmt.Sprintf("%s weights sum to %.2f%%", etfISIN, weightSum),
			Actual:  f(weightSum), Expected: f(100),
		})
	}

	if len(holdings) > 0 {
		resolved := 0
		for _, h := range holdings {
			if h.ResolutionStatus == model.StatusResolved {
				resolved++
			}
		}
		rate := float64(resolved) / float64(len(holdings))
		if moderateThreshold <= 0 {
			moderateThreshold = 0.80
		}
		switch {
		case rate < 0.50:
			issues = append(issues, model.ValidationIssue{
				Severity: model.SeverityHigh, Category: model.CategoryResolution,
				Code: "LOW_RESOLUTION_RATE", Item: etfISIN, Phase: "decompose",
				Message: fmt.Sprintf("%s resolved only %.0f%% of constituents", etfISIN, rate*100),
				Actual:  f(rate), Expected: f(0.50),
			})
		case rate < moderateThreshold:
			issues = append(issues, model.ValidationIssue{
				Severity: model.SeverityMedium, Category: model.CategoryResolution,
				Code: "MODERATE_RESOLUTION_RATE", Item: etfISIN, Phase: "decompose",
				Message: fmt.Sprintf("%s resolved %.0f%% of constituents, below the %.0f%% target", etfISIN, rate*100, moderateThreshold*100),
				Actual:  f(rate), Expected: f(moderateThreshold),
			})
		}
	}

	return issues
}

// Enrichment validates sector/geography coverage across every enriched
// holding.
func Enrichment(holdings []model.Holding) []model.ValidationIssue {
	if len(holdings) == 0 {
		return nil
	}
	var issues []model.ValidationIssue
	knownSector, knownGeo := 0, 0
	for _, h := range holdings {
		if h.Sector != "" && h.Sector != model.DefaultSector {
			knownSector++
		}
		if h.Geography != "" && h.Geography != model.DefaultGeography {
			knownGeo++
		}
	}
	total := float64(len(holdings))
	if float64(knownSector)/total < 0.5 {
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityMedium, Category: model.CategoryEnrichment,
			Code: "LOW_SECTOR_COVERAGE", Phase: "enrich",
			Message: fmt.Sprintf("only %.0f%% of holdings have known sector", 100*float64(knownSector)/total),
			Actual:  f(float64(knownSector) / total), Expected: f(0.5),
		})
	}
	if float64(knownGeo)/total < 0.5 {
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityMedium, Category: model.CategoryEnrichment,
			Code: "LOW_GEOGRAPHY_COVERAGE", Phase: "enrich",
			Message: fmt.Sprintf("only %.0f%% of holdings have known geography", 100*float64(knownGeo)/total),
			Actual:  f(float64(knownGeo) / total), Expected: f(0.5),
		})
	}
	return issues
}

// Aggregation validates the aggregator's final output: total-value
// reconciliation and the portfolio-percentage sum.
func Aggregation(exposures []model.AggregatedExposure, trueTotalValue, expectedTotalValue, tolerance float64) []model.ValidationIssue {
	var issues []model.ValidationIssue

	if expectedTotalValue <= 0 {
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityCritical, Category: model.CategoryValue,
			Code: "ZERO_PORTFOLIO_VALUE", Phase: "aggregate",
			Message: "expected total portfolio value is zero or negative",
		})
		return issues
	}

	if tolerance <= 0 {
		tolerance = 0.01
	}
	diff := math.Abs(trueTotalValue-expectedTotalValue) / expectedTotalValue
	switch {
	case diff > 0.10:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityCritical, Category: model.CategoryValue,
			Code: "TOTAL_MISMATCH_LARGE", Phase: "aggregate",
			Message: fmt.Sprintf("computed total %.2f differs from expected %.2f by %.1f%%", trueTotalValue, expectedTotalValue, diff*100),
			Actual:  f(trueTotalValue), Expected: f(expectedTotalValue),
		})
	case diff > tolerance:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityHigh, Category: model.CategoryValue,
			Code: "TOTAL_MISMATCH", Phase: "aggregate",
			Message: fmt.Sprintf("computed total %.2f differs from expected %.2f by %.1f%%", trueTotalValue, expectedTotalValue, diff*100),
			Actual:  f(trueTotalValue), Expected: f(expectedTotalValue),
		})
	}

	pctSum := 0.0
	for _, e := range exposures {
		pctSum += e.PortfolioPercentage
	}
	switch {
	case len(exposures) > 0 && pctSum < 95:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityHigh, Category: model.CategoryValue,
			Code: "PERCENTAGE_SUM_LOW", Phase: "aggregate",
			Message: fmt.Sprintf("portfolio percentages sum to %.2f", pctSum),
			Actual:  f(pctSum), Expected: f(100),
		})
	case pctSum > 105:
		issues = append(issues, model.ValidationIssue{
			Severity: model.SeverityMedium, Category: model.CategoryValue,
			Code: "PERCENTAGE_SUM_HIGH", Phase: "aggregate",
			Message: fmt.Sprintf("portfolio percentages sum to %.2f", pctSum),
			Actual:  f(pctSum), Expected: f(100),
		})
	}

	return issues
}
