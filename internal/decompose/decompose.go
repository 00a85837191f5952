// Package decompose implements the pipeline's Decompose phase: for each ETF
// position, fetch its constituent table through the holdings cache, run it
// through the normalizer, resolve every constituent's ISIN through the
// resolver cascade, and produce a model.ETFDecomposition.
package decompose

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/normalize"
	"github.com/skeptomenos/portfolio-prism/internal/provider"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
	"github.com/skeptomenos/portfolio-prism/internal/validate"
)

// HoldingsSource fetches a holdings table for one ETF ISIN, satisfied by
// *cache.Cache.
type HoldingsSource interface {
	GetHoldings(ctx context.Context, isinVal string, registry cache.AdapterRegistry, forceRefresh bool) (cache.RawHoldings, error)
}

// Resolver resolves one constituent's identity to an ISIN, satisfied by
// *resolver.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, in resolver.Input) resolver.Result
}

// Result is the Decompose phase's output for an entire portfolio: the
// decomposition of every ETF position that succeeded (failed ETFs are
// omitted), plus the per-ETF pipeline errors and validation issues
// collected along the way.
type Result struct {
	Decompositions []*model.ETFDecomposition
	Errors         []model.PipelineError
	Issues         []model.ValidationIssue
}

// mapAssetClass classifies a normalized constituent row's asset class. A
// row carrying neither an ISIN nor a ticker is treated as a cash line;
// every other row is treated as equity.
func mapAssetClass(row normalize.Row) model.HoldingAssetClass {
	if row.ISIN == "" && row.Ticker == "" {
		return model.HoldingCash
	}
	return model.HoldingEquity
}

// Decompose processes every ETF position, fetching and resolving its
// holdings table. A per-ETF failure (cache miss requiring manual upload,
// empty table) is recorded as a PipelineError and the ETF is skipped; it
// does not abort the run.
func Decompose(ctx context.Context, src HoldingsSource, registry cache.AdapterRegistry, res Resolver, etfs []model.Position, moderateResolutionThreshold float64) Result {
	var out Result

	for _, etf := range etfs {
		raw, err := src.GetHoldings(ctx, etf.ISIN, registry, false)
		if err != nil {
			out.Errors = append(out.Errors, pipelineError(etf, err))
			log.Warn().Str("isin", etf.ISIN).Err(err).Msg("decompose: holdings fetch failed")
			continue
		}
		if raw.Len() == 0 {
			out.Errors = append(out.Errors, model.PipelineError{
				Phase: "decompose", ErrorType: "EMPTY_HOLDINGS_TABLE", Item: etf.ISIN,
				Message: fmt.Sprintf("holdings table for %s is empty after fetch", etf.ISIN),
				FixHint: "verify the provider adapter returned constituent rows, not just a header",
			})
			continue
		}

		table := normalize.Normalize(raw, string(etf.AssetClass))
		if len(table.Rows) == 0 {
			out.Errors = append(out.Errors, model.PipelineError{
				Phase: "decompose", ErrorType: "NORMALIZATION_EMPTIED_TABLE", Item: etf.ISIN,
				Message: fmt.Sprintf("every row of %s's holdings table was dropped during normalization", etf.ISIN),
				FixHint: "check the raw table's column headers against internal/normalize's alias list",
			})
			continue
		}

		holdings := make([]model.Holding, 0, len(table.Rows))
		for _, row := range table.Rows {
			// The provider's raw ticker is kept verbatim on the holding;
			// everything downstream (resolution, reports) works with the
			// Yahoo-suffixed form.
			mappedTicker := provider.ToYahooTicker(row.Ticker, row.Exchange)
			result := res.Resolve(ctx, resolver.Input{
				Ticker:       mappedTicker,
				Name:         row.Name,
				Exchange:     row.Exchange,
				ProviderISIN: row.ISIN,
				Weight:       row.WeightPercentage,
			})

			holdings = append(holdings, model.Holding{
				Ticker:               mappedTicker,
				RawTicker:            row.Ticker,
				Name:                 row.Name,
				WeightPercentage:     row.WeightPercentage,
				ISIN:                 result.ISIN,
				AssetClass:           mapAssetClass(row),
				ResolutionStatus:     result.Status,
				ResolutionSource:     result.Source,
				ResolutionConfidence: result.Confidence,
				ResolutionDetail:     result.Detail,
			})
		}

		decomp := &model.ETFDecomposition{
			ETFISIN:  etf.ISIN,
			ETFName:  etf.Name,
			ETFValue: etf.MarketValue(),
			// cache.Cache.GetHoldings doesn't surface which tier satisfied the
			// request; internal/pipeline reads that separately off
			// cache.Cache.Stats() for the health report.
			Source:   model.SourceAdapter,
			Holdings: holdings,
		}
		out.Decompositions = append(out.Decompositions, decomp)
		out.Issues = append(out.Issues, validate.Decomposition(etf.ISIN, decomp.WeightSum(), decomp.Holdings, moderateResolutionThreshold)...)
	}

	log.Info().Int("etfs", len(etfs)).Int("succeeded", len(out.Decompositions)).
		Int("failed", len(out.Errors)).Msg("decompose phase complete")
	return out
}

func pipelineError(etf model.Position, err error) model.PipelineError {
	if manual, ok := err.(*cache.ManualUploadRequired); ok {
		return model.PipelineError{
			Phase: "decompose", ErrorType: "MANUAL_UPLOAD_REQUIRED", Item: etf.ISIN,
			Message: manual.Error(),
			FixHint: fmt.Sprintf("download the holdings file from %s and upload it for %s", manual.DownloadURL, manual.ISIN),
		}
	}
	return model.PipelineError{
		Phase: "decompose", ErrorType: "FETCH_FAILED", Item: etf.ISIN,
		Message: err.Error(),
		FixHint: "check provider connectivity and the cache's manual-upload directory",
	}
}
