// Package aggregate implements the pipeline's Aggregate phase: folding
// direct positions and every ETF decomposition's constituents into one
// true-exposure table, grouped by ISIN (or the deterministic unresolved
// group key) with confidence-ranked field resolution on conflicts.
package aggregate

import (
	"sort"

	"github.com/skeptomenos/portfolio-prism/internal/enrich"
	"github.com/skeptomenos/portfolio-prism/internal/isin"
	"github.com/skeptomenos/portfolio-prism/internal/model"
)

// Result is the Aggregate phase's output.
type Result struct {
	Exposures      []model.AggregatedExposure
	TrueTotalValue float64
}

type group struct {
	key      string
	rows     []memberRow
	direct   float64
	indirect float64
}

type memberRow struct {
	name                 string
	sector               string
	geography            string
	assetClass           model.HoldingAssetClass
	resolutionConfidence float64
	resolutionSource     model.ResolutionSource
	unknownFields        int
}

// Aggregate groups direct positions (one row per ISIN) and every
// decomposition's holdings (grouped by ISIN, or by a deterministic
// unresolved/cash key) into AggregatedExposure rows. portfolioValue is the
// Loader's independently-computed sum of all position market values, used
// to compute portfolio_percentage top-down rather than from the exposure
// rows themselves.
func Aggregate(direct []model.Position, decompositions []*model.ETFDecomposition, posMeta enrich.PositionMetadata, portfolioValue float64) Result {
	groups := make(map[string]*group)

	order := []string{}
	get := func(key string) *group {
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		return g
	}

	for _, p := range direct {
		key := p.ISIN
		if key == "" || !isin.Valid(key) {
			key = isin.GroupKey(p.Symbol, p.Name)
		}
		if p.AssetClass == model.AssetCash {
			key = isin.CashKey(p.Currency)
		}
		g := get(key)
		g.direct += p.MarketValue()

		meta := posMeta[p.ISIN]
		g.rows = append(g.rows, memberRow{
			name:                 p.Name,
			sector:               orDefault(meta.Sector, model.DefaultSector),
			geography:            orDefault(meta.Geography, model.DefaultGeography),
			assetClass:           directAssetClass(p.AssetClass),
			resolutionConfidence: 1.0,
			resolutionSource:     model.SourceExisting,
			unknownFields:        unknownCount(meta.Sector, meta.Geography),
		})
	}

	for _, d := range decompositions {
		for i, h := range d.Holdings {
			key := h.ISIN
			if key == "" || !isin.Valid(key) {
				key = isin.GroupKey(h.Ticker, h.Name)
			}
			if h.AssetClass == model.HoldingCash {
				key = isin.CashKey("")
			}
			g := get(key)
			value := h.WeightPercentage / 100 * d.ETFValue
			d.Holdings[i].Indirect = value
			g.indirect += value

			g.rows = append(g.rows, memberRow{
				name:                 h.Name,
				sector:               orDefault(h.Sector, model.DefaultSector),
				geography:            orDefault(h.Geography, model.DefaultGeography),
				assetClass:           h.AssetClass,
				resolutionConfidence: h.ResolutionConfidence,
				resolutionSource:     h.ResolutionSource,
				unknownFields:        unknownCount(h.Sector, h.Geography),
			})
		}
	}

	exposures := make([]model.AggregatedExposure, 0, len(order))
	for _, key := range order {
		g := groups[key]
		best := pickBest(g.rows)

		exposures = append(exposures, model.AggregatedExposure{
			GroupKey:             g.key,
			Name:                 best.name,
			Sector:               best.sector,
			Geography:            best.geography,
			AssetClass:           best.assetClass,
			Direct:               g.direct,
			Indirect:             g.indirect,
			ResolutionConfidence: maxConfidence(g.rows),
			ResolutionSource:     best.resolutionSource,
		})
	}

	for i := range exposures {
		if portfolioValue > 0 {
			exposures[i].PortfolioPercentage = 100 * exposures[i].TotalExposure() / portfolioValue
		} else {
			exposures[i].PortfolioPercentage = 0
		}
	}

	sort.Slice(exposures, func(i, j int) bool {
		return exposures[i].TotalExposure() > exposures[j].TotalExposure()
	})

	return Result{Exposures: exposures, TrueTotalValue: portfolioValue}
}

// pickBest orders a group's member rows by resolution confidence, breaking
// ties on the number of Unknown fields, and returns the winner: the
// most-confident, most-complete record supplies name/sector/geography.
func pickBest(rows []memberRow) memberRow {
	best := rows[0]
	for _, r := range rows[1:] {
		if r.resolutionConfidence > best.resolutionConfidence {
			best = r
			continue
		}
		if r.resolutionConfidence == best.resolutionConfidence && r.unknownFields < best.unknownFields {
			best = r
		}
	}
	return best
}

func maxConfidence(rows []memberRow) float64 {
	max := 0.0
	for _, r := range rows {
		if r.resolutionConfidence > max {
			max = r.resolutionConfidence
		}
	}
	return max
}

func unknownCount(sector, geography string) int {
	n := 0
	if sector == "" || sector == model.DefaultSector {
		n++
	}
	if geography == "" || geography == model.DefaultGeography {
		n++
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func directAssetClass(a model.AssetClass) model.HoldingAssetClass {
	switch a {
	case model.AssetCash:
		return model.HoldingCash
	default:
		return model.HoldingEquity
	}
}
