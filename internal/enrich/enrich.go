// Package enrich implements the Enrich phase: deduplicating the unique ISIN
// set across all decomposed holdings and direct positions, then resolving
// sector/geography/asset-class metadata through a local-cache -> Hive ->
// API cascade, batched so the pipeline issues exactly one lookup per
// unique ISIN rather than once per holding.
package enrich

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/hive"
	"github.com/skeptomenos/portfolio-prism/internal/model"
)

// LocalCache is the in-process/file-backed metadata cache consulted first.
type LocalCache interface {
	BatchGet(isins []string) map[string]hive.Metadata
	Put(isinVal string, m hive.Metadata)
}

// HiveSource is the remote Hive metadata lookup, satisfied by *hive.Client.
type HiveSource interface {
	BatchMetadata(ctx context.Context, isins []string) (map[string]hive.Metadata, error)
	ContributeMetadata(isinVal string, m hive.Metadata)
}

// APISource is the last-resort per-ISIN enrichment path (Finnhub profile,
// YFinance), tried only for ISINs the local cache and Hive both miss.
type APISource interface {
	CompanyMetadata(ctx context.Context, isinVal string) (hive.Metadata, bool, error)
}

// Config tunes which metadata sources are available. Any may be nil to
// disable that tier.
type Config struct {
	Local               LocalCache
	Hive                HiveSource
	API                 APISource
	ContributionEnabled bool
}

// Stats records how many ISINs were satisfied by each tier, surfaced in the
// health report's enrichment.stats field.
type Stats struct {
	Total       int
	LocalHits   int
	HiveHits    int
	APIHits     int
	Unresolved  int
}

// Enrich annotates every holding (across all decompositions) in place with
// sector/geography/asset_class and an enrichment_source, after deduplicating
// to one lookup per unique ISIN. It also returns a PositionMetadata map for
// direct positions, which carry no enrichment fields of their own and so are
// annotated out-of-band for the Aggregator to read back.
func Enrich(ctx context.Context, cfg Config, decompositions []*model.ETFDecomposition, direct []model.Position) (Stats, PositionMetadata) {
	unique := collectISINs(decompositions, direct)
	if len(unique) == 0 {
		return Stats{}, PositionMetadata{}
	}

	stats := Stats{Total: len(unique)}
	resolved := make(map[string]metaWithSource, len(unique))

	remaining := unique
	if cfg.Local != nil {
		hits := cfg.Local.BatchGet(remaining)
		var misses []string
		for _, isinVal := range remaining {
			if m, ok := hits[isinVal]; ok {
				resolved[isinVal] = metaWithSource{m, "local_cache"}
				stats.LocalHits++
			} else {
				misses = append(misses, isinVal)
			}
		}
		remaining = misses
	}

	if cfg.Hive != nil && len(remaining) > 0 {
		hits, err := cfg.Hive.BatchMetadata(ctx, remaining)
		if err != nil {
			log.Warn().Err(err).Int("count", len(remaining)).Msg("hive batch metadata lookup failed")
		} else {
			var misses []string
			for _, isinVal := range remaining {
				if m, ok := hits[isinVal]; ok {
					resolved[isinVal] = metaWithSource{m, "hive"}
					stats.HiveHits++
					if cfg.Local != nil {
						cfg.Local.Put(isinVal, m)
					}
				} else {
					misses = append(misses, isinVal)
				}
			}
			remaining = misses
		}
	}

	if cfg.API != nil {
		for _, isinVal := range remaining {
			m, ok, err := cfg.API.CompanyMetadata(ctx, isinVal)
			if err != nil {
				log.Debug().Err(err).Str("isin", isinVal).Msg("api enrichment failed")
				continue
			}
			if !ok {
				continue
			}
			resolved[isinVal] = metaWithSource{m, "api"}
			stats.APIHits++
			if cfg.Local != nil {
				cfg.Local.Put(isinVal, m)
			}
			if cfg.Hive != nil && cfg.ContributionEnabled {
				cfg.Hive.ContributeMetadata(isinVal, m)
			}
		}
	}

	stats.Unresolved = len(unique) - len(resolved)

	applyToHoldings(decompositions, resolved)
	posMeta := applyToPositions(direct, resolved)

	log.Info().Int("total", stats.Total).Int("local", stats.LocalHits).
		Int("hive", stats.HiveHits).Int("api", stats.APIHits).
		Int("unresolved", stats.Unresolved).Msg("enrichment complete")
	return stats, posMeta
}

type metaWithSource struct {
	hive.Metadata
	source string
}

func collectISINs(decompositions []*model.ETFDecomposition, direct []model.Position) []string {
	seen := make(map[string]bool)
	var unique []string
	add := func(isinVal string) {
		if isinVal == "" || seen[isinVal] {
			return
		}
		seen[isinVal] = true
		unique = append(unique, isinVal)
	}
	for _, d := range decompositions {
		for _, h := range d.Holdings {
			add(h.ISIN)
		}
	}
	for _, p := range direct {
		add(p.ISIN)
	}
	return unique
}

func applyToHoldings(decompositions []*model.ETFDecomposition, resolved map[string]metaWithSource) {
	for _, d := range decompositions {
		for i := range d.Holdings {
			h := &d.Holdings[i]
			h.Sector = model.DefaultSector
			h.Geography = model.DefaultGeography
			if h.AssetClass == "" {
				h.AssetClass = model.HoldingEquity
			}
			h.EnrichmentSource = "default"
			if h.ISIN == "" {
				continue
			}
			if m, ok := resolved[h.ISIN]; ok {
				if m.Sector != "" {
					h.Sector = m.Sector
				}
				if m.Geography != "" {
					h.Geography = m.Geography
				}
				// Only the holding-level classes are accepted; an
				// unrecognized class from a remote record leaves the
				// decomposer's classification alone.
				switch cls := model.HoldingAssetClass(m.AssetClass); cls {
				case model.HoldingEquity, model.HoldingCash, model.HoldingDerivative:
					h.AssetClass = cls
				}
				h.EnrichmentSource = m.source
			}
		}
	}
}

// PositionMetadata is the sector/geography annotation the aggregator reads
// back for direct positions; the Position type itself carries no
// enrichment fields since it is read-only loader output, so the map is
// threaded through separately.
type PositionMetadata map[string]hive.Metadata

func applyToPositions(direct []model.Position, resolved map[string]metaWithSource) PositionMetadata {
	out := make(PositionMetadata, len(direct))
	for _, p := range direct {
		if m, ok := resolved[p.ISIN]; ok {
			out[p.ISIN] = m.Metadata
		}
	}
	return out
}
