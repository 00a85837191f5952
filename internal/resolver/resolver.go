// Package resolver implements the multi-tier ISIN resolution cascade:
// provider-supplied ISIN, manual overrides, local alias/ticker index,
// in-process enrichment cache, negative-cache short-circuit, remote Hive,
// and finally an external API cascade for Tier-1 holdings only.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/isin"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/resolver/negcache"
)

// DefaultTier1Threshold is the default ETF-constituent weight (percent)
// above which a holding is eligible for the external API cascade.
const DefaultTier1Threshold = 1.0

// DefaultNegativeCacheTTL is the default lifetime of a negative resolution
// result before it is retried.
const DefaultNegativeCacheTTL = 6 * time.Hour

// minContributableNameLen excludes short, noisy aliases from Hive
// contribution.
const minContributableNameLen = 3

// Result is the outcome of one resolution attempt.
type Result struct {
	ISIN       string
	Status     model.ResolutionStatus
	Source     model.ResolutionSource
	Confidence float64
	Detail     string
}

// Input is the caller-supplied identity of a holding to resolve.
type Input struct {
	Ticker       string
	Name         string
	ProviderISIN string
	Weight       float64 // ETF constituent weight percentage, for tier gating
	Exchange     string
}

// EnrichmentCache is the validated in-process cache consulted at cascade
// step 5, shared with the enrichment phase.
type EnrichmentCache interface {
	Get(ticker string) (string, bool)
}

// Config tunes cascade behavior.
type Config struct {
	Tier1Threshold      float64
	NegativeCacheTTL    time.Duration
	ContributionEnabled bool
}

// Resolver executes the priority cascade documented on Resolve.
type Resolver struct {
	config   Config
	universe *AssetUniverse
	manual   ManualOverrides
	enrich   EnrichmentCache
	negative negcache.Cache
	hive     HiveClient
	wikidata WikidataClient
	finnhub  FinnhubClient
	yfinance YFinanceClient

	sleep func(time.Duration)

	mu    sync.Mutex
	stats Stats
}

// New constructs a Resolver. Any dependency may be nil/zero-valued,
// universe included; callers wanting to skip a tier should pass a no-op
// implementation (e.g. NoopHiveClient{}) instead of nil.
func New(config Config, universe *AssetUniverse, manual ManualOverrides, enrich EnrichmentCache, negative negcache.Cache, hive HiveClient, wikidata WikidataClient, finnhub FinnhubClient, yfinance YFinanceClient) *Resolver {
	if config.Tier1Threshold <= 0 {
		config.Tier1Threshold = DefaultTier1Threshold
	}
	if config.NegativeCacheTTL <= 0 {
		config.NegativeCacheTTL = DefaultNegativeCacheTTL
	}
	return &Resolver{
		config:   config,
		universe: universe,
		manual:   manual,
		enrich:   enrich,
		negative: negative,
		hive:     hive,
		wikidata: wikidata,
		finnhub:  finnhub,
		yfinance: yfinance,
		sleep:    time.Sleep,
	}
}

// Resolve runs the full priority cascade for one holding, stopping at the
// first step that produces a non-null result.
func (r *Resolver) Resolve(ctx context.Context, in Input) Result {
	ticker := strings.TrimSpace(in.Ticker)
	name := strings.TrimSpace(in.Name)

	result := r.resolveCascade(ctx, ticker, name, in)
	r.record(ticker, name, result)
	return result
}

func (r *Resolver) resolveCascade(ctx context.Context, ticker, name string, in Input) Result {
	// 1. Provider-supplied ISIN.
	if candidate := isin.Normalize(in.ProviderISIN); candidate != "" && isin.Valid(candidate) {
		return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceProvider, Confidence: 1.00, Detail: "provider"}
	}

	// 2. Manual override map.
	if candidate, ok := r.manual.Lookup(ticker); ok {
		return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceManual, Confidence: 0.85, Detail: "manual"}
	}

	// 3. Local index by ticker.
	if r.universe != nil {
		if candidate, ok := r.universe.LookupByTicker(ticker); ok {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceLocalCacheRes, Confidence: 0.95, Detail: "local_cache_ticker"}
		}

		// 4. Local index by name alias.
		if candidate, ok := r.universe.LookupByAlias(name); ok {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceLocalCacheRes, Confidence: 0.95, Detail: "local_cache_alias"}
		}
	}

	// 5. In-process enrichment cache.
	if r.enrich != nil {
		if candidate, ok := r.enrich.Get(ticker); ok && isin.Valid(candidate) {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceLocalCacheRes, Confidence: 0.95, Detail: "cache"}
		}
	}

	// 6. Negative cache short-circuit.
	if r.negative != nil {
		if neg, err := r.negative.IsNegative(ctx, strings.ToUpper(ticker)); err == nil && neg {
			return Result{Status: model.StatusUnresolved, Source: "", Confidence: 0.00, Detail: "negative_cached"}
		}
	}

	// 7-8. Remote Hive.
	if r.hive != nil {
		if candidate, ok, err := r.hive.ResolveTicker(ctx, ticker, in.Exchange); err == nil && ok && isin.Valid(candidate) {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceHive, Confidence: 0.90, Detail: "hive_ticker"}
		}
		if candidate, ok, err := r.hive.LookupByAlias(ctx, name); err == nil && ok && isin.Valid(candidate) {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceHive, Confidence: 0.90, Detail: "hive_alias"}
		}
	}

	// Tier gating: only Tier-1 (above-threshold) rows spend external API budget.
	if in.Weight <= r.config.Tier1Threshold {
		return Result{Status: model.StatusSkipped, Source: model.SourceTier2Skipped, Confidence: 0.00, Detail: "tier2_skipped"}
	}

	// 9. External API cascade: Wikidata -> Finnhub -> YFinance.
	result := r.resolveViaAPI(ctx, ticker, name)

	if result.Status != model.StatusResolved && r.negative != nil {
		if err := r.negative.MarkNegative(ctx, strings.ToUpper(ticker), r.config.NegativeCacheTTL); err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("failed to record negative cache entry")
		}
	}

	if result.Status == model.StatusResolved && result.Confidence >= 0.70 && r.hive != nil && r.config.ContributionEnabled {
		if len(name) >= minContributableNameLen {
			r.hive.Contribute(ctx, result.ISIN, ticker, name)
		}
	}

	return result
}

func (r *Resolver) resolveViaAPI(ctx context.Context, ticker, name string) Result {
	if r.wikidata != nil {
		if candidate, ok, err := r.wikidata.SearchISIN(ctx, name, ticker); err != nil {
			log.Debug().Err(err).Str("name", name).Msg("wikidata lookup failed")
		} else if ok {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceAPIWikidata, Confidence: 0.80, Detail: "api_wikidata"}
		}
	}
	r.sleep(200 * time.Millisecond)

	if r.finnhub != nil {
		if candidate, ok, err := r.finnhub.CompanyISIN(ctx, ticker); err != nil {
			log.Debug().Err(err).Str("ticker", ticker).Msg("finnhub lookup failed")
		} else if ok {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceAPIFinnhub, Confidence: 0.75, Detail: "api_finnhub"}
		}
	}
	r.sleep(time.Second)

	if r.yfinance != nil {
		if candidate, ok, err := r.yfinance.TickerISIN(ctx, ticker); err != nil {
			log.Debug().Err(err).Str("ticker", ticker).Msg("yfinance lookup failed")
		} else if ok {
			return Result{ISIN: candidate, Status: model.StatusResolved, Source: model.SourceAPIYFinance, Confidence: 0.70, Detail: "api_yfinance"}
		}
	}

	return Result{Status: model.StatusUnresolved, Detail: "api_all_failed"}
}

// record updates cascade stats and, for newly-resolved identities with a
// known source, queues them for asset-universe promotion via Flush.
func (r *Resolver) record(ticker, name string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Total++
	switch result.Status {
	case model.StatusResolved:
		r.stats.Resolved++
	case model.StatusUnresolved:
		r.stats.Unresolved++
	case model.StatusSkipped:
		r.stats.Skipped++
	}
	if r.stats.BySource == nil {
		r.stats.BySource = make(map[string]int)
	}
	r.stats.BySource[result.Detail]++

	if result.Status == model.StatusResolved && result.Source != "" && result.Source != model.SourceLocalCacheRes {
		r.stats.pending = append(r.stats.pending, pendingEntry{isin: result.ISIN, ticker: ticker, name: name, source: string(result.Source)})
	}
}

// Universe exposes the asset universe backing this resolver, for callers
// that need to mirror its contents elsewhere (e.g. into Postgres).
func (r *Resolver) Universe() *AssetUniverse {
	return r.universe
}

// Flush batch-writes every newly-resolved identity accumulated since the
// last Flush into the local asset universe, returning the number added.
func (r *Resolver) Flush() int {
	r.mu.Lock()
	pending := r.stats.pending
	r.stats.pending = nil
	r.mu.Unlock()

	if r.universe == nil {
		return 0
	}

	added := 0
	for _, p := range pending {
		if r.universe.AddEntry(p.isin, p.ticker, p.name, p.source) {
			added++
		}
	}
	return added
}

// StatsSnapshot returns a copy of the resolver's running statistics.
func (r *Resolver) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.stats
	snapshot.BySource = make(map[string]int, len(r.stats.BySource))
	for k, v := range r.stats.BySource {
		snapshot.BySource[k] = v
	}
	snapshot.pending = nil
	return snapshot
}
