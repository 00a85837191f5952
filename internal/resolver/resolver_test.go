package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/resolver/negcache"
)

type fakeEnrichCache struct{ m map[string]string }

func (f fakeEnrichCache) Get(ticker string) (string, bool) { v, ok := f.m[ticker]; return v, ok }

type fakeHive struct {
	tickerISIN map[string]string
	aliasISIN  map[string]string
	contribs   []string
}

func (f *fakeHive) ResolveTicker(ctx context.Context, ticker, exchange string) (string, bool, error) {
	v, ok := f.tickerISIN[ticker]
	return v, ok, nil
}
func (f *fakeHive) LookupByAlias(ctx context.Context, name string) (string, bool, error) {
	v, ok := f.aliasISIN[name]
	return v, ok, nil
}
func (f *fakeHive) Contribute(ctx context.Context, isinVal, ticker, name string) {
	f.contribs = append(f.contribs, isinVal)
}

type fakeWikidata struct{ isin string }

func (f fakeWikidata) SearchISIN(ctx context.Context, name, ticker string) (string, bool, error) {
	if f.isin == "" {
		return "", false, nil
	}
	return f.isin, true, nil
}

type fakeFinnhub struct{ isin string }

func (f fakeFinnhub) CompanyISIN(ctx context.Context, ticker string) (string, bool, error) {
	if f.isin == "" {
		return "", false, nil
	}
	return f.isin, true, nil
}

type fakeYFinance struct{ isin string }

func (f fakeYFinance) TickerISIN(ctx context.Context, ticker string) (string, bool, error) {
	if f.isin == "" {
		return "", false, nil
	}
	return f.isin, true, nil
}

func newTestResolver() (*Resolver, *AssetUniverse) {
	universe := &AssetUniverse{tickerIndex: map[string]string{}, aliasIndex: map[string]string{}}
	r := New(Config{ContributionEnabled: true}, universe, ManualOverrides{}, nil, negcache.NewMemCache(), &fakeHive{tickerISIN: map[string]string{}, aliasISIN: map[string]string{}}, fakeWikidata{}, fakeFinnhub{}, fakeYFinance{})
	r.sleep = func(time.Duration) {}
	return r, universe
}

func TestResolveProviderISINHighestPriority(t *testing.T) {
	r, _ := newTestResolver()
	res := r.Resolve(context.Background(), Input{Ticker: "AAPL", ProviderISIN: "US0378331005"})
	assert.Equal(t, "US0378331005", res.ISIN)
	assert.Equal(t, model.SourceProvider, res.Source)
	assert.Equal(t, 1.00, res.Confidence)
}

func TestResolveManualOverride(t *testing.T) {
	r, _ := newTestResolver()
	r.manual = ManualOverrides{"XYZ": "DE000BAY0017"}
	res := r.Resolve(context.Background(), Input{Ticker: "XYZ"})
	assert.Equal(t, "DE000BAY0017", res.ISIN)
	assert.Equal(t, model.SourceManual, res.Source)
}

func TestResolveLocalTickerIndex(t *testing.T) {
	r, universe := newTestResolver()
	universe.tickerIndex["MSFT"] = "US5949181045"
	res := r.Resolve(context.Background(), Input{Ticker: "MSFT"})
	assert.Equal(t, "US5949181045", res.ISIN)
	assert.Equal(t, "local_cache_ticker", res.Detail)
}

func TestResolveLocalAliasIndex(t *testing.T) {
	r, universe := newTestResolver()
	universe.aliasIndex["MICROSOFT CORP"] = "US5949181045"
	res := r.Resolve(context.Background(), Input{Ticker: "UNKNOWNTICK", Name: "Microsoft Corp"})
	assert.Equal(t, "US5949181045", res.ISIN)
	assert.Equal(t, "local_cache_alias", res.Detail)
}

func TestResolveEnrichmentCache(t *testing.T) {
	r, _ := newTestResolver()
	r.enrich = fakeEnrichCache{m: map[string]string{"GOOG": "US02079K3059"}}
	res := r.Resolve(context.Background(), Input{Ticker: "GOOG"})
	assert.Equal(t, "US02079K3059", res.ISIN)
	assert.Equal(t, "cache", res.Detail)
}

func TestResolveNegativeCacheShortCircuit(t *testing.T) {
	r, _ := newTestResolver()
	require.NoError(t, r.negative.MarkNegative(context.Background(), "ZZZ", time.Hour))
	res := r.Resolve(context.Background(), Input{Ticker: "ZZZ", Weight: 5.0})
	assert.Equal(t, "negative_cached", res.Detail)
	assert.Equal(t, model.StatusUnresolved, res.Status)
}

func TestResolveHiveTicker(t *testing.T) {
	r, _ := newTestResolver()
	r.hive = &fakeHive{tickerISIN: map[string]string{"NFLX": "US64110L1061"}, aliasISIN: map[string]string{}}
	res := r.Resolve(context.Background(), Input{Ticker: "NFLX"})
	assert.Equal(t, "US64110L1061", res.ISIN)
	assert.Equal(t, "hive_ticker", res.Detail)
}

func TestResolveTier2SkippedBelowThreshold(t *testing.T) {
	r, _ := newTestResolver()
	res := r.Resolve(context.Background(), Input{Ticker: "SMALLCAP", Weight: 0.1})
	assert.Equal(t, model.StatusSkipped, res.Status)
	assert.Equal(t, "tier2_skipped", res.Detail)
}

func TestResolveExternalAPICascadeOrder(t *testing.T) {
	r, _ := newTestResolver()
	r.wikidata = fakeWikidata{isin: "IE00B4L5Y983"}
	r.finnhub = fakeFinnhub{isin: "US0378331005"}
	res := r.Resolve(context.Background(), Input{Ticker: "BIG", Name: "Big Co", Weight: 5.0})
	assert.Equal(t, "IE00B4L5Y983", res.ISIN)
	assert.Equal(t, "api_wikidata", res.Detail)
}

func TestResolveFallsThroughToFinnhubThenYFinance(t *testing.T) {
	r, _ := newTestResolver()
	r.finnhub = fakeFinnhub{isin: "US0378331005"}
	res := r.Resolve(context.Background(), Input{Ticker: "BIG", Name: "Big Co", Weight: 5.0})
	assert.Equal(t, "api_finnhub", res.Detail)

	r2, _ := newTestResolver()
	r2.yfinance = fakeYFinance{isin: "US0378331005"}
	res2 := r2.Resolve(context.Background(), Input{Ticker: "BIG", Name: "Big Co", Weight: 5.0})
	assert.Equal(t, "api_yfinance", res2.Detail)
}

func TestResolveUnresolvedMarksNegativeCache(t *testing.T) {
	r, _ := newTestResolver()
	_ = r.Resolve(context.Background(), Input{Ticker: "GHOST", Name: "Ghost Co", Weight: 5.0})

	neg, err := r.negative.IsNegative(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.True(t, neg)
}

func TestResolveContributesToHiveOnHighConfidenceAPIResult(t *testing.T) {
	r, _ := newTestResolver()
	hive := &fakeHive{tickerISIN: map[string]string{}, aliasISIN: map[string]string{}}
	r.hive = hive
	r.wikidata = fakeWikidata{isin: "IE00B4L5Y983"}
	_ = r.Resolve(context.Background(), Input{Ticker: "BIG", Name: "Big Co", Weight: 5.0})
	assert.Equal(t, []string{"IE00B4L5Y983"}, hive.contribs)
}

func TestFlushAddsNewlyResolvedToUniverse(t *testing.T) {
	r, universe := newTestResolver()
	r.wikidata = fakeWikidata{isin: "IE00B4L5Y983"}
	_ = r.Resolve(context.Background(), Input{Ticker: "BIG", Name: "Big Co", Weight: 5.0})

	added := r.Flush()
	assert.Equal(t, 1, added)
	isin, ok := universe.LookupByTicker("BIG")
	assert.True(t, ok)
	assert.Equal(t, "IE00B4L5Y983", isin)
}

func TestStatsSummaryCountsOutcomes(t *testing.T) {
	r, _ := newTestResolver()
	r.Resolve(context.Background(), Input{Ticker: "AAPL", ProviderISIN: "US0378331005"})
	r.Resolve(context.Background(), Input{Ticker: "SMALL", Weight: 0.1})

	stats := r.StatsSnapshot()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Skipped)
	assert.Contains(t, stats.String(), "Total processed: 2")
}
