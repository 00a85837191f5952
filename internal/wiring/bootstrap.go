// Package wiring assembles the Resolver, Holdings Cache, provider adapter
// registry, Hive client, and Enricher collaborators from a loaded
// config.Config. Both cmd/prism and internal/transport build their
// dependencies through this one entry point so the CLI's one-shot `run`
// and the echo-bridge's `run_pipeline` command share identical wiring.
package wiring

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/enrich"
	"github.com/skeptomenos/portfolio-prism/internal/hive"
	"github.com/skeptomenos/portfolio-prism/internal/infrastructure/db"
	"github.com/skeptomenos/portfolio-prism/internal/metrics"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/budget"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/circuit"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/client"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/ratelimit"
	"github.com/skeptomenos/portfolio-prism/internal/persistence"
	"github.com/skeptomenos/portfolio-prism/internal/provider"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
	"github.com/skeptomenos/portfolio-prism/internal/resolver/negcache"
)

// Services bundles every long-lived, process-wide collaborator the
// pipeline's phases share across runs: the Resolver's alias index and the
// Holdings Cache outlive a single run.
type Services struct {
	Config   config.Config
	Resolver *resolver.Resolver
	Cache    *cache.Cache
	Adapters *provider.Registry
	Hive     *hive.Client
	Metrics  *metrics.Registry
	Enrich   enrich.Config

	// Persistence mirrors resolved identities and run history into
	// Postgres when PRISM_POSTGRES_DSN is set; Persistence.IsEnabled()
	// is false (and Repository() nil) otherwise, with the CSV asset
	// universe and report directory remaining fully authoritative.
	Persistence *db.Manager

	netClient *client.Manager
}

// Secrets carries credentials read from the environment, never from the
// YAML config file.
type Secrets struct {
	HiveBaseURL string
	HiveToken   string
	FinnhubKey  string
	PostgresDSN string
}

func defaultProvidersConfig(hiveBaseURL string) *config.ProvidersConfig {
	mk := func(host, base string) config.ProviderConfig {
		return config.ProviderConfig{
			Host: host, RPS: 1, Burst: 2, DailyBudget: 5000, TTLSecs: 3600,
			BackoffMS: config.BackoffConfig{Base: 500, Max: 8000, Jitter: true},
			Circuit:   config.CircuitConfig{FailureThreshold: 5, SuccessThreshold: 2, TimeoutMS: 10000},
			Enabled:   true, BaseURL: base,
		}
	}
	return &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{
			"wikidata": mk("www.wikidata.org", "https://www.wikidata.org/w/api.php"),
			"finnhub":  mk("finnhub.io", "https://finnhub.io/api/v1"),
			"yfinance": mk("query1.finance.yahoo.com", "https://query1.finance.yahoo.com"),
			"hive":     mk(hostOf(hiveBaseURL), hiveBaseURL),
		},
		Budget: config.BudgetConfig{WarnThreshold: 0.8, ResetHour: 0},
		Global: config.GlobalConfig{MaxConcurrentPerHost: 1, UserAgent: "portfolio-prism/1.0 (respect-robots.txt)"},
	}
}

// Build assembles every shared service from cfg and the process's secrets.
func Build(cfg config.Config, secrets Secrets) (*Services, error) {
	providersCfg := defaultProvidersConfig(secrets.HiveBaseURL)

	rateMgr := ratelimit.NewManager()
	circuitMgr := circuit.NewManager()
	budgetMgr := budget.NewManager()
	for name, pc := range providersCfg.Providers {
		rateMgr.AddProvider(name, float64(pc.RPS), pc.Burst)
		circuitMgr.AddProvider(name, circuit.Config{
			FailureThreshold: pc.Circuit.FailureThreshold,
			SuccessThreshold: pc.Circuit.SuccessThreshold,
			OpenDuration:     pc.RequestTimeout() * 6,
			RequestTimeout:   pc.RequestTimeout(),
		})
		budgetMgr.AddProvider(name, int64(pc.DailyBudget), providersCfg.Budget.ResetHour, providersCfg.Budget.WarnThreshold)
	}

	netMgr := client.NewManager(rateMgr, circuitMgr, budgetMgr, client.NewMemCache())
	for name, pc := range providersCfg.Providers {
		pcCopy := pc
		netMgr.AddProvider(name, &pcCopy)
	}

	wikidataHTTP, _ := netMgr.GetClient("wikidata")
	finnhubHTTP, _ := netMgr.GetClient("finnhub")
	yfinanceHTTP, _ := netMgr.GetClient("yfinance")
	hiveHTTP, _ := netMgr.GetClient("hive")

	universePath := cfg.AssetUniverseCSV
	universe, err := resolver.LoadAliasIndex(universePath)
	if err != nil {
		return nil, fmt.Errorf("load asset universe: %w", err)
	}

	manualOverridesPath := filepath.Join(filepath.Dir(universePath), "manual_overrides.json")
	manual, err := resolver.LoadManualOverrides(manualOverridesPath)
	if err != nil {
		return nil, fmt.Errorf("load manual overrides: %w", err)
	}

	negCache := negcache.NewFromEnv(cfg.RedisAddr)

	syncPath := filepath.Join(cfg.DataDir, "config", ".hive_sync.json")
	syncMeta := hive.LoadSyncMetadata(syncPath)
	hiveClient := hive.New(hiveHTTP, secrets.HiveBaseURL, secrets.HiveToken, universe, syncMeta)

	wikidataClient := resolver.NewHTTPWikidataClient(wikidataHTTP)
	finnhubClient := resolver.NewHTTPFinnhubClient(finnhubHTTP, secrets.FinnhubKey)
	yfinanceClient := resolver.NewHTTPYFinanceClient(yfinanceHTTP)

	res := resolver.New(resolver.Config{
		Tier1Threshold:      cfg.Resolver.Tier1Threshold,
		NegativeCacheTTL:    time.Duration(cfg.Resolver.NegativeCacheTTL) * time.Second,
		ContributionEnabled: true,
	}, universe, manual, nil, negCache, hiveClient, wikidataClient, finnhubClient, yfinanceClient)

	holdingsCache, err := cache.New(cfg.Cache, cfg.Sealed)
	if err != nil {
		return nil, fmt.Errorf("build holdings cache: %w", err)
	}

	fileDrop := provider.NewFileDropAdapter(filepath.Join(cfg.DataDir, "inputs", "provider_drop"))
	var fallbacks []provider.Adapter
	if !cfg.Sealed {
		if adapter, err := loadHTTPAdapter(cfg, "ishares", finnhubHTTP); err != nil {
			log.Warn().Err(err).Msg("ishares adapter unavailable, continuing without it")
		} else {
			fallbacks = append(fallbacks, adapter)
		}
	}
	registry := provider.NewRegistry(fileDrop, fallbacks...)

	localMetaCache := enrich.NewFileCache(filepath.Join(cfg.DataDir, "working", "cache", "enrichment_cache.json"))
	apiCascade := enrich.NewAPICascade(finnhubHTTP, secrets.FinnhubKey)

	pgCfg := db.DefaultConfig()
	pgCfg.DSN = secrets.PostgresDSN
	pgCfg.Enabled = secrets.PostgresDSN != ""
	persist, err := db.NewManager(pgCfg)
	if err != nil {
		log.Warn().Err(err).Msg("postgres persistence unavailable, continuing with CSV/file stores only")
		persist, _ = db.NewManager(db.Config{Enabled: false})
	}

	return &Services{
		Config:   cfg,
		Resolver: res,
		Cache:    holdingsCache,
		Adapters: registry,
		Hive:     hiveClient,
		Metrics:  metrics.New(),
		Enrich: enrich.Config{
			Local:               localMetaCache,
			Hive:                hiveClient,
			API:                 apiCascade,
			ContributionEnabled: true,
		},
		Persistence: persist,
		netClient:   netMgr,
	}, nil
}

// Shutdown flushes the resolver's pending writes into the asset universe
// so identities resolved this run survive into the next one, persists the
// Hive sync timestamps, and drains the Hive contribution queue. Call once
// after a run completes.
func (s *Services) Shutdown() {
	if added := s.Resolver.Flush(); added > 0 {
		log.Info().Int("added", added).Msg("flushed newly-resolved identities into asset universe")
	}
	if s.Hive != nil {
		syncPath := filepath.Join(s.Config.DataDir, "config", ".hive_sync.json")
		if err := hive.SaveSyncMetadata(syncPath, s.Hive.SyncMetadataSnapshot()); err != nil {
			log.Warn().Err(err).Msg("failed to persist hive sync metadata")
		}
		s.Hive.Close()
	}
	s.mirrorResolverIndex()
	if s.Persistence != nil {
		if err := s.Persistence.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close postgres connection")
		}
	}
}

// mirrorResolverIndex copies the full asset universe into Postgres when
// persistence is enabled, so the resolver's history survives independently
// of the CSV file. Best-effort: a mirroring failure never fails shutdown.
func (s *Services) mirrorResolverIndex() {
	if s.Persistence == nil || !s.Persistence.IsEnabled() || s.Resolver.Universe() == nil {
		return
	}
	entries := s.Resolver.Universe().Entries()
	if len(entries) == 0 {
		return
	}
	identities := make([]persistence.ResolvedIdentity, len(entries))
	now := time.Now()
	for i, e := range entries {
		identities[i] = persistence.ResolvedIdentity{
			ISIN: e.ISIN, Ticker: e.Ticker, Name: e.Name, Source: e.Source, ResolvedAt: now,
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Persistence.Repository().ResolverIndex.UpsertBatch(ctx, identities); err != nil {
		log.Warn().Err(err).Msg("failed to mirror resolver index into postgres")
	}
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func loadHTTPAdapter(cfg config.Config, issuer string, httpClient *http.Client) (provider.Adapter, error) {
	regPath := filepath.Join(cfg.DataDir, "config", issuer+"_products.json")
	reg, err := provider.LoadProductRegistry(regPath)
	if err != nil {
		return nil, err
	}
	urlTemplate := "https://www.ishares.com/uk/individual/en/products/{product_id}/fund/1506575576011.ajax?fileType=csv&fileName=holdings&dataType=fund"
	return provider.NewHTTPAdapter(issuer, urlTemplate, reg, httpClient), nil
}
