package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration: data directories, resolver
// tuning, cache freshness, and the sealed-mode flag, loaded from the path
// in PRISM_CONFIG or a sensible default.
type Config struct {
	DataDir          string         `yaml:"data_dir"`
	AssetUniverseCSV string         `yaml:"asset_universe_csv"`
	Resolver         ResolverConfig `yaml:"resolver"`
	Cache            CacheConfig    `yaml:"cache"`
	Sealed           bool           `yaml:"sealed"`
	PostgresDSN      string         `yaml:"postgres_dsn"`
	RedisAddr        string         `yaml:"redis_addr"`

	// ReportingCurrency is the currency every exposure figure is expressed
	// in; positions denominated otherwise are flagged, not converted, per
	// the pipeline's non-goal of FX conversion.
	ReportingCurrency string `yaml:"reporting_currency"`
}

// DefaultReportingCurrency is applied when a config omits the field.
const DefaultReportingCurrency = "EUR"

// ResolverConfig tunes the ISIN resolver cascade.
type ResolverConfig struct {
	Tier1Threshold   float64 `yaml:"tier1_threshold"`
	NegativeCacheTTL int     `yaml:"negative_cache_ttl_seconds"`
}

// CacheConfig tunes the holdings cache.
type CacheConfig struct {
	FreshnessWindowDays int    `yaml:"freshness_window_days"`
	LocalDir            string `yaml:"local_dir"`
	CommunityDir        string `yaml:"community_dir"`
	ManualUploadDir     string `yaml:"manual_upload_dir"`
}

// DefaultTier1Threshold is the ETF-constituent-weight cutoff above which a
// holding is eligible for the external API resolution cascade, in percent.
const DefaultTier1Threshold = 1.0

// DefaultNegativeCacheTTLSeconds is how long an unresolved ISIN lookup is
// remembered before being retried.
const DefaultNegativeCacheTTLSeconds = 6 * 60 * 60

// DefaultFreshnessWindowDays is how old a cached holdings snapshot may be
// before it is considered stale.
const DefaultFreshnessWindowDays = 7

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		DataDir:           "data",
		AssetUniverseCSV:  "config/asset_universe.csv",
		ReportingCurrency: DefaultReportingCurrency,
		Resolver: ResolverConfig{
			Tier1Threshold:   DefaultTier1Threshold,
			NegativeCacheTTL: DefaultNegativeCacheTTLSeconds,
		},
		Cache: CacheConfig{
			FreshnessWindowDays: DefaultFreshnessWindowDays,
			LocalDir:            "data/cache/local",
			CommunityDir:        "data/cache/community",
			ManualUploadDir:     "data/manual_uploads",
		},
	}
}

// Load reads a YAML config file, applying Default() for any field the file
// leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads from PRISM_CONFIG if set, otherwise returns defaults.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("PRISM_CONFIG"))
}
