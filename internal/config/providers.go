// Package config loads the YAML configuration that governs provider
// behavior (rate limits, budgets, circuit breakers), resolver tuning, and
// the holdings cache.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProvidersConfig is the complete external-provider operations
// configuration: one entry per provider (wikidata, finnhub, yfinance,
// hive) plus budget and global defaults.
type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Budget    BudgetConfig              `yaml:"budget"`
	Global    GlobalConfig              `yaml:"global"`
}

// ProviderConfig configures one external provider's traffic shaping.
type ProviderConfig struct {
	Host        string        `yaml:"host"`
	RPS         int           `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	DailyBudget int           `yaml:"daily_budget"`
	TTLSecs     int           `yaml:"ttl_secs"`
	BackoffMS   BackoffConfig `yaml:"backoff_ms"`
	Circuit     CircuitConfig `yaml:"circuit"`
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
}

// BackoffConfig configures exponential retry backoff.
type BackoffConfig struct {
	Base   int  `yaml:"base"`
	Max    int  `yaml:"max"`
	Jitter bool `yaml:"jitter"`
}

// CircuitConfig configures one provider's circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutMS        int `yaml:"timeout_ms"`
}

// BudgetConfig configures shared budget-tracking defaults.
type BudgetConfig struct {
	WarnThreshold float64 `yaml:"warn_threshold"`
	ResetHour     int     `yaml:"reset_hour"`
}

// GlobalConfig configures settings shared by every provider client.
type GlobalConfig struct {
	MaxConcurrentPerHost int    `yaml:"max_concurrent_per_host"`
	UserAgent            string `yaml:"user_agent"`
}

// LoadProvidersConfig reads and validates provider configuration from a
// YAML file.
func LoadProvidersConfig(path string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers config: %w", err)
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid providers config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole provider configuration for internal
// consistency.
func (c *ProvidersConfig) Validate() error {
	if c.Budget.WarnThreshold <= 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget warn_threshold must be between 0 and 1, got %f", c.Budget.WarnThreshold)
	}
	if c.Budget.ResetHour < 0 || c.Budget.ResetHour > 23 {
		return fmt.Errorf("budget reset_hour must be between 0 and 23, got %d", c.Budget.ResetHour)
	}
	if c.Global.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("global max_concurrent_per_host must be positive, got %d", c.Global.MaxConcurrentPerHost)
	}
	if c.Global.UserAgent == "" {
		return fmt.Errorf("global user_agent cannot be empty")
	}
	for name, provider := range c.Providers {
		if err := provider.Validate(name); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks a single provider's configuration.
func (p *ProviderConfig) Validate(name string) error {
	if p.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if p.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", p.RPS)
	}
	if p.Burst < p.RPS {
		return fmt.Errorf("burst (%d) must be >= rps (%d)", p.Burst, p.RPS)
	}
	if p.DailyBudget <= 0 {
		return fmt.Errorf("daily_budget must be positive, got %d", p.DailyBudget)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if err := p.BackoffMS.Validate(); err != nil {
		return fmt.Errorf("backoff_ms: %w", err)
	}
	if err := p.Circuit.Validate(); err != nil {
		return fmt.Errorf("circuit: %w", err)
	}
	return nil
}

// Validate checks backoff bounds.
func (b *BackoffConfig) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base must be positive, got %d", b.Base)
	}
	if b.Max <= b.Base {
		return fmt.Errorf("max (%d) must be > base (%d)", b.Max, b.Base)
	}
	return nil
}

// Validate checks circuit breaker thresholds.
func (c *CircuitConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive, got %d", c.SuccessThreshold)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMS)
	}
	return nil
}

// CacheTTL returns the provider's HTTP response cache TTL.
func (p *ProviderConfig) CacheTTL() time.Duration {
	return time.Duration(p.TTLSecs) * time.Second
}

// RequestTimeout returns the provider's per-request timeout.
func (p *ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.Circuit.TimeoutMS) * time.Millisecond
}

// BaseBackoff returns the provider's base retry backoff.
func (p *ProviderConfig) BaseBackoff() time.Duration {
	return time.Duration(p.BackoffMS.Base) * time.Millisecond
}

// MaxBackoff returns the provider's maximum retry backoff.
func (p *ProviderConfig) MaxBackoff() time.Duration {
	return time.Duration(p.BackoffMS.Max) * time.Millisecond
}

// Provider returns the named provider's configuration.
func (c *ProvidersConfig) Provider(name string) (*ProviderConfig, bool) {
	cfg, ok := c.Providers[name]
	return &cfg, ok
}

// ProviderEnabled reports whether a provider is configured and enabled.
func (c *ProvidersConfig) ProviderEnabled(name string) bool {
	cfg, ok := c.Providers[name]
	return ok && cfg.Enabled
}
