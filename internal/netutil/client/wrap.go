// Package client composes rate limiting, budget tracking, circuit breaking
// and response caching into a single http.RoundTripper, so every outbound
// call the resolver and hive client make shares one middleware stack.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/budget"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/circuit"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/ratelimit"
)

// WrapperConfig configures one provider's wrapped transport.
type WrapperConfig struct {
	Provider       string
	ProviderConfig *config.ProviderConfig
	RateLimiter    *ratelimit.Limiter
	CircuitBreaker *circuit.Breaker
	BudgetTracker  *budget.Tracker
	Cache          Cache
}

// Cache caches raw HTTP response bodies by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Wrapper is an http.RoundTripper that enforces cache, budget, rate limit
// and circuit breaking in that order before delegating to transport.
type Wrapper struct {
	config    WrapperConfig
	transport http.RoundTripper
	userAgent string
}

// NewWrapper builds a Wrapper around transport (http.DefaultTransport if
// nil).
func NewWrapper(cfg WrapperConfig, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Wrapper{
		config:    cfg,
		transport: transport,
		userAgent: "portfolio-prism/1.0 (respect-robots.txt)",
	}
}

// RoundTrip implements http.RoundTripper.
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	if w.config.Cache != nil && req.Method == http.MethodGet {
		key := w.cacheKey(req)
		if data, found := w.config.Cache.Get(req.Context(), key); found {
			return w.cachedResponse(req, data), nil
		}
	}

	if w.config.BudgetTracker != nil {
		if err := w.config.BudgetTracker.Allow(); err != nil {
			return nil, &ProviderError{Provider: w.config.Provider, Type: "budget", Err: err}
		}
	}

	if w.config.RateLimiter != nil {
		if err := w.config.RateLimiter.Wait(req.Context(), w.config.ProviderConfig.Host); err != nil {
			return nil, &ProviderError{
				Provider: w.config.Provider,
				Type:     "rate_limit",
				Err:      fmt.Errorf("rate limit wait failed: %w", err),
			}
		}
	}

	var response *http.Response
	var requestErr error

	execute := func(ctx context.Context) error {
		if w.config.BudgetTracker != nil {
			if err := w.config.BudgetTracker.Consume(); err != nil {
				if _, exhausted := err.(*budget.ExhaustedError); exhausted {
					return &ProviderError{Provider: w.config.Provider, Type: "budget", Err: err}
				}
			}
		}

		response, requestErr = w.transport.RoundTrip(req.WithContext(ctx))
		if requestErr != nil {
			return &ProviderError{Provider: w.config.Provider, Type: "transport", Err: requestErr}
		}
		if response.StatusCode >= 400 {
			return &ProviderError{
				Provider:   w.config.Provider,
				Type:       "http_error",
				StatusCode: response.StatusCode,
				Err:        fmt.Errorf("HTTP %d", response.StatusCode),
			}
		}
		return nil
	}

	var err error
	if w.config.CircuitBreaker != nil {
		err = w.config.CircuitBreaker.Call(req.Context(), execute)
		if errors.Is(err, circuit.ErrOpen) {
			err = &ProviderError{Provider: w.config.Provider, Type: "circuit", Err: err}
		}
	} else {
		err = execute(req.Context())
	}
	if err != nil {
		return nil, err
	}

	if w.config.Cache != nil && req.Method == http.MethodGet && response.StatusCode == http.StatusOK {
		body, readErr := io.ReadAll(response.Body)
		response.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		response.Body = io.NopCloser(bytes.NewReader(body))
		w.config.Cache.Set(req.Context(), w.cacheKey(req), body, w.config.ProviderConfig.CacheTTL())
	}

	return response, nil
}

func (w *Wrapper) cacheKey(req *http.Request) string {
	return fmt.Sprintf("%s:%s:%s", w.config.Provider, req.Method, req.URL.String())
}

func (w *Wrapper) cachedResponse(req *http.Request, data []byte) *http.Response {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       &cachedBody{data: data},
		Request:    req,
	}
}

type cachedBody struct {
	data []byte
	pos  int
}

func (c *cachedBody) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.pos:])
	c.pos += n
	return n, nil
}

func (c *cachedBody) Close() error { return nil }

// ProviderError carries the middleware stage that rejected a request.
type ProviderError struct {
	Provider   string `json:"provider"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s error (HTTP %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s error: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether the rejection came from the rate limiter.
func (e *ProviderError) IsRateLimited() bool { return e.Type == "rate_limit" }

// IsBudgetExhausted reports whether the rejection came from the budget tracker.
func (e *ProviderError) IsBudgetExhausted() bool { return e.Type == "budget" }

// IsCircuitOpen reports whether the rejection came from an open circuit breaker.
func (e *ProviderError) IsCircuitOpen() bool { return e.Type == "circuit" }

// Manager builds and holds one wrapped *http.Client per provider.
type Manager struct {
	clients      map[string]*http.Client
	rateLimitMgr *ratelimit.Manager
	circuitMgr   *circuit.Manager
	budgetMgr    *budget.Manager
	cache        Cache
}

// NewManager creates a client manager sharing the given rate limit, circuit
// and budget managers across every provider it builds.
func NewManager(rateLimitMgr *ratelimit.Manager, circuitMgr *circuit.Manager, budgetMgr *budget.Manager, cache Cache) *Manager {
	return &Manager{
		clients:      make(map[string]*http.Client),
		rateLimitMgr: rateLimitMgr,
		circuitMgr:   circuitMgr,
		budgetMgr:    budgetMgr,
		cache:        cache,
	}
}

// AddProvider builds and registers a wrapped client for provider name.
func (m *Manager) AddProvider(name string, providerConfig *config.ProviderConfig) {
	rateLimiter, _ := m.rateLimitMgr.GetLimiter(name)
	circuitBreaker, _ := m.circuitMgr.GetBreaker(name)
	budgetTracker, _ := m.budgetMgr.GetTracker(name)

	wrapper := NewWrapper(WrapperConfig{
		Provider:       name,
		ProviderConfig: providerConfig,
		RateLimiter:    rateLimiter,
		CircuitBreaker: circuitBreaker,
		BudgetTracker:  budgetTracker,
		Cache:          m.cache,
	}, http.DefaultTransport)

	m.clients[name] = &http.Client{
		Transport: wrapper,
		Timeout:   providerConfig.RequestTimeout(),
	}
}

// GetClient returns the wrapped client registered for provider, if any.
func (m *Manager) GetClient(provider string) (*http.Client, bool) {
	c, ok := m.clients[provider]
	return c, ok
}

// HealthSummary buckets providers by health for the CLI health subcommand.
type HealthSummary struct {
	Healthy   []string `json:"healthy"`
	Unhealthy []string `json:"unhealthy"`
	Warnings  []string `json:"warnings"`
	Total     int      `json:"total"`
}

// HealthSummary classifies every provider with circuit or budget state
// registered against this manager.
func (m *Manager) HealthSummary() HealthSummary {
	circuitStats := m.circuitMgr.Stats()
	budgetStats := m.budgetMgr.Stats()

	all := make(map[string]bool)
	for p := range circuitStats {
		all[p] = true
	}
	for p := range budgetStats {
		all[p] = true
	}

	var healthy, unhealthy, warnings []string
	for p := range all {
		cs := circuitStats[p]
		bs := budgetStats[p]
		switch {
		case bs.IsExhausted || !cs.IsHealthy():
			unhealthy = append(unhealthy, p)
		case bs.IsWarning:
			warnings = append(warnings, p)
		default:
			healthy = append(healthy, p)
		}
	}

	return HealthSummary{Healthy: healthy, Unhealthy: unhealthy, Warnings: warnings, Total: len(all)}
}
