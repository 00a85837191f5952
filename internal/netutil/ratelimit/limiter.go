// Package ratelimit provides per-host token-bucket rate limiting for the
// outbound calls the resolver and hive client make to Wikidata, Finnhub,
// YFinance and the hive service itself.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits requests per host using a token bucket.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given requests-per-second and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request to host may proceed now.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Reserve reserves a token for host.
func (l *Limiter) Reserve(host string) *rate.Reservation {
	return l.getLimiter(host).Reserve()
}

// SetRPS updates the rate for every host limiter.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(rate.Limit(rps))
	}
}

// Stats returns per-host limiter statistics.
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Stats)
	now := time.Now()
	for host, limiter := range l.limiters {
		res := limiter.Reserve()
		delay := res.Delay()
		res.Cancel()
		out[host] = Stats{
			Host:          host,
			RPS:           float64(limiter.Limit()),
			Burst:         limiter.Burst(),
			Tokens:        limiter.Tokens(),
			NextAllowedAt: now.Add(delay),
			Delay:         delay,
		}
	}
	return out
}

// Reset clears all host limiters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

// Stats is a snapshot of one host's limiter state.
type Stats struct {
	Host          string        `json:"host"`
	RPS           float64       `json:"rps"`
	Burst         int           `json:"burst"`
	Tokens        float64       `json:"tokens_available"`
	NextAllowedAt time.Time     `json:"next_allowed_at"`
	Delay         time.Duration `json:"delay"`
}

// IsThrottled reports whether the host is currently being delayed.
func (s Stats) IsThrottled() bool {
	return s.Delay > 0
}

// Manager holds one Limiter per external provider (wikidata, finnhub,
// yfinance, hive).
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty provider rate-limit manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a limiter for a provider.
func (m *Manager) AddProvider(name string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(rps, burst)
}

// GetLimiter returns the limiter registered for provider, if any.
func (m *Manager) GetLimiter(provider string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[provider]
	return l, ok
}

// Allow reports whether a request for provider/host may proceed. Providers
// with no registered limiter are always allowed.
func (m *Manager) Allow(provider, host string) bool {
	l, ok := m.GetLimiter(provider)
	if !ok {
		return true
	}
	return l.Allow(host)
}

// Wait blocks until a request for provider/host is allowed.
func (m *Manager) Wait(ctx context.Context, provider, host string) error {
	l, ok := m.GetLimiter(provider)
	if !ok {
		return nil
	}
	return l.Wait(ctx, host)
}

// Stats returns a snapshot of every provider's host limiters.
func (m *Manager) Stats() map[string]map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]Stats)
	for provider, l := range m.limiters {
		out[provider] = l.Stats()
	}
	return out
}
