// Package budget tracks daily call ceilings per external provider (Finnhub,
// Wikidata, YFinance) so the resolver's API cascade degrades predictably
// instead of silently hammering a free-tier quota.
package budget

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ExhaustedError reports that a provider's daily budget is fully consumed.
type ExhaustedError struct {
	Provider string
	Used     int64
	Limit    int64
	ResetsAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d requests used, resets at %s",
		e.Provider, e.Used, e.Limit, e.ResetsAt.Format("15:04 UTC"))
}

// WarningError reports that a provider has crossed its warning threshold but
// is not yet exhausted.
type WarningError struct {
	Provider  string
	Used      int64
	Limit     int64
	Threshold float64
}

func (e *WarningError) Error() string {
	utilization := float64(e.Used) / float64(e.Limit) * 100
	return fmt.Sprintf("budget warning for %s: %.1f%% used (%d/%d), threshold %.1f%%",
		e.Provider, utilization, e.Used, e.Limit, e.Threshold*100)
}

// Tracker tracks one provider's daily call usage, resetting at a fixed UTC
// hour each day.
type Tracker struct {
	mu            sync.RWMutex
	limit         int64
	used          int64
	resetHour     int
	warnThreshold float64
	lastReset     time.Time
}

// NewTracker creates a tracker with the given daily limit, UTC reset hour
// (0-23) and warning threshold (0.0-1.0).
func NewTracker(limit int64, resetHour int, warnThreshold float64) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	return &Tracker{
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		lastReset:     lastResetTime(time.Now().UTC(), resetHour),
	}
}

func lastResetTime(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

func (t *Tracker) nextResetTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastReset.Add(24 * time.Hour)
}

func (t *Tracker) resetIfNeeded() {
	now := time.Now().UTC()
	if !now.After(t.nextResetTime()) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.lastReset.Add(24 * time.Hour)) {
		atomic.StoreInt64(&t.used, 0)
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Allow reports whether a call is still within budget without consuming it.
func (t *Tracker) Allow() error {
	t.resetIfNeeded()
	used := atomic.LoadInt64(&t.used)
	if used >= t.limit {
		return &ExhaustedError{Used: used, Limit: t.limit, ResetsAt: t.nextResetTime()}
	}
	if float64(used)/float64(t.limit) >= t.warnThreshold {
		return &WarningError{Used: used, Limit: t.limit, Threshold: t.warnThreshold}
	}
	return nil
}

// Consume increments usage by one call. It returns an ExhaustedError (and
// does not count the call) if that would exceed the daily limit, and a
// WarningError if usage is now at or past the warning threshold but still
// below the limit.
func (t *Tracker) Consume() error {
	t.resetIfNeeded()
	used := atomic.AddInt64(&t.used, 1)
	if used > t.limit {
		atomic.AddInt64(&t.used, -1)
		return &ExhaustedError{Used: used - 1, Limit: t.limit, ResetsAt: t.nextResetTime()}
	}
	if used < t.limit && float64(used)/float64(t.limit) >= t.warnThreshold {
		return &WarningError{Used: used, Limit: t.limit, Threshold: t.warnThreshold}
	}
	return nil
}

// Stats returns a snapshot of the tracker's usage.
func (t *Tracker) Stats() Stats {
	t.resetIfNeeded()
	t.mu.RLock()
	defer t.mu.RUnlock()

	used := atomic.LoadInt64(&t.used)
	utilization := float64(used) / float64(t.limit)
	return Stats{
		Limit:       t.limit,
		Used:        used,
		Remaining:   t.limit - used,
		Utilization: utilization,
		ResetHour:   t.resetHour,
		LastReset:   t.lastReset,
		NextReset:   t.lastReset.Add(24 * time.Hour),
		IsWarning:   utilization >= t.warnThreshold,
		IsExhausted: used >= t.limit,
	}
}

// Stats is a point-in-time snapshot of one provider's budget usage.
type Stats struct {
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	Utilization float64   `json:"utilization_rate"`
	ResetHour   int       `json:"reset_hour"`
	LastReset   time.Time `json:"last_reset"`
	NextReset   time.Time `json:"next_reset"`
	IsWarning   bool      `json:"is_warning"`
	IsExhausted bool      `json:"is_exhausted"`
}

// TimeToReset returns how long until the next daily reset.
func (s Stats) TimeToReset() time.Duration {
	return time.Until(s.NextReset)
}

// Manager holds one Tracker per external provider.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewManager creates an empty budget manager.
func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*Tracker)}
}

// AddProvider registers a tracker for provider.
func (m *Manager) AddProvider(name string, limit int64, resetHour int, warnThreshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[name] = NewTracker(limit, resetHour, warnThreshold)
}

// GetTracker returns the tracker registered for provider, if any.
func (m *Manager) GetTracker(provider string) (*Tracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.trackers[provider]
	return tr, ok
}

// Allow checks provider's budget without consuming it. Providers with no
// registered tracker are always allowed.
func (m *Manager) Allow(provider string) error {
	tr, ok := m.GetTracker(provider)
	if !ok {
		return nil
	}
	return tr.Allow()
}

// Consume records one call against provider's budget.
func (m *Manager) Consume(provider string) error {
	tr, ok := m.GetTracker(provider)
	if !ok {
		return nil
	}
	return tr.Consume()
}

// Stats returns a snapshot for every registered provider, keyed by name,
// this is what the health report's per-API budget section surfaces.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats)
	for provider, tr := range m.trackers {
		out[provider] = tr.Stats()
	}
	return out
}
