// Package provider implements the adapter families that fetch raw ETF
// holdings tables from issuer sites: file-drop, direct HTTP download, and
// headless-browser automation, unified behind one Adapter interface so
// the holdings cache can try them interchangeably.
package provider

import (
	"context"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
)

// Adapter fetches holdings for one ISIN from a specific issuer source.
type Adapter interface {
	Name() string
	FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error)
}

// Registry dispatches an ISIN to its adapters: file-drop first, then the
// adapter pinned to that ISIN, if any, then the fallback adapters in
// registration order, skipping any that errors. There is no dispatch by
// issuer prefix. It satisfies cache.AdapterRegistry structurally.
type Registry struct {
	fileDrop *FileDropAdapter
	byISIN   map[string]Adapter // explicit ISIN -> adapter override
	fallback []Adapter          // tried in order after file-drop misses
}

// NewRegistry builds a Registry. fileDrop may be nil to disable tier-3a.
func NewRegistry(fileDrop *FileDropAdapter, fallback ...Adapter) *Registry {
	return &Registry{
		fileDrop: fileDrop,
		byISIN:   make(map[string]Adapter),
		fallback: fallback,
	}
}

// RegisterISIN pins a specific ISIN to a specific adapter, bypassing the
// fallback chain (used when an issuer's product ID is already known).
func (r *Registry) RegisterISIN(isin string, a Adapter) {
	r.byISIN[isin] = a
}

// FetchHoldings implements cache.AdapterRegistry.
func (r *Registry) FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error) {
	if r.fileDrop != nil {
		if holdings, ok, err := r.fileDrop.FetchHoldings(ctx, isin); ok || err != nil {
			return holdings, ok, err
		}
	}

	if a, ok := r.byISIN[isin]; ok {
		return a.FetchHoldings(ctx, isin)
	}

	for _, a := range r.fallback {
		holdings, ok, err := a.FetchHoldings(ctx, isin)
		if err != nil {
			continue
		}
		if ok {
			return holdings, true, nil
		}
	}

	return cache.RawHoldings{}, false, nil
}
