package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
)

// ProductRegistry maps an issuer's per-ISIN product identifiers, loaded
// from a small JSON file. Missing entries are simply skipped (no
// interactive prompt or scrape auto-discovery; this adapter is a
// server-side component, and an operator populates the registry file out
// of band).
type ProductRegistry map[string]string

// LoadProductRegistry reads a JSON {"ISIN": "product-id"} file. A missing
// file yields an empty registry.
func LoadProductRegistry(path string) (ProductRegistry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ProductRegistry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read product registry %s: %w", path, err)
	}

	var reg ProductRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse product registry %s: %w", path, err)
	}
	return reg, nil
}

// HTTPAdapter fetches holdings via a direct, well-known URL pattern,
// the cheapest strategy for issuers (iShares, Vanguard, Amundi) that
// expose a stable per-product download endpoint.
type HTTPAdapter struct {
	name         string
	urlTemplate  string // contains "{product_id}"
	registry     ProductRegistry
	client       *http.Client
}

// NewHTTPAdapter builds an HTTPAdapter for one issuer. urlTemplate must
// contain the literal placeholder "{product_id}".
func NewHTTPAdapter(name, urlTemplate string, registry ProductRegistry, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{name: name, urlTemplate: urlTemplate, registry: registry, client: client}
}

func (a *HTTPAdapter) Name() string { return a.name }

func (a *HTTPAdapter) FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error) {
	productID, ok := a.registry[isin]
	if !ok {
		log.Debug().Str("adapter", a.name).Str("isin", isin).Msg("no product id configured, skipping")
		return cache.RawHoldings{}, false, nil
	}

	url := strings.ReplaceAll(a.urlTemplate, "{product_id}", productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cache.RawHoldings{}, false, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := a.client.Do(req)
	if err != nil {
		return cache.RawHoldings{}, false, fmt.Errorf("%s: fetch holdings for %s: %w", a.name, isin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cache.RawHoldings{}, false, fmt.Errorf("%s: unexpected status %d for %s", a.name, resp.StatusCode, isin)
	}

	holdings, err := cache.ParseCSV(resp.Body)
	if err != nil {
		return cache.RawHoldings{}, false, fmt.Errorf("%s: parse holdings for %s: %w", a.name, isin, err)
	}
	return holdings, true, nil
}
