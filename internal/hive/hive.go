// Package hive implements the client for the Hive, the remote
// community-shared asset identity service: ticker/alias resolution,
// batched metadata lookup, best-effort fire-and-forget contribution, and the
// startup background sync of the {assets, listings, aliases} domain.
// All Hive traffic goes through the shared netutil/client transport so it
// gets the same cache/budget/rate-limit/circuit treatment as every other
// external provider.
package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/isin"
)

// contributionQueueDepth bounds the fire-and-forget contribution channel.
// Overflow silently drops the oldest pending contribution; the remote
// service is authoritative and local contributions are opportunistic.
const contributionQueueDepth = 256

// Metadata is the enrichment record a Hive lookup returns for one ISIN.
type Metadata struct {
	Sector     string
	Geography  string
	AssetClass string
}

// SyncMetadata tracks when each of the three synced tables was last pulled,
// persisted alongside the local alias index so staleness survives restarts.
type SyncMetadata struct {
	AssetsSyncedAt   time.Time `json:"assets_synced_at"`
	ListingsSyncedAt time.Time `json:"listings_synced_at"`
	AliasesSyncedAt  time.Time `json:"aliases_synced_at"`
}

// staleAfter is how old a synced table may get before a background refresh
// is triggered on construction.
const staleAfter = 24 * time.Hour

func (s SyncMetadata) stale(table string) bool {
	var t time.Time
	switch table {
	case "assets":
		t = s.AssetsSyncedAt
	case "listings":
		t = s.ListingsSyncedAt
	case "aliases":
		t = s.AliasesSyncedAt
	}
	return t.IsZero() || time.Since(t) > staleAfter
}

// Universe is the subset of resolver.AssetUniverse the bulk-sync path needs:
// an upsert sink for (isin, ticker, name, source) rows pulled from the Hive.
type Universe interface {
	AddEntry(isinVal, ticker, name, source string) bool
}

type contribution struct {
	isin, ticker, name string
}

// Client implements resolver.HiveClient and enrich.HiveSource against
// the Hive HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string

	contributions chan contribution
	workers       sync.WaitGroup

	universe Universe
	syncMu   sync.Mutex
	sync     SyncMetadata
}

// New builds a Hive client. httpClient should already be wrapped with the
// cache/budget/rate-limit/circuit middleware stack shared by every external
// provider. universe may be nil to disable background sync (e.g. in tests).
func New(httpClient *http.Client, baseURL, token string, universe Universe, sync SyncMetadata) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:          httpClient,
		baseURL:       baseURL,
		token:         token,
		contributions: make(chan contribution, contributionQueueDepth),
		universe:      universe,
		sync:          sync,
	}
	c.workers.Add(1)
	go c.contributionWorker()

	for _, table := range []string{"assets", "listings", "aliases"} {
		if sync.stale(table) {
			go c.backgroundSync(table)
		}
	}
	return c
}

// ResolveTicker implements resolver.HiveClient step 7.
func (c *Client) ResolveTicker(ctx context.Context, ticker, exchange string) (string, bool, error) {
	if c.baseURL == "" || ticker == "" {
		return "", false, nil
	}
	q := url.Values{"ticker": {ticker}}
	if exchange != "" {
		q.Set("exchange", exchange)
	}

	var body struct {
		ISIN string `json:"isin"`
	}
	if err := c.getJSON(ctx, "/resolve/ticker?"+q.Encode(), &body); err != nil {
		return "", false, err
	}
	candidate := isin.Normalize(body.ISIN)
	return candidate, isin.Valid(candidate), nil
}

// LookupByAlias implements resolver.HiveClient step 8.
func (c *Client) LookupByAlias(ctx context.Context, name string) (string, bool, error) {
	if c.baseURL == "" || name == "" {
		return "", false, nil
	}
	var body struct {
		ISIN string `json:"isin"`
	}
	if err := c.getJSON(ctx, "/resolve/alias?"+url.Values{"name": {name}}.Encode(), &body); err != nil {
		return "", false, err
	}
	candidate := isin.Normalize(body.ISIN)
	return candidate, isin.Valid(candidate), nil
}

// Contribute enqueues a best-effort write; it never blocks the caller and
// never surfaces a delivery failure.
func (c *Client) Contribute(ctx context.Context, isinVal, ticker, name string) {
	select {
	case c.contributions <- contribution{isin: isinVal, ticker: ticker, name: name}:
	default:
		log.Debug().Str("isin", isinVal).Msg("hive contribution queue full, dropping oldest-pending entry")
		select {
		case <-c.contributions:
		default:
		}
		select {
		case c.contributions <- contribution{isin: isinVal, ticker: ticker, name: name}:
		default:
		}
	}
}

// BatchMetadata looks up enrichment metadata for a set of ISINs in one
// round trip, implementing enrich.HiveSource's remote tier.
func (c *Client) BatchMetadata(ctx context.Context, isins []string) (map[string]Metadata, error) {
	if c.baseURL == "" || len(isins) == 0 {
		return map[string]Metadata{}, nil
	}

	payload, err := json.Marshal(map[string][]string{"isins": isins})
	if err != nil {
		return nil, fmt.Errorf("marshal batch metadata request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metadata/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hive batch metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("hive rate limited: %w", &RateLimitedError{})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hive batch metadata: unexpected status %d", resp.StatusCode)
	}

	var out map[string]Metadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode batch metadata: %w", err)
	}
	return out, nil
}

// ContributeMetadata is the enrichment side's best-effort contribution,
// sharing the same fire-and-forget queue semantics as
// resolver contributions conceptually, but metadata payloads are posted
// synchronously in a detached goroutine since they carry more than a
// 3-field tuple.
func (c *Client) ContributeMetadata(isinVal string, m Metadata) {
	go func() {
		payload, err := json.Marshal(map[string]any{"isin": isinVal, "metadata": m})
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metadata/contribute", bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuth(req)
		resp, err := c.http.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("isin", isinVal).Msg("hive metadata contribution failed")
			return
		}
		resp.Body.Close()
	}()
}

func (c *Client) contributionWorker() {
	defer c.workers.Done()
	for contrib := range c.contributions {
		c.postContribution(contrib)
	}
}

func (c *Client) postContribution(contrib contribution) {
	payload, err := json.Marshal(map[string]string{
		"isin": contrib.isin, "ticker": contrib.ticker, "name": contrib.name,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contribute", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("isin", contrib.isin).Msg("hive contribution delivery failed")
		return
	}
	resp.Body.Close()
}

// backgroundSync pulls one table's full domain and bulk-upserts it into the
// local asset universe. Spawned once at construction for each stale table;
// the pipeline never waits on it.
func (c *Client) backgroundSync(table string) {
	if c.universe == nil || c.baseURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var rows []struct {
		ISIN, Ticker, Name, Source string
	}
	if err := c.getJSON(ctx, "/sync/"+table, &rows); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("hive background sync failed")
		return
	}

	added := 0
	for _, r := range rows {
		if c.universe.AddEntry(r.ISIN, r.Ticker, r.Name, "hive_sync") {
			added++
		}
	}

	c.syncMu.Lock()
	now := time.Now()
	switch table {
	case "assets":
		c.sync.AssetsSyncedAt = now
	case "listings":
		c.sync.ListingsSyncedAt = now
	case "aliases":
		c.sync.AliasesSyncedAt = now
	}
	c.syncMu.Unlock()

	log.Info().Str("table", table).Int("rows", len(rows)).Int("added", added).Msg("hive background sync complete")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hive request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hive: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// RateLimitedError signals an upstream 429-equivalent: the caller records
// the issue and continues without retrying inside the run.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string { return "hive: rate limited" }

// Close drains and stops the contribution worker. Safe to call once, after
// the pipeline run that constructed this client completes.
func (c *Client) Close() {
	close(c.contributions)
	c.workers.Wait()
}
