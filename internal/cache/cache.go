// Package cache implements the tiered ETF holdings cache: a fresh local
// tier, bundled community data, provider adapters, and manual upload as
// the last resort. Every tier is file-backed; writes go through an atomic
// rename so a crashed run never leaves a half-written table behind.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/config"
)

// ManualUploadRequired signals that holdings for an ISIN could not be
// resolved through any automated tier and the user must supply a file. It
// is a distinct struct type rather than a sentinel error so callers can
// carry the ISIN, attempted provider, and an optional download hint back
// to the UI layer.
type ManualUploadRequired struct {
	ISIN        string
	Provider    string
	DownloadURL string
}

func (e *ManualUploadRequired) Error() string {
	return fmt.Sprintf("no holdings data available for %s: manual upload required", e.ISIN)
}

// AdapterRegistry resolves a scraping/HTTP adapter for an ISIN. Satisfied
// structurally by internal/provider.Registry; cache never imports provider
// to avoid a dependency cycle between the two.
type AdapterRegistry interface {
	FetchHoldings(ctx context.Context, isin string) (RawHoldings, bool, error)
}

// Cache is the 3+1 tier holdings cache: local, community, adapter, manual.
type Cache struct {
	mu sync.Mutex

	localDir     string
	communityDir string
	manualDir    string
	maxAge       time.Duration
	sealed       bool

	localMeta     map[string]Metadata
	communityMeta map[string]Metadata
}

// New builds a Cache from a resolved config.CacheConfig. Sealed mode (an
// offline or containerized deployment) disables tier 3 (adapters)
// entirely; manual upload becomes the only path after tiers 1-2 miss.
func New(cfg config.CacheConfig, sealed bool) (*Cache, error) {
	maxAge := time.Duration(cfg.FreshnessWindowDays) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = time.Duration(config.DefaultFreshnessWindowDays) * 24 * time.Hour
	}

	manualDir := cfg.ManualUploadDir
	if manualDir == "" {
		manualDir = filepath.Join(filepath.Dir(cfg.LocalDir), "manual_uploads")
	}

	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local cache dir: %w", err)
	}
	if err := os.MkdirAll(manualDir, 0o755); err != nil {
		return nil, fmt.Errorf("create manual upload dir: %w", err)
	}

	localMeta, err := loadMetadata(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("load local cache metadata: %w", err)
	}
	communityMeta, err := loadMetadata(cfg.CommunityDir)
	if err != nil {
		return nil, fmt.Errorf("load community cache metadata: %w", err)
	}

	log.Info().
		Int("local_count", len(localMeta)).
		Int("community_count", len(communityMeta)).
		Bool("sealed", sealed).
		Msg("holdings cache initialized")

	return &Cache{
		localDir:      cfg.LocalDir,
		communityDir:  cfg.CommunityDir,
		manualDir:     manualDir,
		maxAge:        maxAge,
		sealed:        sealed,
		localMeta:     localMeta,
		communityMeta: communityMeta,
	}, nil
}

// GetHoldings resolves an ETF's constituent holdings via the tier cascade:
// local cache -> community data -> adapter fetch -> manual upload. Returns
// *ManualUploadRequired if every tier misses.
func (c *Cache) GetHoldings(ctx context.Context, isin string, registry AdapterRegistry, forceRefresh bool) (RawHoldings, error) {
	if !forceRefresh {
		if holdings, ok := c.fromLocal(isin); ok {
			log.Debug().Str("isin", isin).Str("tier", "local").Msg("cache hit")
			return holdings, nil
		}

		if holdings, ok := c.fromCommunity(isin); ok {
			log.Debug().Str("isin", isin).Str("tier", "community").Msg("cache hit")
			c.copyToLocal(isin, holdings)
			return holdings, nil
		}
	}

	if registry != nil && !c.sealed {
		holdings, ok, err := registry.FetchHoldings(ctx, isin)
		if err != nil {
			log.Warn().Err(err).Str("isin", isin).Msg("adapter fetch failed")
		} else if ok {
			log.Debug().Str("isin", isin).Str("tier", "adapter").Msg("cache hit")
			c.saveToLocal(isin, holdings, "adapter_fetch")
			return holdings, nil
		}
	}

	if holdings, ok := c.fromManualUpload(isin); ok {
		log.Debug().Str("isin", isin).Str("tier", "manual").Msg("cache hit")
		c.saveToLocal(isin, holdings, "manual_upload")
		return holdings, nil
	}

	return RawHoldings{}, &ManualUploadRequired{ISIN: isin, Provider: "unknown"}
}

func (c *Cache) fromLocal(isin string) (RawHoldings, bool) {
	c.mu.Lock()
	meta, ok := c.localMeta[isin]
	c.mu.Unlock()
	if !ok || !isFresh(meta, c.maxAge) {
		return RawHoldings{}, false
	}

	path := filepath.Join(c.localDir, isin+".csv")
	holdings, err := readCSV(path)
	if err != nil {
		log.Warn().Err(err).Str("isin", isin).Msg("failed to read local cache file")
		return RawHoldings{}, false
	}
	return holdings, true
}

func (c *Cache) fromCommunity(isin string) (RawHoldings, bool) {
	path := filepath.Join(c.communityDir, isin+".csv")
	if _, err := os.Stat(path); err != nil {
		return RawHoldings{}, false
	}
	holdings, err := readCSV(path)
	if err != nil {
		log.Warn().Err(err).Str("isin", isin).Msg("failed to read community cache file")
		return RawHoldings{}, false
	}
	return holdings, true
}

func (c *Cache) fromManualUpload(isin string) (RawHoldings, bool) {
	entries, err := os.ReadDir(c.manualDir)
	if err != nil {
		return RawHoldings{}, false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isManualUploadFile(name) {
			continue
		}
		if !strings.Contains(strings.ToUpper(name), strings.ToUpper(isin)) {
			continue
		}
		holdings, err := readHoldingsFile(filepath.Join(c.manualDir, name))
		if err != nil {
			log.Warn().Err(err).Str("isin", isin).Str("file", name).Msg("failed to read manual upload")
			continue
		}
		return holdings, true
	}
	return RawHoldings{}, false
}

// copyToLocal promotes a community-tier hit into the local tier, stamping
// copied_from/copied_at provenance in the local metadata record.
func (c *Cache) copyToLocal(isin string, holdings RawHoldings) {
	path := filepath.Join(c.localDir, isin+".csv")
	if err := writeCSV(path, holdings); err != nil {
		log.Warn().Err(err).Str("isin", isin).Msg("failed to copy to local cache")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta := c.communityMeta[isin]
	meta.CopiedFrom = "community"
	meta.CopiedAt = time.Now().UTC().Format(time.RFC3339)
	c.localMeta[isin] = meta

	if err := saveMetadata(c.localDir, c.localMeta); err != nil {
		log.Warn().Err(err).Msg("failed to persist local cache metadata")
	}
}

func (c *Cache) saveToLocal(isin string, holdings RawHoldings, source string) {
	path := filepath.Join(c.localDir, isin+".csv")
	if err := writeCSV(path, holdings); err != nil {
		log.Warn().Err(err).Str("isin", isin).Msg("failed to save to local cache")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.localMeta[isin] = Metadata{
		Name:          isin,
		CachedAt:      time.Now().UTC().Format(time.RFC3339),
		Source:        source,
		HoldingsCount: holdings.Len(),
		TotalWeight:   sumWeightColumn(holdings),
		Columns:       holdings.Columns,
	}

	if err := saveMetadata(c.localDir, c.localMeta); err != nil {
		log.Warn().Err(err).Msg("failed to persist local cache metadata")
	}

	log.Info().Str("isin", isin).Int("holdings_count", holdings.Len()).Str("source", source).Msg("saved to local cache")
}

func sumWeightColumn(holdings RawHoldings) float64 {
	total := 0.0
	for _, row := range holdings.Rows {
		v, ok := row["weight_percentage"]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		total += f
	}
	return total
}

// SaveManualUpload writes a user-supplied holdings file into the manual
// upload tier, keyed by ISIN. Format must be one of csv, xlsx, or xls; an
// empty format means csv. A subsequent GetHoldings for the same ISIN picks
// the file up via fromManualUpload.
func (c *Cache) SaveManualUpload(isin, format string, data []byte) error {
	ext := "." + strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if ext == "." {
		ext = ".csv"
	}
	if !isManualUploadFile(ext) {
		return fmt.Errorf("unsupported manual upload format %q (want csv, xlsx, or xls)", format)
	}
	path := filepath.Join(c.manualDir, strings.ToUpper(isin)+ext)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// HasHoldings reports whether the fresh local, community, or manual-upload
// tier has data for an ISIN, without fetching it. The adapter tier is not
// consulted.
func (c *Cache) HasHoldings(isin string) bool {
	c.mu.Lock()
	meta, ok := c.localMeta[isin]
	c.mu.Unlock()
	if ok && isFresh(meta, c.maxAge) {
		return true
	}

	if _, err := os.Stat(filepath.Join(c.communityDir, isin+".csv")); err == nil {
		return true
	}

	_, ok = c.fromManualUpload(isin)
	return ok
}

// Stats summarizes cache tier population for the health report.
type Stats struct {
	LocalCount      int
	LocalFresh      int
	LocalStale      int
	CommunityCount  int
	TotalAvailable  int
}

// Stats computes current tier population counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := 0
	for _, m := range c.localMeta {
		if isFresh(m, c.maxAge) {
			fresh++
		}
	}

	available := make(map[string]struct{})
	for isin, m := range c.localMeta {
		if isFresh(m, c.maxAge) {
			available[isin] = struct{}{}
		}
	}
	if entries, err := os.ReadDir(c.communityDir); err == nil {
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), ".csv") {
				available[strings.TrimSuffix(entry.Name(), ".csv")] = struct{}{}
			}
		}
	}

	return Stats{
		LocalCount:     len(c.localMeta),
		LocalFresh:     fresh,
		LocalStale:     len(c.localMeta) - fresh,
		CommunityCount: len(c.communityMeta),
		TotalAvailable: len(available),
	}
}
