package enrich

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/hive"
)

// FileCache is the legacy per-ISIN metadata cache persisted at
// working/cache/enrichment_cache.json, consulted first in the Enrich
// phase's local -> Hive -> API cascade. A single flat JSON map written
// through an atomic rename; enrichment records carry no freshness
// window of their own (metadata doesn't go stale the way a holdings
// snapshot does).
type FileCache struct {
	path string

	mu      sync.RWMutex
	entries map[string]hive.Metadata
}

// NewFileCache loads path if it exists, or starts empty.
func NewFileCache(path string) *FileCache {
	c := &FileCache{path: path, entries: map[string]hive.Metadata{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("discarding unreadable enrichment cache")
		c.entries = map[string]hive.Metadata{}
	}
	return c
}

// BatchGet returns every cached entry among isins.
func (c *FileCache) BatchGet(isins []string) map[string]hive.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make(map[string]hive.Metadata, len(isins))
	for _, i := range isins {
		if m, ok := c.entries[i]; ok {
			hits[i] = m
		}
	}
	return hits
}

// Put records a newly-enriched ISIN and persists the whole cache.
func (c *FileCache) Put(isinVal string, m hive.Metadata) {
	c.mu.Lock()
	c.entries[isinVal] = m
	snapshot := make(map[string]hive.Metadata, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if c.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create enrichment cache directory")
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to write enrichment cache")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warn().Err(err).Msg("failed to commit enrichment cache")
	}
}

// Len reports the number of cached entries, used by the health/dashboard
// reports to surface cache size.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
