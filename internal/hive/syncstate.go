package hive

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LoadSyncMetadata reads the persisted per-table sync timestamps so
// staleness survives process restarts. A missing file yields a zero-value
// SyncMetadata, which New treats as every table being stale.
func LoadSyncMetadata(path string) SyncMetadata {
	data, err := os.ReadFile(path)
	if err != nil {
		return SyncMetadata{}
	}
	var s SyncMetadata
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("discarding unreadable hive sync metadata")
		return SyncMetadata{}
	}
	return s
}

// SaveSyncMetadata persists the current sync timestamps. Call after
// Close() on pipeline completion so the next process start sees accurate
// staleness.
func SaveSyncMetadata(path string, s SyncMetadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SyncMetadataSnapshot returns the client's current per-table sync
// timestamps, for persisting on shutdown.
func (c *Client) SyncMetadataSnapshot() SyncMetadata {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.sync
}
