package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Metadata records provenance for one cached ISIN's holdings snapshot.
type Metadata struct {
	Name           string   `json:"name"`
	CachedAt       string   `json:"cached_at"`
	Source         string   `json:"source"`
	HoldingsCount  int      `json:"holdings_count"`
	TotalWeight    float64  `json:"total_weight"`
	Columns        []string `json:"columns"`
	CopiedFrom     string   `json:"copied_from,omitempty"`
	CopiedAt       string   `json:"copied_at,omitempty"`
}

const metadataFile = "_metadata.json"

func loadMetadata(dir string) (map[string]Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		return map[string]Metadata{}, nil
	}
	if err != nil {
		return map[string]Metadata{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]Metadata{}, nil
	}

	out := make(map[string]Metadata, len(raw))
	for isin, msg := range raw {
		var m Metadata
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		out[isin] = m
	}
	return out, nil
}

func saveMetadata(dir string, entries map[string]Metadata) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metadataFile))
}

func isFresh(m Metadata, maxAge time.Duration) bool {
	if m.CachedAt == "" {
		return false
	}
	cachedAt, err := time.Parse(time.RFC3339, m.CachedAt)
	if err != nil {
		return false
	}
	return time.Since(cachedAt) < maxAge
}
