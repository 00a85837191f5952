package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
)

// FileDropAdapter looks for a user-placed holdings export in a staging
// directory. The registry consults it before any network adapter.
type FileDropAdapter struct {
	dir string
}

// NewFileDropAdapter builds a FileDropAdapter rooted at dir.
func NewFileDropAdapter(dir string) *FileDropAdapter {
	return &FileDropAdapter{dir: dir}
}

func (a *FileDropAdapter) Name() string { return "file_drop" }

// FetchHoldings finds any CSV in the staging directory whose name contains
// the ISIN, case-insensitively.
func (a *FileDropAdapter) FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return cache.RawHoldings{}, false, nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(strings.ToUpper(entry.Name()), strings.ToUpper(isin)) {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}

		f, err := os.Open(filepath.Join(a.dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("isin", isin).Str("file", entry.Name()).Msg("file-drop adapter: failed to open")
			continue
		}
		holdings, err := cache.ParseCSV(f)
		f.Close()
		if err != nil {
			log.Warn().Err(err).Str("isin", isin).Str("file", entry.Name()).Msg("file-drop adapter: failed to parse")
			continue
		}
		return holdings, true, nil
	}

	return cache.RawHoldings{}, false, nil
}
