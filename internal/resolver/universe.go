package resolver

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/isin"
)

// universeColumns are the canonical asset_universe.csv columns, in write order.
var universeColumns = []string{
	"ISIN", "TR_Ticker", "Yahoo_Ticker", "Name", "Aliases",
	"Provider", "Asset_Class", "Source", "Added_Date", "Last_Verified",
}

// universeRow is one row of the asset universe table.
type universeRow struct {
	ISIN         string
	TRTicker     string
	YahooTicker  string
	Name         string
	Aliases      string
	Provider     string
	AssetClass   string
	Source       string
	AddedDate    string
	LastVerified string
}

func (r universeRow) toRecord() []string {
	return []string{r.ISIN, r.TRTicker, r.YahooTicker, r.Name, r.Aliases, r.Provider, r.AssetClass, r.Source, r.AddedDate, r.LastVerified}
}

// AssetUniverse is the local ticker/alias index backing resolver priority
// steps 3 and 4. It is loaded once from a CSV file and grown monotonically
// as the resolver resolves new ISINs over the life of the process.
type AssetUniverse struct {
	mu          sync.Mutex
	path        string
	rows        []universeRow
	tickerIndex map[string]string // ticker -> ISIN
	aliasIndex  map[string]string // alias -> ISIN
}

// LoadAliasIndex loads an asset universe CSV, building the ticker and alias
// indexes. Duplicate ISIN rows are logged and only the first occurrence is
// kept. A missing file yields an empty, writable universe rather than an
// error; the universe grows from nothing on a fresh install.
func LoadAliasIndex(path string) (*AssetUniverse, error) {
	u := &AssetUniverse{
		path:        path,
		tickerIndex: make(map[string]string),
		aliasIndex:  make(map[string]string),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("asset universe not found, starting empty")
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open asset universe: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err == io.EOF {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read asset universe header: %w", err)
	}
	colIdx := indexHeader(header)

	seenISINs := make(map[string]bool)
	var dupes []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read asset universe row: %w", err)
		}
		row := parseUniverseRow(record, colIdx)
		if row.ISIN == "" || !isin.Valid(row.ISIN) {
			continue
		}
		if seenISINs[row.ISIN] {
			dupes = append(dupes, row.ISIN)
			continue
		}
		seenISINs[row.ISIN] = true
		u.rows = append(u.rows, row)

		if row.YahooTicker != "" {
			u.tickerIndex[strings.ToUpper(row.YahooTicker)] = row.ISIN
		}
		if row.TRTicker != "" {
			u.tickerIndex[strings.ToUpper(row.TRTicker)] = row.ISIN
		}
		for _, alias := range strings.Split(row.Aliases, "|") {
			alias = strings.ToUpper(strings.TrimSpace(alias))
			if alias != "" {
				u.aliasIndex[alias] = row.ISIN
			}
		}
	}

	if len(dupes) > 0 {
		log.Warn().Strs("isins", dupes).Msg("duplicate ISINs in asset universe, keeping first occurrence")
	}
	log.Info().Int("entries", len(u.rows)).Int("tickers", len(u.tickerIndex)).
		Int("aliases", len(u.aliasIndex)).Msg("loaded asset universe")

	return u, nil
}

func indexHeader(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	return idx
}

func parseUniverseRow(record []string, colIdx map[string]int) universeRow {
	get := func(col string) string {
		if i, ok := colIdx[col]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	return universeRow{
		ISIN:         get("ISIN"),
		TRTicker:     get("TR_Ticker"),
		YahooTicker:  get("Yahoo_Ticker"),
		Name:         get("Name"),
		Aliases:      get("Aliases"),
		Provider:     get("Provider"),
		AssetClass:   get("Asset_Class"),
		Source:       get("Source"),
		AddedDate:    get("Added_Date"),
		LastVerified: get("Last_Verified"),
	}
}

// LookupByTicker returns the ISIN mapped to ticker, if any.
func (u *AssetUniverse) LookupByTicker(ticker string) (string, bool) {
	if ticker == "" {
		return "", false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.tickerIndex[strings.ToUpper(strings.TrimSpace(ticker))]
	return v, ok
}

// LookupByAlias returns the ISIN mapped to a name alias, if any.
func (u *AssetUniverse) LookupByAlias(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.aliasIndex[strings.ToUpper(strings.TrimSpace(name))]
	return v, ok
}

// AddEntry appends a newly-resolved (isin, ticker, name) triple to the
// in-memory universe and persists it to the CSV file, deduplicating against
// existing ISINs. Safe for concurrent callers.
func (u *AssetUniverse) AddEntry(isinVal, ticker, name, source string) bool {
	if !isin.Valid(isinVal) {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, r := range u.rows {
		if r.ISIN == isinVal {
			return false
		}
	}

	row := universeRow{
		ISIN:        isinVal,
		YahooTicker: ticker,
		Name:        name,
		Source:      source,
		AssetClass:  "Stock",
		AddedDate:   time.Now().UTC().Format("2006-01-02"),
	}
	u.rows = append(u.rows, row)
	if ticker != "" {
		u.tickerIndex[strings.ToUpper(ticker)] = isinVal
	}

	if err := u.persist(); err != nil {
		log.Error().Err(err).Str("isin", isinVal).Msg("failed to persist asset universe")
		return false
	}
	log.Info().Str("isin", isinVal).Str("ticker", ticker).Msg("added to asset universe")
	return true
}

// persist rewrites the whole CSV file. Must be called with u.mu held.
func (u *AssetUniverse) persist() error {
	if u.path == "" {
		return nil
	}
	f, err := os.Create(u.path)
	if err != nil {
		return fmt.Errorf("create asset universe: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(universeColumns); err != nil {
		return err
	}
	for _, r := range u.rows {
		if err := w.Write(r.toRecord()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Len returns the number of entries currently in the universe.
func (u *AssetUniverse) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.rows)
}

// Entry is one asset universe row's public identity fields, for mirroring
// into an external store without exposing the CSV-specific row shape.
type Entry struct {
	ISIN     string
	Ticker   string
	Name     string
	Source   string
}

// Entries returns a snapshot of every row currently in the universe.
func (u *AssetUniverse) Entries() []Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Entry, len(u.rows))
	for i, r := range u.rows {
		ticker := r.TRTicker
		if ticker == "" {
			ticker = r.YahooTicker
		}
		out[i] = Entry{ISIN: r.ISIN, Ticker: ticker, Name: r.Name, Source: r.Source}
	}
	return out
}
