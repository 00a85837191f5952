package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAliasIndexMissingFileIsEmpty(t *testing.T) {
	u, err := LoadAliasIndex(filepath.Join(t.TempDir(), "missing.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, u.Len())
}

func TestLoadAliasIndexBuildsTickerAndAliasIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset_universe.csv")
	writeCSV(t, path, "ISIN,TR_Ticker,Yahoo_Ticker,Name,Aliases,Provider,Asset_Class,Source,Added_Date,Last_Verified\n"+
		"US0378331005,,AAPL,Apple Inc,APPLE|AAPL INC,,Stock,manual,2024-01-01,\n")

	u, err := LoadAliasIndex(path)
	require.NoError(t, err)

	isin, ok := u.LookupByTicker("AAPL")
	require.True(t, ok)
	assert.Equal(t, "US0378331005", isin)

	isin, ok = u.LookupByAlias("apple")
	require.True(t, ok)
	assert.Equal(t, "US0378331005", isin)
}

func TestLoadAliasIndexDedupesDuplicateISINs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset_universe.csv")
	writeCSV(t, path, "ISIN,TR_Ticker,Yahoo_Ticker,Name,Aliases,Provider,Asset_Class,Source,Added_Date,Last_Verified\n"+
		"US0378331005,,AAPL,Apple Inc,,,Stock,manual,2024-01-01,\n"+
		"US0378331005,,AAPL2,Apple Inc Dup,,,Stock,manual,2024-01-02,\n")

	u, err := LoadAliasIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Len())

	_, ok := u.LookupByTicker("AAPL2")
	assert.False(t, ok)
}

func TestLoadAliasIndexSkipsInvalidISIN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset_universe.csv")
	writeCSV(t, path, "ISIN,TR_Ticker,Yahoo_Ticker,Name,Aliases,Provider,Asset_Class,Source,Added_Date,Last_Verified\n"+
		"NOTVALID,,XXX,Bad Row,,,Stock,manual,2024-01-01,\n")

	u, err := LoadAliasIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Len())
}

func TestAddEntryPersistsAndDedupes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset_universe.csv")
	u := &AssetUniverse{path: path, tickerIndex: map[string]string{}, aliasIndex: map[string]string{}}

	ok := u.AddEntry("US0378331005", "AAPL", "Apple Inc", "api_wikidata")
	assert.True(t, ok)
	assert.Equal(t, 1, u.Len())

	ok = u.AddEntry("US0378331005", "AAPL", "Apple Inc", "api_wikidata")
	assert.False(t, ok, "duplicate ISIN should be rejected")

	reloaded, err := LoadAliasIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	isin, ok := reloaded.LookupByTicker("AAPL")
	require.True(t, ok)
	assert.Equal(t, "US0378331005", isin)
}

func TestAddEntryRejectsInvalidISIN(t *testing.T) {
	dir := t.TempDir()
	u := &AssetUniverse{path: filepath.Join(dir, "u.csv"), tickerIndex: map[string]string{}, aliasIndex: map[string]string{}}
	assert.False(t, u.AddEntry("NOTVALID", "X", "X Corp", "manual"))
}
