package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileDropAdapterFindsMatchingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "IE00B4L5Y983_export.csv"), "name,weight_percentage\nApple Inc,5.0\n")

	a := NewFileDropAdapter(dir)
	holdings, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, holdings.Len())
}

func TestFileDropAdapterMissReturnsFalseNoError(t *testing.T) {
	a := NewFileDropAdapter(t.TempDir())
	_, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPAdapterFetchesConfiguredProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name,weight_percentage\nMicrosoft,4.2\n"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter("ishares", srv.URL+"/{product_id}.csv", ProductRegistry{"IE00B4L5Y983": "251882"}, nil)
	holdings, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, holdings.Len())
}

func TestHTTPAdapterMissingProductIDSkips(t *testing.T) {
	a := NewHTTPAdapter("ishares", "http://unused.invalid/{product_id}.csv", ProductRegistry{}, nil)
	_, ok, err := a.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadProductRegistryMissingFileIsEmpty(t *testing.T) {
	reg, err := LoadProductRegistry(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, reg)
}

type stubAdapter struct {
	name     string
	holdings cache.RawHoldings
	ok       bool
	err      error
}

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error) {
	return s.holdings, s.ok, s.err
}

func TestRegistryTriesFileDropBeforeFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "IE00B4L5Y983.csv"), "name\nFrom File Drop\n")

	fallback := stubAdapter{name: "http", ok: true, holdings: cache.RawHoldings{Columns: []string{"name"}, Rows: []map[string]string{{"name": "From Fallback"}}}}
	reg := NewRegistry(NewFileDropAdapter(dir), fallback)

	holdings, ok, err := reg.FetchHoldings(context.Background(), "IE00B4L5Y983")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "From File Drop", holdings.Rows[0]["name"])
}

func TestRegistryFallsThroughToNextAdapterOnMiss(t *testing.T) {
	missAdapter := stubAdapter{name: "a", ok: false}
	hitAdapter := stubAdapter{name: "b", ok: true, holdings: cache.RawHoldings{Columns: []string{"name"}, Rows: []map[string]string{{"name": "hit"}}}}
	reg := NewRegistry(nil, missAdapter, hitAdapter)

	holdings, ok, err := reg.FetchHoldings(context.Background(), "US0378331005")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hit", holdings.Rows[0]["name"])
}

func TestRegistryRespectsExplicitISINOverride(t *testing.T) {
	overrideAdapter := stubAdapter{name: "override", ok: true, holdings: cache.RawHoldings{Columns: []string{"name"}, Rows: []map[string]string{{"name": "override hit"}}}}
	fallback := stubAdapter{name: "fallback", ok: true, holdings: cache.RawHoldings{Columns: []string{"name"}, Rows: []map[string]string{{"name": "fallback hit"}}}}

	reg := NewRegistry(nil, fallback)
	reg.RegisterISIN("US0378331005", overrideAdapter)

	holdings, ok, err := reg.FetchHoldings(context.Background(), "US0378331005")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "override hit", holdings.Rows[0]["name"])
}
