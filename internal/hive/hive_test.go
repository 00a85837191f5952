package hive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUniverse struct {
	added []string
}

func (f *fakeUniverse) AddEntry(isinVal, ticker, name, source string) bool {
	f.added = append(f.added, isinVal)
	return true
}

func TestResolveTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resolve/ticker", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"isin": "US0378331005"})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "", nil, SyncMetadata{
		AssetsSyncedAt: time.Now(), ListingsSyncedAt: time.Now(), AliasesSyncedAt: time.Now(),
	})
	defer c.Close()

	got, ok, err := c.ResolveTicker(context.Background(), "AAPL", "NASDAQ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "US0378331005", got)
}

func TestResolveTickerEmptyBaseURL(t *testing.T) {
	c := New(nil, "", "", nil, SyncMetadata{})
	defer c.Close()
	got, ok, err := c.ResolveTicker(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestContributeDoesNotBlockWhenQueueFull(t *testing.T) {
	c := &Client{
		http:          http.DefaultClient,
		baseURL:       "",
		contributions: make(chan contribution, 1),
	}
	c.contributions <- contribution{isin: "X"}
	done := make(chan struct{})
	go func() {
		c.Contribute(context.Background(), "US0378331005", "AAPL", "Apple")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Contribute blocked on a full queue")
	}
}

func TestBatchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/batch", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]Metadata{
			"US0378331005": {Sector: "Technology", Geography: "North America"},
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "tok", nil, SyncMetadata{
		AssetsSyncedAt: time.Now(), ListingsSyncedAt: time.Now(), AliasesSyncedAt: time.Now(),
	})
	defer c.Close()

	out, err := c.BatchMetadata(context.Background(), []string{"US0378331005"})
	require.NoError(t, err)
	require.Contains(t, out, "US0378331005")
	assert.Equal(t, "Technology", out["US0378331005"].Sector)
}

func TestBackgroundSyncUpsertsUniverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"ISIN": "US0378331005", "Ticker": "AAPL", "Name": "Apple Inc", "Source": "hive"},
		})
	}))
	defer srv.Close()

	u := &fakeUniverse{}
	c := New(srv.Client(), srv.URL, "", u, SyncMetadata{})
	defer c.Close()

	require.Eventually(t, func() bool { return len(u.added) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestSyncMetadataStale(t *testing.T) {
	assert.True(t, (SyncMetadata{}).stale("assets"))
	fresh := SyncMetadata{AssetsSyncedAt: time.Now()}
	assert.False(t, fresh.stale("assets"))
}
