package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFinnhubClientParsesISIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isin": "US0378331005"}`))
	}))
	defer srv.Close()

	c := &HTTPFinnhubClient{BaseURL: srv.URL, APIKey: "key"}
	result, ok, err := c.CompanyISIN(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "US0378331005", result)
}

func TestHTTPFinnhubClientNoAPIKeySkips(t *testing.T) {
	c := &HTTPFinnhubClient{BaseURL: "http://unused.invalid"}
	_, ok, err := c.CompanyISIN(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPYFinanceClientParsesISIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{"summaryProfile":{"isin":"US0378331005"}}]}}`))
	}))
	defer srv.Close()

	c := &HTTPYFinanceClient{BaseURL: srv.URL}
	result, ok, err := c.TickerISIN(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "US0378331005", result)
}

func TestHTTPWikidataClientWalksSearchThenClaims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "wbsearchentities":
			w.Write([]byte(`{"search":[{"id":"Q312"}]}`))
		case "wbgetentities":
			w.Write([]byte(`{"entities":{"Q312":{"claims":{"P946":[{"mainsnak":{"datavalue":{"value":"US0378331005"}}}]}}}}`))
		}
	}))
	defer srv.Close()

	c := &HTTPWikidataClient{BaseURL: srv.URL}
	result, ok, err := c.SearchISIN(context.Background(), "Apple Inc", "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "US0378331005", result)
}

func TestHTTPWikidataClientEmptyNameSkips(t *testing.T) {
	c := &HTTPWikidataClient{BaseURL: "http://unused.invalid"}
	_, ok, err := c.SearchISIN(context.Background(), "", "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}
