package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/budget"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/circuit"
	"github.com/skeptomenos/portfolio-prism/internal/netutil/ratelimit"
)

type memCache struct {
	store map[string][]byte
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := m.store[key]
	return v, ok
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.store[key] = value
}

func TestWrapperSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wrapper := NewWrapper(WrapperConfig{
		Provider:       "wikidata",
		ProviderConfig: &config.ProviderConfig{Host: "wikidata.org"},
	}, http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := wrapper.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, gotUA, "portfolio-prism")
}

func TestWrapperRejectsWhenBudgetExhausted(t *testing.T) {
	tracker := budget.NewTracker(0, 0, 0.9)
	wrapper := NewWrapper(WrapperConfig{
		Provider:       "finnhub",
		ProviderConfig: &config.ProviderConfig{Host: "finnhub.io"},
		BudgetTracker:  tracker,
	}, http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	_, err := wrapper.RoundTrip(req)
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.IsBudgetExhausted())
}

func TestWrapperOpensCircuitOnRepeatedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuit.NewBreaker(circuit.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenDuration:     time.Minute,
		RequestTimeout:   time.Second,
	})
	wrapper := NewWrapper(WrapperConfig{
		Provider:       "finnhub",
		ProviderConfig: &config.ProviderConfig{Host: "finnhub.io"},
		CircuitBreaker: breaker,
	}, http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := wrapper.RoundTrip(req)
	require.Error(t, err)

	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err = wrapper.RoundTrip(req2)
	require.ErrorIs(t, err, circuit.ErrOpen)
}

func TestManagerHealthSummaryBucketsProviders(t *testing.T) {
	rlMgr := ratelimit.NewManager()
	circMgr := circuit.NewManager()
	budMgr := budget.NewManager()

	circMgr.AddProvider("healthy", circuit.Config{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: time.Minute, RequestTimeout: time.Second})
	budMgr.AddProvider("healthy", 100, 0, 0.9)

	mgr := NewManager(rlMgr, circMgr, budMgr, nil)
	summary := mgr.HealthSummary()
	assert.Contains(t, summary.Healthy, "healthy")
	assert.Equal(t, 1, summary.Total)
}
