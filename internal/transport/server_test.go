package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/metrics"
	"github.com/skeptomenos/portfolio-prism/internal/provider"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cacheCfg := config.CacheConfig{
		FreshnessWindowDays: 7,
		LocalDir:            t.TempDir(),
		CommunityDir:        t.TempDir(),
		ManualUploadDir:     t.TempDir(),
	}
	c, err := cache.New(cacheCfg, true)
	require.NoError(t, err)

	universe, err := resolver.LoadAliasIndex("")
	require.NoError(t, err)
	res := resolver.New(resolver.Config{}, universe, resolver.ManualOverrides{}, nil, nil,
		resolver.NoopHiveClient{}, nil, nil, nil)

	deps := Dependencies{
		Config:   config.Default(),
		Resolver: res,
		Cache:    c,
		Adapters: provider.NewRegistry(provider.NewFileDropAdapter(t.TempDir())),
		Metrics:  metrics.New(),
		Version:  "test",
	}
	return NewServer(deps)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), Command{ID: "1", Command: "does_not_exist"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "1", resp.ID)
}

func TestDispatch_GetHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), Command{ID: "2", Command: "get_health"})
	assert.Equal(t, "success", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestServeStdio_BannerAndRoundtrip(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"id":"3","command":"get_health"}` + "\n")
	var out bytes.Buffer

	err := s.ServeStdio(context.Background(), in, &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var banner map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &banner))
	assert.Equal(t, "ready", banner["status"])

	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Equal(t, "3", resp.ID)
	assert.Equal(t, "success", resp.Status)
}

func TestServeStdio_MalformedLine(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString("not json\n")
	var out bytes.Buffer

	err := s.ServeStdio(context.Background(), in, &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan()) // banner
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
}

func TestHandleCommandHTTP(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{"command":"get_health"}`)
	req := httptest.NewRequest(http.MethodPost, "/command", body)
	w := httptest.NewRecorder()

	s.handleCommandHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.ID, "a missing envelope id should be assigned one")
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	t.Setenv("PRISM_BRIDGE_TOKEN", "secret")
	s := newTestServer(t)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := s.authMiddleware(next)

	req := httptest.NewRequest(http.MethodPost, "/command", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	t.Setenv("PRISM_BRIDGE_TOKEN", "secret")
	s := newTestServer(t)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := s.authMiddleware(next)

	req := httptest.NewRequest(http.MethodPost, "/command", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, called)
}
