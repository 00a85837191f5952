package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/loader"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/persistence"
	"github.com/skeptomenos/portfolio-prism/internal/pipeline"
	"github.com/skeptomenos/portfolio-prism/internal/report"
)

type positionsPayload struct {
	PositionsPath string `json:"positions_path"`
	PortfolioID   string `json:"portfolio_id"`
}

type runPipelinePayload struct {
	PositionsPath string `json:"positions_path"`
	PortfolioID   string `json:"portfolio_id"`
	OutDir        string `json:"out_dir"`
}

type uploadHoldingsPayload struct {
	ISIN string `json:"isin"`
	// Format is csv, xlsx, or xls; empty means csv. Content carries the
	// file body: plain text for csv, base64 for the binary formats. CSV is
	// the older field name, kept so existing shells don't break.
	Format  string `json:"format"`
	Content string `json:"content"`
	CSV     string `json:"csv"`
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// handleGetHealth reports resolver cascade and holdings cache state since
// process start, plus the most recent run's data quality score.
func (s *Server) handleGetHealth(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	lastResult := s.lastResult
	s.mu.Unlock()

	out := map[string]interface{}{
		"resolver": s.deps.Resolver.StatsSnapshot(),
		"cache":    s.deps.Cache.Stats(),
	}
	if lastResult != nil {
		out["last_run_quality_score"] = lastResult.Quality.Score()
		out["last_run_trustworthy"] = lastResult.Quality.IsTrustworthy()
	}
	return out, nil
}

// handleGetPositions loads and returns the position list from the
// configured CSV source without running the rest of the pipeline.
func (s *Server) handleGetPositions(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var p positionsPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.PositionsPath == "" {
		return nil, fmt.Errorf("positions_path is required")
	}
	src := loader.NewCSVPositionSource(p.PositionsPath)
	result, err := loader.Load(ctx, src, p.PortfolioID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastPos = append(append([]model.Position{}, result.Direct...), result.ETFs...)
	s.mu.Unlock()
	return map[string]interface{}{
		"direct": result.Direct,
		"etfs":   result.ETFs,
		"issues": result.Issues,
	}, nil
}

// handleSyncPortfolio reloads positions from the configured source.
// Talking to an external brokerage API is not this engine's job; that
// lives in the separate Trade Republic sync daemon, and this engine only
// consumes a normalized PositionSource from it.
func (s *Server) handleSyncPortfolio(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	data, err := s.handleGetPositions(ctx, payload)
	if err != nil {
		return nil, err
	}
	m := data.(map[string]interface{})
	direct := m["direct"].([]model.Position)
	etfs := m["etfs"].([]model.Position)
	return map[string]interface{}{
		"synced":       true,
		"direct_count": len(direct),
		"etf_count":    len(etfs),
	}, nil
}

// handleRunPipeline executes one full Load->Decompose->Enrich->Aggregate
// run, broadcasting each phase transition as an SSE progress event and a
// final pipeline_summary event.
func (s *Server) handleRunPipeline(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var p runPipelinePayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.PositionsPath == "" {
		return nil, fmt.Errorf("positions_path is required")
	}
	portfolioID := p.PortfolioID
	if portfolioID == "" {
		portfolioID = "default"
	}
	outDir := p.OutDir
	if outDir == "" {
		outDir = "out"
	}

	cfg := pipeline.Config{
		Positions:                   loader.NewCSVPositionSource(p.PositionsPath),
		Holdings:                    s.deps.Cache,
		Adapters:                    s.deps.Adapters,
		Resolver:                    s.deps.Resolver,
		Enrich:                      s.deps.Enrich,
		PortfolioID:                 portfolioID,
		ReportingCurrency:           s.deps.Config.ReportingCurrency,
		ModerateResolutionThreshold: 0.80,
		AggregationTolerance:        0.01,
		OutputDir:                   outDir,
		Metrics:                     s.deps.Metrics,
		Quiet:                       true,
	}

	startedAt := time.Now()
	res := pipeline.Run(ctx, cfg, func(ev pipeline.ProgressEvent) {
		s.broadcastSSE(SSEEvent{
			Type: "progress", Progress: ev.Fraction * 100, Message: ev.Message, Phase: ev.Phase,
		})
	})
	s.recordRunHistory(portfolioID, outDir, startedAt, res)

	s.mu.Lock()
	s.lastResult = &res
	if data, err := os.ReadFile(filepath.Join(outDir, "pipeline_health.json")); err == nil {
		var health report.Health
		if json.Unmarshal(data, &health) == nil {
			s.lastHealth = &health
		}
	}
	s.mu.Unlock()

	summary := map[string]interface{}{
		"success":         res.Success,
		"etfs_processed":  res.ETFsProcessed,
		"etfs_failed":     res.ETFsFailed,
		"total_value":     res.TotalValue,
		"quality_score":   res.Quality.Score(),
		"exposure_count":  len(res.Exposures),
	}
	s.broadcastSSE(SSEEvent{Type: "pipeline_summary", Data: summary})
	return summary, nil
}

// recordRunHistory writes a PipelineRun record to Postgres when persistence
// is enabled, mirroring cmd/prism's run subcommand so history is consistent
// regardless of which entry point drove the run. Best-effort and silent on
// failure.
func (s *Server) recordRunHistory(portfolioID, outDir string, startedAt time.Time, res pipeline.Result) {
	if s.deps.Persistence == nil || !s.deps.Persistence.IsEnabled() {
		return
	}
	errs := make(map[string]interface{}, len(res.Errors))
	for i, e := range res.Errors {
		errs[fmt.Sprintf("%d", i)] = map[string]string{"phase": e.Phase, "type": e.ErrorType, "message": e.Message}
	}
	run := persistence.PipelineRun{
		PortfolioID: portfolioID, StartedAt: startedAt, CompletedAt: time.Now(),
		Success: res.Success, ETFsProcessed: res.ETFsProcessed, ETFsFailed: res.ETFsFailed,
		TotalValue: res.TotalValue, QualityScore: res.Quality.Score(), ReportDir: outDir, Errors: errs,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.deps.Persistence.Repository().Runs.Insert(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record run history")
	}
}

// handleUploadHoldings saves a user-supplied holdings file (csv, xlsx, or
// xls) into the manual upload tier, resolving a pending
// ManualUploadRequired for that ISIN.
func (s *Server) handleUploadHoldings(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var p uploadHoldingsPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	content := p.Content
	if content == "" {
		content = p.CSV
	}
	if p.ISIN == "" || content == "" {
		return nil, fmt.Errorf("isin and content are required")
	}

	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = "csv"
	}
	data := []byte(content)
	if format == "xlsx" || format == "xls" {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode %s content: expected base64: %w", format, err)
		}
		data = decoded
	}

	if err := s.deps.Cache.SaveManualUpload(p.ISIN, format, data); err != nil {
		return nil, fmt.Errorf("save manual upload: %w", err)
	}
	return map[string]interface{}{"isin": p.ISIN, "format": format, "saved": true}, nil
}

// handleGetTrueHoldings returns the most recent run's aggregated exposure
// table.
func (s *Server) handleGetTrueHoldings(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return nil, fmt.Errorf("no pipeline run available yet; call run_pipeline first")
	}
	return s.lastResult.Exposures, nil
}

// handleGetOverlapAnalysis returns the subset of the aggregated exposure
// table that mixes direct and indirect (ETF-sourced) exposure to the same
// holding.
func (s *Server) handleGetOverlapAnalysis(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return nil, fmt.Errorf("no pipeline run available yet; call run_pipeline first")
	}
	var overlaps []interface{}
	for _, e := range s.lastResult.Exposures {
		if e.Direct > 0 && e.Indirect > 0 {
			overlaps = append(overlaps, e)
		}
	}
	return overlaps, nil
}

// handleGetDashboardData returns a compact summary of the most recent run
// for the dashboard UI's landing view.
func (s *Server) handleGetDashboardData(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return map[string]interface{}{"has_run": false}, nil
	}
	return map[string]interface{}{
		"has_run":        true,
		"success":        s.lastResult.Success,
		"total_value":    s.lastResult.TotalValue,
		"quality_score":  s.lastResult.Quality.Score(),
		"exposure_count": len(s.lastResult.Exposures),
		"etfs_processed": s.lastResult.ETFsProcessed,
		"etfs_failed":    s.lastResult.ETFsFailed,
	}, nil
}

// handleGetPipelineReport returns the most recent run's pipeline_health.json
// document.
func (s *Server) handleGetPipelineReport(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHealth == nil {
		return nil, fmt.Errorf("no pipeline run available yet; call run_pipeline first")
	}
	return s.lastHealth, nil
}
