// Package pipeline implements the orchestrator: the four-phase
// Load -> Decompose -> Enrich -> Aggregate run, gated by a validation check
// between every phase. An empty load or an aggregation crash is fatal;
// per-ETF decomposition failures and enrichment misses are recorded and
// the run continues.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/aggregate"
	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/decompose"
	"github.com/skeptomenos/portfolio-prism/internal/enrich"
	"github.com/skeptomenos/portfolio-prism/internal/loader"
	logprogress "github.com/skeptomenos/portfolio-prism/internal/log"
	"github.com/skeptomenos/portfolio-prism/internal/metrics"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/report"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
	"github.com/skeptomenos/portfolio-prism/internal/validate"
)

// Phase names, shared between progress events and metric labels.
const (
	PhaseSync      = "sync"
	PhaseLoading   = "loading"
	PhaseDecompose = "decomposition"
	PhaseEnrich    = "enrichment"
	PhaseAggregate = "aggregation"
	PhaseReporting = "reporting"
	PhaseComplete  = "complete"
)

// ProgressEvent is emitted at least at each phase boundary and, inside
// Decompose, after each ETF completes.
type ProgressEvent struct {
	Phase    string
	Fraction float64
	Message  string
}

// ProgressSink receives progress events as the run advances. May be nil.
type ProgressSink func(ProgressEvent)

// Config bundles every phase's collaborators and the tunables the
// validation gates need.
type Config struct {
	Positions loader.PositionSource
	Holdings  decompose.HoldingsSource
	Adapters  cache.AdapterRegistry
	Resolver  decompose.Resolver
	Enrich    enrich.Config

	PortfolioID                 string
	ReportingCurrency           string
	ModerateResolutionThreshold float64
	AggregationTolerance        float64

	// OutputDir, when non-empty, is where the three report artifacts are
	// written after every run. A fatal run still gets reports holding the
	// rows the phases before the failure produced (header-only when none
	// did) and a health report recording the fatal error. Empty disables report
	// writing, e.g. for the test/echo-bridge callers that read Result
	// directly.
	OutputDir string

	Metrics *metrics.Registry
	Quiet   bool
}

// Result is the orchestrator's output for one pipeline run.
type Result struct {
	Success        bool
	ETFsProcessed  int
	ETFsFailed     int
	TotalValue     float64
	Errors         []model.PipelineError
	Quality        model.DataQuality
	Exposures      []model.AggregatedExposure
	Decompositions []*model.ETFDecomposition
	PhaseDurations map[string]time.Duration
}

// Run executes the full pipeline, emitting progress events to sink (which
// may be nil) and returning once every phase has completed or a fatal
// condition was hit. The three report artifacts are written best-effort on
// every path out of this function.
func Run(ctx context.Context, cfg Config, sink ProgressSink) (res Result) {
	emit := func(phase string, fraction float64, message string) {
		if sink != nil {
			sink(ProgressEvent{Phase: phase, Fraction: fraction, Message: message})
		}
	}

	var stepLogger *logprogress.StepLogger
	if !cfg.Quiet {
		stepLogger = logprogress.NewStepLogger("Portfolio Prism", []string{"Load", "Decompose", "Enrich", "Aggregate"})
	}

	if cfg.Metrics != nil {
		cfg.Metrics.RunsTotal.Inc()
	}

	res.PhaseDurations = map[string]time.Duration{}
	var quality model.DataQuality
	var loadRes loader.Result
	var decompRes decompose.Result
	var enrichStats enrich.Stats
	var posMeta enrich.PositionMetadata
	var portfolioValue float64

	defer func() {
		res.Quality = quality
		writeReports(cfg, res, loadRes, decompRes, enrichStats, posMeta)
	}()

	// --- Load ---
	emit(PhaseLoading, 0.0, "loading positions")
	if stepLogger != nil {
		stepLogger.StartStep("Load")
	}
	loadStart := time.Now()
	loadTimer := startTimer(cfg.Metrics, "load")
	var err error
	loadRes, err = loader.Load(ctx, cfg.Positions, cfg.PortfolioID)
	loadTimer.stop("error_if_empty")
	res.PhaseDurations["load"] = time.Since(loadStart)
	if err != nil {
		res.Errors = append(res.Errors, model.PipelineError{
			Phase: "load", ErrorType: "FILE_NOT_FOUND", Message: err.Error(),
			FixHint: "check the position source and portfolio id", Timestamp: now(),
		})
		res.Success = false
		if stepLogger != nil {
			stepLogger.Fail("load failed: " + err.Error())
		}
		return res
	}
	quality.Add(loadRes.Issues...)
	quality.Add(validate.Loaded(loadRes.Direct, loadRes.ETFs)...)

	reportingCurrency := cfg.ReportingCurrency
	if reportingCurrency == "" {
		reportingCurrency = "EUR"
	}
	quality.Add(validate.Currency(loadRes.Direct, reportingCurrency)...)
	quality.Add(validate.Currency(loadRes.ETFs, reportingCurrency)...)

	if len(loadRes.Direct) == 0 && len(loadRes.ETFs) == 0 {
		res.Errors = append(res.Errors, model.PipelineError{
			Phase: "load", ErrorType: "FILE_NOT_FOUND",
			Message: "loader produced no positions", FixHint: "sync the portfolio or upload a holdings file",
			Timestamp: now(),
		})
		res.Success = false
		if stepLogger != nil {
			stepLogger.Fail("empty portfolio")
		}
		return res
	}
	if stepLogger != nil {
		stepLogger.CompleteStep()
	}

	for _, p := range loadRes.Direct {
		portfolioValue += p.MarketValue()
	}
	for _, p := range loadRes.ETFs {
		portfolioValue += p.MarketValue()
	}

	if quality.HasCritical() {
		res.Success = false
		return res
	}

	// --- Decompose ---
	emit(PhaseDecompose, 0.25, fmt.Sprintf("decomposing %d ETF positions", len(loadRes.ETFs)))
	if stepLogger != nil {
		stepLogger.StartStep("Decompose")
	}
	decompStart := time.Now()
	decompTimer := startTimer(cfg.Metrics, "decompose")
	decompRes = decompose.Decompose(ctx, cfg.Holdings, cfg.Adapters, cfg.Resolver, loadRes.ETFs, cfg.ModerateResolutionThreshold)
	decompTimer.stop("ok")
	res.PhaseDurations["decompose"] = time.Since(decompStart)
	res.ETFsProcessed = len(decompRes.Decompositions)
	res.ETFsFailed = len(decompRes.Errors)
	res.Errors = append(res.Errors, decompRes.Errors...)
	res.Decompositions = decompRes.Decompositions
	quality.Add(decompRes.Issues...)
	for _, e := range decompRes.Errors {
		if cfg.Metrics != nil {
			cfg.Metrics.RecordPhaseError("decompose", e.ErrorType)
		}
	}
	if stepLogger != nil {
		stepLogger.CompleteStep()
	}

	if quality.HasCritical() {
		res.Success = false
		return res
	}

	// --- Enrich ---
	emit(PhaseEnrich, 0.55, "enriching holdings with sector/geography metadata")
	if stepLogger != nil {
		stepLogger.StartStep("Enrich")
	}
	enrichStart := time.Now()
	enrichTimer := startTimer(cfg.Metrics, "enrich")
	enrichStats, posMeta = enrich.Enrich(ctx, cfg.Enrich, decompRes.Decompositions, loadRes.Direct)
	enrichTimer.stop("ok")
	res.PhaseDurations["enrich"] = time.Since(enrichStart)

	var allHoldings []model.Holding
	for _, d := range decompRes.Decompositions {
		allHoldings = append(allHoldings, d.Holdings...)
	}
	quality.Add(validate.Enrichment(allHoldings)...)
	if stepLogger != nil {
		stepLogger.CompleteStep()
	}

	// --- Aggregate ---
	emit(PhaseAggregate, 0.85, "aggregating true exposure")
	if stepLogger != nil {
		stepLogger.StartStep("Aggregate")
	}
	aggStart := time.Now()
	aggTimer := startTimer(cfg.Metrics, "aggregate")
	aggOut, aggPanicked := func() (out aggregate.Result, panicked bool) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				log.Error().Interface("panic", r).Msg("aggregation phase crashed")
			}
		}()
		return aggregate.Aggregate(loadRes.Direct, decompRes.Decompositions, posMeta, portfolioValue), false
	}()
	aggTimer.stop("ok")
	res.PhaseDurations["aggregate"] = time.Since(aggStart)

	if aggPanicked {
		res.Errors = append(res.Errors, model.PipelineError{
			Phase: "aggregate", ErrorType: "UNKNOWN", Message: "aggregation phase crashed",
			FixHint: "inspect the logged panic for the offending group", Timestamp: now(),
		})
		res.Success = false
		if stepLogger != nil {
			stepLogger.Fail("aggregation crashed")
		}
		return res
	}
	if stepLogger != nil {
		stepLogger.CompleteStep()
	}

	quality.Add(validate.Aggregation(aggOut.Exposures, aggOut.TrueTotalValue, portfolioValue, cfg.AggregationTolerance)...)

	emit(PhaseComplete, 1.0, "pipeline run complete")
	if stepLogger != nil {
		stepLogger.Finish()
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SetDataQualityScore(quality.Score())
	}

	res.Success = !quality.HasCritical()
	res.TotalValue = portfolioValue
	res.Exposures = aggOut.Exposures
	return res
}

// writeReports best-effort writes the three report artifacts on every run.
// A write failure is logged, never returned: reporting
// failures must not mask the pipeline's own success/failure outcome.
func writeReports(cfg Config, res Result, loadRes loader.Result, decompRes decompose.Result, enrichStats enrich.Stats, posMeta enrich.PositionMetadata) {
	if cfg.OutputDir == "" {
		return
	}
	exposurePath := filepath.Join(cfg.OutputDir, "true_exposure.csv")
	if err := report.WriteExposure(exposurePath, res.Exposures); err != nil {
		log.Error().Err(err).Str("path", exposurePath).Msg("failed to write exposure report")
	}

	breakdownPath := filepath.Join(cfg.OutputDir, "holdings_breakdown.csv")
	if err := report.WriteBreakdown(breakdownPath, loadRes.Direct, posMeta, decompRes.Decompositions); err != nil {
		log.Error().Err(err).Str("path", breakdownPath).Msg("failed to write holdings breakdown report")
	}

	health := report.BuildHealth(now(), len(loadRes.Direct), len(loadRes.ETFs), decompRes.Decompositions,
		res.PhaseDurations, enrichStats, res.Quality.Issues, res.Errors)
	healthPath := filepath.Join(cfg.OutputDir, "pipeline_health.json")
	if err := report.WriteHealth(healthPath, health); err != nil {
		log.Error().Err(err).Str("path", healthPath).Msg("failed to write pipeline health report")
	}
}

func now() time.Time { return time.Now() }

type timer struct {
	t *metrics.PhaseTimer
}

func startTimer(r *metrics.Registry, phase string) timer {
	if r == nil {
		return timer{}
	}
	return timer{t: r.StartPhase(phase)}
}

func (t timer) stop(result string) {
	if t.t != nil {
		t.t.Stop(result)
	}
}

// Resolver narrows *resolver.Resolver to the method decompose.Decompose
// needs; kept here so callers constructing Config can pass the concrete
// type without an explicit interface satisfaction check elsewhere.
var _ decompose.Resolver = (*resolver.Resolver)(nil)
