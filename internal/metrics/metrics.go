// Package metrics holds the Prometheus registry for the exposure pipeline:
// per-phase duration, cache hit ratio, resolver cascade outcomes, and Hive
// sync/contribution counters, all under the prism_* metric family.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// cacheTiers enumerates the holdings cache tier labels the hit-ratio gauge
// sums across, matching the tier names internal/cache.Cache reports.
var cacheTiers = []string{"local", "community", "adapter", "manual"}

// Registry holds every metric the pipeline and its collaborators record.
type Registry struct {
	PhaseDuration *prometheus.HistogramVec
	PhaseRuns     *prometheus.CounterVec
	PhaseErrors   *prometheus.CounterVec

	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	ResolverCascadeStep *prometheus.CounterVec
	ResolutionRate      prometheus.Gauge

	HiveContributions *prometheus.CounterVec
	HiveSyncRows      *prometheus.CounterVec

	DataQualityScore prometheus.Gauge
	RunsTotal        prometheus.Counter

	reg *prometheus.Registry
}

// New builds every metric and registers it on a Prometheus registry of its
// own, which Handler serves. Each call yields an independent set, so it is
// safe to call more than once per process (e.g. once per test).
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prism_phase_duration_seconds",
				Help:    "Duration of each pipeline phase (load/decompose/enrich/aggregate) in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase", "result"},
		),
		PhaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prism_phase_runs_total",
				Help: "Total pipeline phase executions by outcome",
			},
			[]string{"phase", "result"},
		),
		PhaseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prism_phase_errors_total",
				Help: "Total per-item errors recorded within a phase",
			},
			[]string{"phase", "error_type"},
		),
		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_holdings_cache_hit_ratio",
			Help: "Current holdings cache hit ratio (0.0 to 1.0)",
		}),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_holdings_cache_hits_total", Help: "Holdings cache hits by tier"},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_holdings_cache_misses_total", Help: "Holdings cache misses by tier"},
			[]string{"tier"},
		),
		ResolverCascadeStep: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_resolver_cascade_step_total", Help: "Resolutions satisfied at each cascade step"},
			[]string{"step", "result"},
		),
		ResolutionRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_resolution_rate", Help: "Fraction of constituents resolved to an ISIN in the latest run",
		}),
		HiveContributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_hive_contributions_total", Help: "Hive contributions attempted by outcome"},
			[]string{"kind", "result"},
		),
		HiveSyncRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_hive_sync_rows_total", Help: "Rows pulled and upserted by a Hive background sync"},
			[]string{"table"},
		),
		DataQualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_data_quality_score", Help: "DataQuality score of the most recent pipeline run",
		}),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_pipeline_runs_total", Help: "Total pipeline runs initiated",
		}),
	}

	r.reg.MustRegister(
		r.PhaseDuration, r.PhaseRuns, r.PhaseErrors,
		r.CacheHitRatio, r.CacheHits, r.CacheMisses,
		r.ResolverCascadeStep, r.ResolutionRate,
		r.HiveContributions, r.HiveSyncRows,
		r.DataQualityScore, r.RunsTotal,
	)
	return r
}

// PhaseTimer tracks one phase's execution and records its outcome on Stop.
type PhaseTimer struct {
	r     *Registry
	phase string
	start time.Time
}

// StartPhase begins timing a pipeline phase.
func (r *Registry) StartPhase(phase string) *PhaseTimer {
	return &PhaseTimer{r: r, phase: phase, start: time.Now()}
}

// Stop records the phase's duration and outcome.
func (t *PhaseTimer) Stop(result string) {
	d := time.Since(t.start)
	t.r.PhaseDuration.WithLabelValues(t.phase, result).Observe(d.Seconds())
	t.r.PhaseRuns.WithLabelValues(t.phase, result).Inc()
	log.Debug().Str("phase", t.phase).Str("result", result).Dur("duration", d).Msg("pipeline phase complete")
}

// RecordPhaseError records a non-fatal per-item failure within a phase.
func (r *Registry) RecordPhaseError(phase, errorType string) {
	r.PhaseErrors.WithLabelValues(phase, errorType).Inc()
}

// RecordCacheHit/RecordCacheMiss track the holdings cache tiers.
func (r *Registry) RecordCacheHit(tier string)  { r.CacheHits.WithLabelValues(tier).Inc(); r.updateCacheHitRatio() }
func (r *Registry) RecordCacheMiss(tier string) { r.CacheMisses.WithLabelValues(tier).Inc(); r.updateCacheHitRatio() }

func (r *Registry) updateCacheHitRatio() {
	var totalHits, totalMisses float64
	var hitMetric, missMetric io_prometheus_client.Metric

	for _, tier := range cacheTiers {
		if c, err := r.CacheHits.GetMetricWithLabelValues(tier); err == nil {
			if err := c.Write(&hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}
		if c, err := r.CacheMisses.GetMetricWithLabelValues(tier); err == nil {
			if err := c.Write(&missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	total := totalHits + totalMisses
	if total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}

// RecordResolverStep increments the per-cascade-step counter.
func (r *Registry) RecordResolverStep(step, result string) {
	r.ResolverCascadeStep.WithLabelValues(step, result).Inc()
}

// SetResolutionRate records the latest run's fraction resolved.
func (r *Registry) SetResolutionRate(rate float64) { r.ResolutionRate.Set(rate) }

// RecordHiveContribution records an attempted contribution (resolver ticker
// or enrichment metadata) and its delivery outcome.
func (r *Registry) RecordHiveContribution(kind, result string) {
	r.HiveContributions.WithLabelValues(kind, result).Inc()
}

// RecordHiveSync records how many rows a background sync upserted.
func (r *Registry) RecordHiveSync(table string, rows int) {
	r.HiveSyncRows.WithLabelValues(table).Add(float64(rows))
}

// SetDataQualityScore publishes the latest run's DataQuality.Score().
func (r *Registry) SetDataQualityScore(score float64) { r.DataQualityScore.Set(score) }

// Handler exposes the /metrics scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
