// Package report writes the three artifacts the orchestrator produces on
// every run: the aggregated exposure CSV, the per-child holdings breakdown
// CSV, and the JSON health report. All three writers go through a
// write-to-tmp-then-rename step so a crash mid-run never truncates the
// previous run's reports.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skeptomenos/portfolio-prism/internal/enrich"
	"github.com/skeptomenos/portfolio-prism/internal/model"
)

// ExposureColumns is true_exposure.csv's fixed column order.
var ExposureColumns = []string{
	"isin", "name", "sector", "geography", "asset_class",
	"direct", "indirect", "total_exposure", "portfolio_percentage",
	"resolution_confidence", "resolution_source",
}

// WriteExposure writes the portfolio-wide aggregated exposure report.
func WriteExposure(path string, exposures []model.AggregatedExposure) error {
	return writeCSV(path, ExposureColumns, len(exposures), func(i int) []string {
		e := exposures[i]
		return []string{
			e.GroupKey, e.Name, e.Sector, e.Geography, string(e.AssetClass),
			formatFloat(e.Direct), formatFloat(e.Indirect), formatFloat(e.TotalExposure()),
			formatFloat(e.PortfolioPercentage), formatFloat(e.ResolutionConfidence),
			string(e.ResolutionSource),
		}
	})
}

// BreakdownColumns is holdings_breakdown.csv's fixed column order.
var BreakdownColumns = []string{
	"parent_isin", "parent_name", "source", "child_isin", "child_name",
	"weight_percent", "value_eur", "sector", "geography",
	"resolution_status", "resolution_source", "resolution_confidence",
	"resolution_detail", "ticker",
}

// breakdownRow is one flattened row of the per-child report, built from
// either a direct position (source="Direct") or one ETF's constituent
// (source="ETF").
type breakdownRow struct {
	parentISIN, parentName, source  string
	childISIN, childName            string
	weightPercent, valueEUR         float64
	sector, geography               string
	resolutionStatus, resolutionSrc string
	resolutionConfidence            float64
	resolutionDetail, ticker        string
}

// WriteBreakdown writes the per-child holdings breakdown: one row per direct
// position and one row per ETF constituent.
func WriteBreakdown(path string, direct []model.Position, posMeta enrich.PositionMetadata, decompositions []*model.ETFDecomposition) error {
	var rows []breakdownRow

	for _, p := range direct {
		meta := posMeta[p.ISIN]
		rows = append(rows, breakdownRow{
			parentISIN: p.ISIN, parentName: p.Name, source: "Direct",
			childISIN: p.ISIN, childName: p.Name,
			weightPercent: 100, valueEUR: p.MarketValue(),
			sector:    orDefault(meta.Sector, model.DefaultSector),
			geography: orDefault(meta.Geography, model.DefaultGeography),
			resolutionStatus: string(model.StatusResolved), resolutionSrc: string(model.SourceExisting),
			resolutionConfidence: 1.0, ticker: p.Symbol,
		})
	}

	for _, d := range decompositions {
		for _, h := range d.Holdings {
			rows = append(rows, breakdownRow{
				parentISIN: d.ETFISIN, parentName: d.ETFName, source: "ETF",
				childISIN: h.ISIN, childName: h.Name,
				weightPercent: h.WeightPercentage, valueEUR: h.Indirect,
				sector: h.Sector, geography: h.Geography,
				resolutionStatus: string(h.ResolutionStatus), resolutionSrc: string(h.ResolutionSource),
				resolutionConfidence: h.ResolutionConfidence, resolutionDetail: h.ResolutionDetail,
				ticker: h.Ticker,
			})
		}
	}

	return writeCSV(path, BreakdownColumns, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			r.parentISIN, r.parentName, r.source, r.childISIN, r.childName,
			formatFloat(r.weightPercent), formatFloat(r.valueEUR), r.sector, r.geography,
			r.resolutionStatus, r.resolutionSrc, formatFloat(r.resolutionConfidence),
			r.resolutionDetail, r.ticker,
		}
	})
}

// Health is the pipeline_health.json document.
type Health struct {
	Timestamp     time.Time         `json:"timestamp"`
	Metrics       HealthMetrics     `json:"metrics"`
	Performance   HealthPerformance `json:"performance"`
	Decomposition HealthDecomposition `json:"decomposition"`
	Enrichment    HealthEnrichment  `json:"enrichment"`
	Failures      []HealthFailure   `json:"failures"`
}

type HealthMetrics struct {
	DirectHoldings int `json:"direct_holdings"`
	ETFPositions   int `json:"etf_positions"`
	ETFsProcessed  int `json:"etfs_processed"`
}

type HealthPerformance struct {
	PhaseDurations map[string]time.Duration `json:"phase_durations"`
	HiveHitRate    float64                   `json:"hive_hit_rate"`
}

type HealthDecomposition struct {
	PerETF []ETFHealth `json:"per_etf"`
}

type ETFHealth struct {
	ISIN          string  `json:"isin"`
	Name          string  `json:"name"`
	HoldingsCount int     `json:"holdings_count"`
	WeightSum     float64 `json:"weight_sum"`
	Status        string  `json:"status"`
	Source        string  `json:"source"`
}

type HealthEnrichment struct {
	Stats   enrich.Stats `json:"stats"`
	HiveLog []string     `json:"hive_log"`
}

type HealthFailure struct {
	Severity string `json:"severity"`
	Stage    string `json:"stage"`
	Item     string `json:"item"`
	Issue    string `json:"issue"`
	Error    string `json:"error"`
	Fix      string `json:"fix"`
}

// BuildHealth assembles the health report from a completed run's
// collaborator outputs. direct/etfCount are the Load phase's bucket sizes.
func BuildHealth(timestamp time.Time, directCount, etfCount int, decompositions []*model.ETFDecomposition, phaseDurations map[string]time.Duration, enrichStats enrich.Stats, issues []model.ValidationIssue, pipelineErrors []model.PipelineError) Health {
	h := Health{
		Timestamp: timestamp,
		Metrics: HealthMetrics{
			DirectHoldings: directCount,
			ETFPositions:   etfCount,
			ETFsProcessed:  len(decompositions),
		},
		Performance: HealthPerformance{PhaseDurations: phaseDurations},
		Enrichment:  HealthEnrichment{Stats: enrichStats},
	}

	for _, d := range decompositions {
		h.Decomposition.PerETF = append(h.Decomposition.PerETF, ETFHealth{
			ISIN: d.ETFISIN, Name: d.ETFName, HoldingsCount: len(d.Holdings),
			WeightSum: d.WeightSum(), Status: "decomposed", Source: string(d.Source),
		})
	}

	for _, i := range issues {
		h.Failures = append(h.Failures, HealthFailure{
			Severity: string(i.Severity), Stage: i.Phase, Item: i.Item,
			Issue: i.Code, Error: i.Message, Fix: i.FixHint,
		})
	}
	for _, e := range pipelineErrors {
		h.Failures = append(h.Failures, HealthFailure{
			Severity: "CRITICAL", Stage: e.Phase, Item: e.Item,
			Issue: e.ErrorType, Error: e.Message, Fix: e.FixHint,
		})
	}
	return h
}

// WriteHealth atomically writes the health report as indented JSON.
func WriteHealth(path string, h Health) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}
	return atomicWrite(path, data)
}

func writeCSV(path string, columns []string, rowCount int, row func(i int) []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return err
	}
	for i := 0; i < rowCount; i++ {
		if err := w.Write(row(i)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func atomicWrite(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
