// Package persistence defines the optional Postgres-backed durability layer:
// a mirror of the Resolver's alias index and a history of pipeline runs.
// Neither is required for correctness: the CSV asset universe remains the
// canonical resolver store and a run's report artifacts remain the
// canonical output. Postgres here only gives operators queryable history
// across runs and processes, gated by PRISM_POSTGRES_DSN.
package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for history queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ResolvedIdentity mirrors one entry the Resolver cascade produced, keyed by
// ISIN. It is a durable record of what the CSV asset universe holds (plus
// whatever Resolver.Flush() most recently appended), not a second source of
// truth the Resolver reads from at request time.
type ResolvedIdentity struct {
	ISIN       string    `json:"isin" db:"isin"`
	Ticker     string    `json:"ticker" db:"ticker"`
	Name       string    `json:"name" db:"name"`
	Exchange   string    `json:"exchange" db:"exchange"`
	Source     string    `json:"source" db:"source"`
	Confidence float64   `json:"confidence" db:"confidence"`
	ResolvedAt time.Time `json:"resolved_at" db:"resolved_at"`
}

// PipelineRun records one Load->Decompose->Enrich->Aggregate execution's
// outcome, for cross-run history a flat CSV/JSON report directory doesn't
// make easy to query.
type PipelineRun struct {
	ID            int64                  `json:"id" db:"id"`
	PortfolioID   string                 `json:"portfolio_id" db:"portfolio_id"`
	StartedAt     time.Time              `json:"started_at" db:"started_at"`
	CompletedAt   time.Time              `json:"completed_at" db:"completed_at"`
	Success       bool                   `json:"success" db:"success"`
	ETFsProcessed int                    `json:"etfs_processed" db:"etfs_processed"`
	ETFsFailed    int                    `json:"etfs_failed" db:"etfs_failed"`
	TotalValue    float64                `json:"total_value" db:"total_value"`
	QualityScore  float64                `json:"quality_score" db:"quality_score"`
	ReportDir     string                 `json:"report_dir" db:"report_dir"`
	Errors        map[string]interface{} `json:"errors,omitempty" db:"errors"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// ResolverIndexRepo mirrors resolved identities into Postgres so the
// resolver cascade's history survives independently of the CSV asset
// universe file, and can be queried across processes/hosts.
type ResolverIndexRepo interface {
	// Upsert records (or refreshes) one resolved identity, keyed by ISIN.
	Upsert(ctx context.Context, identity ResolvedIdentity) error

	// UpsertBatch records multiple resolved identities atomically, the
	// shape Resolver.Flush() produces in one call.
	UpsertBatch(ctx context.Context, identities []ResolvedIdentity) error

	// LookupByISIN returns the mirrored record for isin, if any.
	LookupByISIN(ctx context.Context, isin string) (*ResolvedIdentity, error)

	// LookupByTicker returns the most recent resolution for a ticker on an
	// exchange, if any.
	LookupByTicker(ctx context.Context, ticker, exchange string) (*ResolvedIdentity, error)

	// Count returns the total number of mirrored identities.
	Count(ctx context.Context) (int64, error)
}

// RunHistoryRepo persists a record of each pipeline run for later audit and
// trend analysis (e.g. "has quality score degraded over the last 30 runs").
type RunHistoryRepo interface {
	// Insert records a completed run and returns its assigned ID.
	Insert(ctx context.Context, run PipelineRun) (int64, error)

	// Latest returns the most recent run for a portfolio, if any.
	Latest(ctx context.Context, portfolioID string) (*PipelineRun, error)

	// ListByPortfolio returns runs for a portfolio within a time window,
	// most recent first.
	ListByPortfolio(ctx context.Context, portfolioID string, tr TimeRange, limit int) ([]PipelineRun, error)

	// GetByID retrieves a single run by its assigned ID.
	GetByID(ctx context.Context, id int64) (*PipelineRun, error)

	// QualityTrend returns quality scores for a portfolio's last N runs,
	// oldest first, for charting drift over time.
	QualityTrend(ctx context.Context, portfolioID string, limit int) ([]float64, error)
}

// Repository aggregates both persistence interfaces for injection.
type Repository struct {
	ResolverIndex ResolverIndexRepo
	Runs          RunHistoryRepo
}

// HealthCheck represents the persistence layer's health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
