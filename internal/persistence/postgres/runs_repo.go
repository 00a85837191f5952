package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/skeptomenos/portfolio-prism/internal/persistence"
)

// runsRepo implements RunHistoryRepo for PostgreSQL.
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a new PostgreSQL pipeline-run history repository.
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunHistoryRepo {
	return &runsRepo{db: db, timeout: timeout}
}

// Insert records a completed run and returns its assigned ID.
func (r *runsRepo) Insert(ctx context.Context, run persistence.PipelineRun) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return 0, fmt.Errorf("marshal run errors: %w", err)
	}

	query := `
		INSERT INTO pipeline_runs
		(portfolio_id, started_at, completed_at, success, etfs_processed, etfs_failed,
		 total_value, quality_score, report_dir, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err = r.db.QueryRowxContext(ctx, query,
		run.PortfolioID, run.StartedAt, run.CompletedAt, run.Success,
		run.ETFsProcessed, run.ETFsFailed, run.TotalValue, run.QualityScore,
		run.ReportDir, errorsJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline run: %w", err)
	}
	return id, nil
}

// Latest returns the most recent run for a portfolio, if any.
func (r *runsRepo) Latest(ctx context.Context, portfolioID string) (*persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run persistence.PipelineRun
	query := `
		SELECT id, portfolio_id, started_at, completed_at, success, etfs_processed,
		       etfs_failed, total_value, quality_score, report_dir, errors, created_at
		FROM pipeline_runs
		WHERE portfolio_id = $1
		ORDER BY completed_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &run, query, portfolioID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &run, nil
}

// ListByPortfolio returns runs for a portfolio within a time window, most
// recent first.
func (r *runsRepo) ListByPortfolio(ctx context.Context, portfolioID string, tr persistence.TimeRange, limit int) ([]persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var runs []persistence.PipelineRun
	query := `
		SELECT id, portfolio_id, started_at, completed_at, success, etfs_processed,
		       etfs_failed, total_value, quality_score, report_dir, errors, created_at
		FROM pipeline_runs
		WHERE portfolio_id = $1 AND completed_at BETWEEN $2 AND $3
		ORDER BY completed_at DESC LIMIT $4`
	if err := r.db.SelectContext(ctx, &runs, query, portfolioID, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("list runs by portfolio: %w", err)
	}
	return runs, nil
}

// GetByID retrieves a single run by its assigned ID.
func (r *runsRepo) GetByID(ctx context.Context, id int64) (*persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run persistence.PipelineRun
	query := `
		SELECT id, portfolio_id, started_at, completed_at, success, etfs_processed,
		       etfs_failed, total_value, quality_score, report_dir, errors, created_at
		FROM pipeline_runs WHERE id = $1`
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return &run, nil
}

// QualityTrend returns quality scores for a portfolio's last N runs, oldest
// first, for charting drift over time.
func (r *runsRepo) QualityTrend(ctx context.Context, portfolioID string, limit int) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var scores []float64
	query := `
		SELECT quality_score FROM (
			SELECT quality_score, completed_at FROM pipeline_runs
			WHERE portfolio_id = $1
			ORDER BY completed_at DESC LIMIT $2
		) recent ORDER BY completed_at ASC`
	if err := r.db.SelectContext(ctx, &scores, query, portfolioID, limit); err != nil {
		return nil, fmt.Errorf("quality trend: %w", err)
	}
	return scores, nil
}
