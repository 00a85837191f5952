package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/skeptomenos/portfolio-prism/internal/persistence"
)

// resolverIndexRepo implements ResolverIndexRepo for PostgreSQL.
type resolverIndexRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewResolverIndexRepo creates a new PostgreSQL resolver-index mirror.
func NewResolverIndexRepo(db *sqlx.DB, timeout time.Duration) persistence.ResolverIndexRepo {
	return &resolverIndexRepo{db: db, timeout: timeout}
}

// Upsert records or refreshes one resolved identity, keyed by ISIN.
func (r *resolverIndexRepo) Upsert(ctx context.Context, identity persistence.ResolvedIdentity) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO resolved_identities (isin, ticker, name, exchange, source, confidence, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (isin) DO UPDATE SET
			ticker = EXCLUDED.ticker,
			name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			resolved_at = EXCLUDED.resolved_at`

	_, err := r.db.ExecContext(ctx, query,
		identity.ISIN, identity.Ticker, identity.Name, identity.Exchange,
		identity.Source, identity.Confidence, identity.ResolvedAt)
	if err != nil {
		return fmt.Errorf("upsert resolved identity: %w", err)
	}
	return nil
}

// UpsertBatch records multiple resolved identities in one transaction, the
// shape Resolver.Flush() produces each time it drains its pending writes.
func (r *resolverIndexRepo) UpsertBatch(ctx context.Context, identities []persistence.ResolvedIdentity) error {
	if len(identities) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(identities)/50+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO resolved_identities (isin, ticker, name, exchange, source, confidence, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (isin) DO UPDATE SET
			ticker = EXCLUDED.ticker,
			name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			resolved_at = EXCLUDED.resolved_at`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, identity := range identities {
		if _, err := stmt.ExecContext(ctx, identity.ISIN, identity.Ticker, identity.Name,
			identity.Exchange, identity.Source, identity.Confidence, identity.ResolvedAt); err != nil {
			return fmt.Errorf("upsert %s: %w", identity.ISIN, err)
		}
	}

	return tx.Commit()
}

// LookupByISIN returns the mirrored record for isin, if any.
func (r *resolverIndexRepo) LookupByISIN(ctx context.Context, isin string) (*persistence.ResolvedIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var identity persistence.ResolvedIdentity
	query := `SELECT isin, ticker, name, exchange, source, confidence, resolved_at
	          FROM resolved_identities WHERE isin = $1`
	if err := r.db.GetContext(ctx, &identity, query, isin); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup by isin: %w", err)
	}
	return &identity, nil
}

// LookupByTicker returns the most recent resolution for a ticker+exchange
// pair, if any.
func (r *resolverIndexRepo) LookupByTicker(ctx context.Context, ticker, exchange string) (*persistence.ResolvedIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var identity persistence.ResolvedIdentity
	query := `SELECT isin, ticker, name, exchange, source, confidence, resolved_at
	          FROM resolved_identities
	          WHERE ticker = $1 AND exchange = $2
	          ORDER BY resolved_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &identity, query, ticker, exchange); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup by ticker: %w", err)
	}
	return &identity, nil
}

// Count returns the total number of mirrored identities.
func (r *resolverIndexRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM resolved_identities`); err != nil {
		return 0, fmt.Errorf("count resolved identities: %w", err)
	}
	return count, nil
}
