// Package db owns the optional Postgres connection pool backing
// internal/persistence: a mirror of the resolver's alias index and a
// history of pipeline runs, gated by PRISM_POSTGRES_DSN. When the DSN is
// unset the engine runs on its CSV and file stores alone.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/skeptomenos/portfolio-prism/internal/persistence"
	"github.com/skeptomenos/portfolio-prism/internal/persistence/postgres"
)

// Config holds the connection pool settings. Enabled stays false unless a
// DSN was found in the environment.
type Config struct {
	DSN             string        `yaml:"dsn" env:"PRISM_POSTGRES_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PRISM_PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PRISM_PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PRISM_PG_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"PRISM_PG_CONN_MAX_IDLE_TIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PRISM_PG_QUERY_TIMEOUT"`
	Enabled         bool          `yaml:"enabled" env:"PG_ENABLED"`
}

// DefaultConfig returns pool sizing suitable for a single-process engine
// that writes in end-of-run batches rather than per-request.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Enabled:         false,
	}
}

// Manager owns the pool and hands out the repository collection. A
// disabled Manager is fully functional as a no-op: Repository and DB
// return nil and Health reports healthy-but-disabled.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens and verifies the pool. With Enabled false it returns a
// no-op manager and never touches the network.
func NewManager(config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			health: &healthChecker{enabled: false},
		}, nil
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	pool, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(config.MaxOpenConns)
	pool.SetMaxIdleConns(config.MaxIdleConns)
	pool.SetConnMaxLifetime(config.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Fail fast on an unreachable server rather than at first query.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Manager{
		db:     pool,
		config: config,
		repos: &persistence.Repository{
			ResolverIndex: postgres.NewResolverIndexRepo(pool, config.QueryTimeout),
			Runs:          postgres.NewRunsRepo(pool, config.QueryTimeout),
		},
		health: &healthChecker{enabled: true, db: pool, timeout: config.QueryTimeout},
	}, nil
}

// Repository returns the repository collection, nil when disabled.
func (m *Manager) Repository() *persistence.Repository { return m.repos }

// Health returns the health checker for this pool.
func (m *Manager) Health() persistence.RepositoryHealth { return m.health }

// DB exposes the underlying pool for migrations and ad-hoc queries.
func (m *Manager) DB() *sqlx.DB { return m.db }

// IsEnabled reports whether a live pool is attached.
func (m *Manager) IsEnabled() bool { return m.config.Enabled && m.db != nil }

// Close releases the pool. Safe on a disabled manager.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth over the pool.
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
		}
	}

	start := time.Now()
	check := persistence.HealthCheck{Healthy: true, LastCheck: start}

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.db.PingContext(pingCtx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	}

	stats := h.db.Stats()
	check.ConnectionPool = map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}

func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}

func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	if !h.enabled {
		return map[string]interface{}{"enabled": false, "status": "disabled"}
	}
	stats := h.db.Stats()
	return map[string]interface{}{
		"enabled":              true,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_idle_time_closed": stats.MaxIdleTimeClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}
