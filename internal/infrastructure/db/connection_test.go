package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/portfolio-prism/internal/infrastructure/db"
)

func TestDefaultConfig(t *testing.T) {
	config := db.DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled) // disabled until PRISM_POSTGRES_DSN is set
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := db.NewManager(db.Config{Enabled: false})
	require.NoError(t, err)

	assert.NotNil(t, manager)
	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())

	healthCheck := manager.Health().Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	require.NotEmpty(t, healthCheck.Errors)
	assert.Contains(t, healthCheck.Errors[0], "disabled")
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := db.NewManager(db.Config{Enabled: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewManager_InvalidDSN(t *testing.T) {
	_, err := db.NewManager(db.Config{Enabled: true, DSN: "not-a-valid-dsn"})
	assert.Error(t, err)
}

func TestHealthChecker_Disabled(t *testing.T) {
	manager, err := db.NewManager(db.Config{Enabled: false})
	require.NoError(t, err)

	health := manager.Health()

	healthCheck := health.Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	assert.Equal(t, 0, healthCheck.ConnectionPool["status"])
	assert.Equal(t, int64(0), healthCheck.ResponseTimeMS)

	assert.NoError(t, health.Ping(context.Background()))
}
