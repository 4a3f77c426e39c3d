package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/config"
)

// mockDBTX verifies at compile time that the DBTX surface matches what
// snapshot writers mock in their tests.
type mockDBTX struct{}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockDBTX) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (m *mockDBTX) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

var _ DBTX = (*mockDBTX)(nil)

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	t.Run("generates valid DSN with all parameters", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "crawler",
			Password:       "secret",
			Name:           "citation_crawler",
			SSLMode:        "disable",
			ConnectTimeout: 10 * time.Second,
		}

		dsn := cfg.DSN()

		assert.Contains(t, dsn, "postgres://")
		assert.Contains(t, dsn, "crawler")
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "citation_crawler")
		assert.Contains(t, dsn, "sslmode=disable")
		assert.Contains(t, dsn, "connect_timeout=10")

		_, err := pgxpool.ParseConfig(dsn)
		assert.NoError(t, err)
	})

	t.Run("escapes special characters in user and password", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user@domain",
			Password: "pass/word",
			Name:     "testdb",
			SSLMode:  "require",
		}

		dsn := cfg.DSN()

		assert.Contains(t, dsn, "user%40domain")
		assert.Contains(t, dsn, "pass%2Fword")
	})

	t.Run("connect timeout zero omits parameter", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass",
			Name:     "testdb",
			SSLMode:  "disable",
		}

		assert.NotContains(t, cfg.DSN(), "connect_timeout")
	})
}

func TestNewPoolConfig(t *testing.T) {
	t.Parallel()

	t.Run("zero knobs keep pool defaults", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "user",
			Name:    "testdb",
			SSLMode: "disable",
		}

		poolCfg, err := newPoolConfig(cfg)
		require.NoError(t, err)

		// A zero health-check period would panic the pool's background
		// ticker; the default must survive an unset config.
		assert.Positive(t, poolCfg.HealthCheckPeriod)
		assert.Positive(t, poolCfg.MaxConns)
		assert.Positive(t, poolCfg.MaxConnLifetime)
		assert.Positive(t, poolCfg.MaxConnIdleTime)
	})

	t.Run("configured knobs are applied", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "user",
			Name:              "testdb",
			SSLMode:           "disable",
			MaxConns:          20,
			MinConns:          4,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   30 * time.Minute,
			HealthCheckPeriod: 15 * time.Second,
			ConnectTimeout:    10 * time.Second,
		}

		poolCfg, err := newPoolConfig(cfg)
		require.NoError(t, err)

		assert.Equal(t, int32(20), poolCfg.MaxConns)
		assert.Equal(t, int32(4), poolCfg.MinConns)
		assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
		assert.Equal(t, 30*time.Minute, poolCfg.MaxConnIdleTime)
		assert.Equal(t, 15*time.Second, poolCfg.HealthCheckPeriod)
		assert.Equal(t, 10*time.Second, poolCfg.ConnConfig.ConnectTimeout)
	})

	t.Run("invalid DSN is rejected", func(t *testing.T) {
		t.Parallel()
		cfg := &config.DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "user",
			Name:    "testdb",
			SSLMode: "not-a-mode",
		}

		_, err := newPoolConfig(cfg)
		assert.Error(t, err)
	})
}

func TestHealthStatus_JSON(t *testing.T) {
	t.Parallel()

	t.Run("error field included when populated", func(t *testing.T) {
		t.Parallel()
		hs := HealthStatus{
			Status:     "unhealthy",
			Error:      "connection refused",
			TotalConns: 10,
			MaxConns:   50,
		}

		data, err := json.Marshal(hs)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"error":"connection refused"`)
	})

	t.Run("empty error field is omitted", func(t *testing.T) {
		t.Parallel()
		hs := HealthStatus{Status: "healthy", MaxConns: 50}

		data, err := json.Marshal(hs)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"error"`)
		assert.Contains(t, string(data), `"status":"healthy"`)
	})
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	cfg := &config.DatabaseConfig{
		Host:           "192.0.2.1",
		Port:           5432,
		Name:           "testdb",
		User:           "user",
		Password:       "pass",
		SSLMode:        "disable",
		MaxConns:       5,
		MinConns:       1,
		ConnectTimeout: 2 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestDB_Close_NilPool(t *testing.T) {
	t.Parallel()

	nilDB := &DB{}
	assert.NotPanics(t, func() {
		nilDB.Close()
	})
}
