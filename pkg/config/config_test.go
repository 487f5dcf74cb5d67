package config

import (
	"testing"
	"time"

	"tzlogs/pkg/failures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "docker")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/btl/raw", cfg.Storage.RawRoot)
	assert.Equal(t, "/srv/btl/gz", cfg.Storage.GzRoot)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 12, cfg.Sync.ConcurrencyLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.PerIDDelay)
	assert.Equal(t, 20*time.Second, cfg.Upstream.HardTimeout)
	assert.Equal(t, "test", cfg.Database.Mode)
}

func TestLoadSelectsDatabaseBlock(t *testing.T) {
	t.Setenv("ENVIRONMENT", "docker")
	t.Setenv("DB_MODE", "prod")
	t.Setenv("DB_PROD_HOST", "db.internal")
	t.Setenv("DB_PROD_PORT", "6543")
	t.Setenv("DB_PROD_NAME", "battles")
	t.Setenv("DB_PROD_USER", "svc")
	t.Setenv("DB_PROD_PASSWORD", "secret")
	t.Setenv("DB_TEST_HOST", "wrong")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Contains(t, cfg.Database.DSN, "dbname=battles")
	assert.Contains(t, cfg.Database.DSN, "statement_timeout=60000")
	assert.NoError(t, cfg.RequireDatabase())
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown db mode", key: "DB_MODE", val: "staging"},
		{name: "batch size zero", key: "BATCH_SIZE", val: "0"},
		{name: "not a number", key: "CONCURRENCY_LIMIT", val: "many"},
		{name: "timeout below a second", key: "HARD_TIMEOUT_SEC", val: "0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "docker")
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()
			assert.Nil(t, cfg)
			assert.Error(t, err)
			assert.Equal(t, 2, failures.ExitCode(err))
		})
	}
}

func TestRequireWorker(t *testing.T) {
	t.Setenv("ENVIRONMENT", "docker")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.RequireWorker()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "LOGIN_NAME")
	assert.Contains(t, err.Error(), "LOGIN_KEY")
	assert.Equal(t, 1, failures.ExitCode(err))

	cfg.Upstream.Login = "bot"
	cfg.Upstream.Key = "key"
	assert.NoError(t, cfg.RequireWorker())
}

func TestRequireCoordinator(t *testing.T) {
	t.Setenv("ENVIRONMENT", "docker")
	t.Setenv("DB_TEST_NAME", "battles")
	t.Setenv("DB_TEST_USER", "svc")
	t.Setenv("WORKER_URLS", "http://w1:8001, http://w2:8001,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"http://w1:8001", "http://w2:8001"}, cfg.Sync.WorkerURLs)

	err = cfg.RequireCoordinator()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_API_TOKEN")

	cfg.Admin.Token = "t"
	assert.NoError(t, cfg.RequireCoordinator())
}
