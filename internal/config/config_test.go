package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chdirTemp moves the test into a fresh temp dir so Load does not pick
// up a config.yaml from the repo.
func chdirTemp(t *testing.T) string {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.DatabaseURL)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.False(t, cfg.Analysis.Strict)
	assert.Equal(t, 100.0, cfg.Analysis.CellSizeMeters)
	assert.Equal(t, 5, cfg.GIS.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.GIS.Circuit.ResetTimeoutSecs)
	assert.Equal(t, "geest/1.0", cfg.Fetcher.UserAgent)
	assert.Equal(t, 300, cfg.Fetcher.TimeoutSecs)
	assert.Equal(t, 5.0, cfg.Fetcher.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Fetcher.Burst)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.Retry.MaxBackoffMs)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 0.25, cfg.Retry.JitterFraction)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/geest
  pool:
    max_conns: 10
    min_conns: 2
analysis:
  workers: 8
  strict: true
  cell_size_meters: 250
  name_field: NAME
gis:
  ops_per_second: 10
  circuit:
    failure_threshold: 3
    reset_timeout_secs: 10
server:
  port: 9090
  allowed_origins:
    - https://geest.example.org
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/geest", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.Pool.MinConns)
	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.True(t, cfg.Analysis.Strict)
	assert.Equal(t, 250.0, cfg.Analysis.CellSizeMeters)
	assert.Equal(t, "NAME", cfg.Analysis.NameField)
	assert.Equal(t, 10.0, cfg.GIS.OpsPerSecond)
	assert.Equal(t, 3, cfg.GIS.Circuit.FailureThreshold)
	assert.Equal(t, 10, cfg.GIS.Circuit.ResetTimeoutSecs)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://geest.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
analysis:
  workers: 8
log:
  level: warn
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("GEEST_ANALYSIS_WORKERS", "2")
	t.Setenv("GEEST_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Analysis.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GEEST_STORE_DRIVER", "postgres")
	t.Setenv("GEEST_STORE_DATABASE_URL", "postgres://localhost/geest")
	t.Setenv("GEEST_SERVER_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/geest", cfg.Store.DatabaseURL)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [broken"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Store:    StoreConfig{Driver: "sqlite"},
		Analysis: AnalysisConfig{Workers: 4, CellSizeMeters: 100},
		Fetcher:  FetcherConfig{RequestsPerSecond: 5},
		Retry:    RetryConfig{MaxAttempts: 3, InitialBackoffMs: 500, MaxBackoffMs: 30000, Multiplier: 2, JitterFraction: 0.25},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		mode    string
		wantErr []string
	}{
		{
			name:   "valid analyze",
			mutate: func(c *Config) {},
			mode:   "analyze",
		},
		{
			name:   "valid serve",
			mutate: func(c *Config) {},
			mode:   "serve",
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
			},
			mode:    "analyze",
			wantErr: []string{"store.database_url"},
		},
		{
			name: "unknown driver",
			mutate: func(c *Config) {
				c.Store.Driver = "oracle"
			},
			mode:    "fetch",
			wantErr: []string{"store.driver"},
		},
		{
			name: "workers out of range",
			mutate: func(c *Config) {
				c.Analysis.Workers = 0
			},
			mode:    "analyze",
			wantErr: []string{"analysis.workers"},
		},
		{
			name: "cell size out of range",
			mutate: func(c *Config) {
				c.Analysis.CellSizeMeters = -1
			},
			mode:    "analyze",
			wantErr: []string{"analysis.cell_size_meters"},
		},
		{
			name: "serve requires port",
			mutate: func(c *Config) {
				c.Server.Port = 0
			},
			mode:    "serve",
			wantErr: []string{"server.port"},
		},
		{
			name: "problems accumulate",
			mutate: func(c *Config) {
				c.Store.Driver = "oracle"
				c.Analysis.Workers = 100
				c.Retry.Multiplier = 0.5
			},
			mode:    "analyze",
			wantErr: []string{"store.driver", "analysis.workers", "retry.multiplier"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate(tt.mode)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validConfig().Validate("launch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	assert.Error(t, err)
}
