package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "neo4j", cfg.Store.Driver)
	assert.Equal(t, "neo4j://localhost:7687", cfg.Store.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Store.Neo4j.Database)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Collect.MaxConcurrency)
	assert.Equal(t, 7, cfg.Collect.WindowDays)
	assert.Equal(t, 2, cfg.Ingest.GapFillDays)
	assert.Equal(t, "csv", cfg.Ingest.MissingFormat)
	assert.Equal(t, 3, cfg.Imagery.MaxRetries)
	assert.InDelta(t, 5.0, cfg.Imagery.RateLimit, 0.001)
	assert.False(t, cfg.Cache.Enabled())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: graph.db
log:
  level: debug
  format: console
server:
  port: 9090
collect:
  max_concurrency: 3
cache:
  redis_addr: localhost:6379
  ttl_secs: 60
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "graph.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Collect.MaxConcurrency)
	assert.True(t, cfg.Cache.Enabled())
	// Defaults still apply for unset values
	assert.Equal(t, 7, cfg.Collect.WindowDays)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9090\n"), 0644))
	t.Setenv("ENVGRAPH_SERVER_PORT", "7070")
	t.Setenv("ENVGRAPH_STORE_NEO4J_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Store.Neo4j.Password)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store:   StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/envgraph"},
			Collect: CollectConfig{MaxConcurrency: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid postgres", mutate: func(*Config) {}},
		{name: "valid neo4j", mutate: func(c *Config) {
			c.Store.Driver = "neo4j"
			c.Store.Neo4j.URI = "neo4j://localhost:7687"
		}},
		{name: "neo4j without uri", mutate: func(c *Config) {
			c.Store.Driver = "neo4j"
		}, wantErr: "store.neo4j.uri"},
		{name: "sqlite without url", mutate: func(c *Config) {
			c.Store.Driver = "sqlite"
			c.Store.DatabaseURL = ""
		}, wantErr: "store.database_url"},
		{name: "unknown driver", mutate: func(c *Config) {
			c.Store.Driver = "mysql"
		}, wantErr: "unknown store driver"},
		{name: "zero concurrency", mutate: func(c *Config) {
			c.Collect.MaxConcurrency = 0
		}, wantErr: "max_concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
