package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Imagery ImageryConfig `yaml:"imagery" mapstructure:"imagery"`
	Collect CollectConfig `yaml:"collect" mapstructure:"collect"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the graph store backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32       `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32       `yaml:"min_conns" mapstructure:"min_conns"`
	Neo4j       Neo4jConfig `yaml:"neo4j" mapstructure:"neo4j"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// ImageryConfig configures the remote imagery reduction service.
type ImageryConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BreakerTrips   int     `yaml:"breaker_trips" mapstructure:"breaker_trips"`
	BreakerResetMS int     `yaml:"breaker_reset_ms" mapstructure:"breaker_reset_ms"`
}

// CollectConfig configures the measurement collection worker pool.
type CollectConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	WindowDays     int    `yaml:"window_days" mapstructure:"window_days"`
	BoundaryFile   string `yaml:"boundary_file" mapstructure:"boundary_file"`
}

// IngestConfig configures normalization and loading.
type IngestConfig struct {
	MissingDir    string `yaml:"missing_dir" mapstructure:"missing_dir"`
	GapFillDays   int    `yaml:"gap_fill_days" mapstructure:"gap_fill_days"`
	MissingFormat string `yaml:"missing_format" mapstructure:"missing_format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// CacheConfig configures the optional Redis compose cache.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLSecs       int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// Enabled reports whether a Redis address was configured.
func (c CacheConfig) Enabled() bool { return c.RedisAddr != "" && c.TTLSecs > 0 }

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "neo4j":
		if c.Store.Neo4j.URI == "" {
			return eris.New("config: store.neo4j.uri is required for the neo4j driver")
		}
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			return eris.Errorf("config: store.database_url is required for the %s driver", c.Store.Driver)
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Collect.MaxConcurrency < 1 {
		return eris.New("config: collect.max_concurrency must be at least 1")
	}
	return nil
}

// Load reads configuration from config.yaml, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENVGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "neo4j")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("store.neo4j.username", "neo4j")
	v.SetDefault("store.neo4j.password", "")
	v.SetDefault("store.neo4j.database", "neo4j")
	v.SetDefault("imagery.base_url", "http://localhost:8090")
	v.SetDefault("imagery.api_key", "")
	v.SetDefault("imagery.timeout_secs", 120)
	v.SetDefault("imagery.rate_limit", 5.0)
	v.SetDefault("imagery.max_retries", 3)
	v.SetDefault("imagery.breaker_trips", 5)
	v.SetDefault("imagery.breaker_reset_ms", 30000)
	v.SetDefault("collect.max_concurrency", 8)
	v.SetDefault("collect.window_days", 7)
	v.SetDefault("collect.boundary_file", "")
	v.SetDefault("ingest.missing_dir", ".")
	v.SetDefault("ingest.gap_fill_days", 2)
	v.SetDefault("ingest.missing_format", "csv")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_secs", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger sets up the global zap logger based on config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
