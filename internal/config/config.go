// Package config loads crawler configuration from defaults, an optional YAML
// file, and CITECRAWL_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/citescope/citation-crawler/internal/crawl"
	"github.com/citescope/citation-crawler/internal/observability"
	"github.com/citescope/citation-crawler/internal/progress"
	"github.com/citescope/citation-crawler/internal/provider/openalex"
	"github.com/citescope/citation-crawler/internal/provider/semanticscholar"
	"github.com/citescope/citation-crawler/internal/retraction"
	"github.com/citescope/citation-crawler/internal/sampler"
	"github.com/citescope/citation-crawler/internal/store"
)

// SSL mode constants for database connections.
const (
	SSLModeRequire = "require"
	SSLModeDisable = "disable"
)

// Snapshot backend names.
const (
	SnapshotBackendNone     = "none"
	SnapshotBackendFS       = "fs"
	SnapshotBackendPostgres = "postgres"
	SnapshotBackendBoth     = "both"
)

// Config is the root configuration for the citation crawler.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Store      StoreConfig       `mapstructure:"store"`
	Crawl      crawl.Config      `mapstructure:"crawl"`
	Sampler    sampler.Config    `mapstructure:"sampler"`
	Provider   ProviderConfig    `mapstructure:"provider"`
	Retraction retraction.Config `mapstructure:"retraction"`
	Snapshot   SnapshotConfig    `mapstructure:"snapshot"`
	Progress   ProgressConfig    `mapstructure:"progress"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to.
	Host string `mapstructure:"host"`
	// HTTPPort is the control API port.
	HTTPPort int `mapstructure:"http_port" validate:"gt=0,lte=65535"`
	// MetricsPort is the Prometheus metrics port.
	MetricsPort int `mapstructure:"metrics_port" validate:"gt=0,lte=65535"`
	// ReadTimeout is the maximum duration for reading a request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddress returns the control API listen address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics listen address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required"`
	// Port is the PostgreSQL server port.
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password. Set it through the environment in
	// production.
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required"`
	// SSLMode controls SSL connection security (require, verify-ca,
	// verify-full, disable). Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time before a connection closes.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between idle connection checks.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// StoreConfig holds record store configuration.
type StoreConfig struct {
	// MinAbstractLength is the minimum length for stored abstracts.
	MinAbstractLength int `mapstructure:"min_abstract_length" validate:"gte=0"`
	// ForbidRetractedInSampler excludes retracted papers from sampling.
	ForbidRetractedInSampler bool `mapstructure:"forbid_retracted_in_sampler"`
	// ForbidRetractedInReporting excludes retracted papers from reporting.
	ForbidRetractedInReporting bool `mapstructure:"forbid_retracted_in_reporting"`
}

// Store converts to the record store's config type.
func (c *StoreConfig) Store() store.Config {
	return store.Config{
		MinAbstractLength:          c.MinAbstractLength,
		ForbidRetractedInSampler:   c.ForbidRetractedInSampler,
		ForbidRetractedInReporting: c.ForbidRetractedInReporting,
	}
}

// ProviderConfig selects and configures the paper provider.
type ProviderConfig struct {
	// Name is the active provider (openalex, semanticscholar).
	Name string `mapstructure:"name" validate:"oneof=openalex semanticscholar"`

	OpenAlex        openalex.Config        `mapstructure:"openalex"`
	SemanticScholar semanticscholar.Config `mapstructure:"semantic_scholar"`
}

// SnapshotConfig selects where crawl snapshots are written.
type SnapshotConfig struct {
	// Backend is one of none, fs, postgres, both.
	Backend string `mapstructure:"backend" validate:"oneof=none fs postgres both"`
	// Dir is the snapshot directory for the fs backend.
	Dir string `mapstructure:"dir"`
}

// ProgressConfig configures progress reporting sinks. The log and metrics
// sinks are always on; Kafka is opt-in.
type ProgressConfig struct {
	KafkaEnabled bool                 `mapstructure:"kafka_enabled"`
	Kafka        progress.KafkaConfig `mapstructure:"kafka"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// Observability converts to the logger constructor's config type.
func (c *LoggingConfig) Observability() observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddSource:  c.AddSource,
		TimeFormat: c.TimeFormat,
	}
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from defaults, an optional config file, and
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CITECRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/citation-crawler")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, env vars and defaults cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets overrides API keys from environment variables so they never
// need to live in a config file.
func loadSecrets(cfg *Config) {
	if key := os.Getenv("CITECRAWL_PROVIDER_SEMANTIC_SCHOLAR_API_KEY"); key != "" {
		cfg.Provider.SemanticScholar.APIKey = key
	}
	if key := os.Getenv("CITECRAWL_RETRACTION_API_KEY"); key != "" {
		cfg.Retraction.APIKey = key
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "crawler")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "citation_crawler")
	// Default to "require"; use CITECRAWL_DATABASE_SSL_MODE=disable locally.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Store defaults
	v.SetDefault("store.min_abstract_length", 30)
	v.SetDefault("store.forbid_retracted_in_sampler", true)
	v.SetDefault("store.forbid_retracted_in_reporting", false)

	// Crawl defaults
	v.SetDefault("crawl.run_name", "crawl")
	v.SetDefault("crawl.max_iterations", 10)
	v.SetDefault("crawl.max_table_size", 0)
	v.SetDefault("crawl.keyword_filters", []string{})
	v.SetDefault("crawl.seed_ids", []string{})

	// Sampler defaults
	v.SetDefault("sampler.batch_size", 50)

	// Provider defaults
	v.SetDefault("provider.name", "openalex")
	v.SetDefault("provider.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("provider.openalex.timeout", "30s")
	v.SetDefault("provider.openalex.rate_limit", 10.0)
	v.SetDefault("provider.openalex.burst_size", 10)
	v.SetDefault("provider.openalex.max_citations", 50)
	v.SetDefault("provider.openalex.concurrency", 4)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("provider.semantic_scholar.base_url", "https://api.semanticscholar.org")
	v.SetDefault("provider.semantic_scholar.timeout", "30s")
	v.SetDefault("provider.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("provider.semantic_scholar.burst_size", 1)
	v.SetDefault("provider.semantic_scholar.concurrency", 2)

	// Retraction defaults; empty base URL disables retraction checking.
	v.SetDefault("retraction.base_url", "")
	v.SetDefault("retraction.timeout", "30s")
	v.SetDefault("retraction.rate_limit", 5.0)
	v.SetDefault("retraction.batch_size", 100)

	// Snapshot defaults
	v.SetDefault("snapshot.backend", SnapshotBackendFS)
	v.SetDefault("snapshot.dir", "snapshots")

	// Progress defaults
	v.SetDefault("progress.kafka_enabled", false)
	v.SetDefault("progress.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("progress.kafka.topic", "crawler.progress")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid field %s: failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Snapshot.Backend == SnapshotBackendFS || c.Snapshot.Backend == SnapshotBackendBoth {
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot dir is required for the %s backend", c.Snapshot.Backend)
		}
	}

	if c.Progress.KafkaEnabled && len(c.Progress.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka progress is enabled")
	}

	return nil
}
