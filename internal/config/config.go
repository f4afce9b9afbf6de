// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HARVEST_HARVEST_MAX_CONCURRENCY.
const EnvPrefix = "HARVEST"

// Supported backends.
const (
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sites    SitesConfig    `mapstructure:"sites"`
}

// HarvestConfig governs a single pipeline run.
type HarvestConfig struct {
	Site           string `mapstructure:"site"`
	Input          string `mapstructure:"input"`
	OutputDir      string `mapstructure:"output_dir"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	RetryCeiling   int    `mapstructure:"retry_ceiling"`
	Resume         bool   `mapstructure:"resume"`
	RetryFailed    bool   `mapstructure:"retry_failed"`
	Overwrite      bool   `mapstructure:"overwrite"`
	AggregateFile  string `mapstructure:"aggregate_file"`
	SinkBuffer     int    `mapstructure:"sink_buffer"`
}

// HTTPConfig configures outbound requests to museum sites.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the browser used for search discovery.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// LedgerConfig selects where progress checkpoints live.
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig selects where records and assets are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for resolution notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig exposes the ops endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SitesConfig overrides per-site endpoints.
type SitesConfig struct {
	Vanda     VandaConfig `mapstructure:"vanda"`
	Wallace   SiteConfig  `mapstructure:"wallace"`
	Hermitage SiteConfig  `mapstructure:"hermitage"`
}

// VandaConfig points at the V&A API and image host.
type VandaConfig struct {
	APIURL   string `mapstructure:"api_url"`
	MediaURL string `mapstructure:"media_url"`
}

// SiteConfig points at a scraped site.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// NewViper returns a Viper instance with defaults and environment overrides
// registered. Callers may bind flags onto it before LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom reads path (if set) into v and decodes the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.site", "")
	v.SetDefault("harvest.input", "")
	v.SetDefault("harvest.output_dir", "output")
	v.SetDefault("harvest.max_concurrency", 10)
	v.SetDefault("harvest.retry_ceiling", 3)
	v.SetDefault("harvest.resume", true)
	v.SetDefault("harvest.retry_failed", false)
	v.SetDefault("harvest.overwrite", false)
	v.SetDefault("harvest.aggregate_file", "harvest.csv")
	v.SetDefault("harvest.sink_buffer", 64)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "heritage-harvester/0.1")
	v.SetDefault("http.requests_per_second", 2)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("ledger.table", "harvest_ledger")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "harvest-records")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("sites.vanda.api_url", "")
	v.SetDefault("sites.vanda.media_url", "")
	v.SetDefault("sites.wallace.base_url", "")
	v.SetDefault("sites.hermitage.base_url", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.Site == "" {
		return fmt.Errorf("harvest.site must be set")
	}
	if c.Harvest.Input == "" {
		return fmt.Errorf("harvest.input must be set")
	}
	if c.Harvest.MaxConcurrency <= 0 {
		return fmt.Errorf("harvest.max_concurrency must be > 0")
	}
	if c.Harvest.RetryCeiling <= 0 {
		return fmt.Errorf("harvest.retry_ceiling must be > 0")
	}
	if c.Harvest.AggregateFile == "" {
		return fmt.Errorf("harvest.aggregate_file must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Harvest.OutputDir == "" {
			return fmt.Errorf("harvest.output_dir must be set for the local storage backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs storage backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	switch c.Ledger.Backend {
	case BackendFile:
		if c.Harvest.OutputDir == "" {
			return fmt.Errorf("harvest.output_dir must be set for the file ledger backend")
		}
	case BackendPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn must be set for the postgres ledger backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ledger.backend %q is not one of file, postgres, memory", c.Ledger.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavigationTimeout converts the headless timeout into a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
