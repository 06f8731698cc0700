package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	QuestDB    QuestDBConfig    `yaml:"questdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Providers  []ProviderConfig `yaml:"providers"`
	Health     HealthConfig     `yaml:"health"`
	Ingest     IngestConfig     `yaml:"ingest"`
	API        APIConfig        `yaml:"api"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AppConfig represents application identity configuration.
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// PostgresConfig represents the asset registry database configuration.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpen         int           `yaml:"max_open"`
	MaxIdle         int           `yaml:"max_idle"`
	Timeout         time.Duration `yaml:"timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// QuestDBConfig represents the time-series store configuration. QuestDB is
// addressed over the Postgres wire protocol on its own port.
type QuestDBConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig represents the provider read-through cache configuration.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// ProviderConfig represents one external data provider.
type ProviderConfig struct {
	Name               string        `yaml:"name"`
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	RequiresCredential bool          `yaml:"requires_credential"`
	RateLimitRequests  int           `yaml:"rate_limit_requests"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	SlidingWindow      bool          `yaml:"sliding_window"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Timeout            time.Duration `yaml:"timeout"`
}

// HealthConfig represents provider health monitoring configuration. The
// failure threshold and smoothing factor default to 5 and 0.2.
type HealthConfig struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	SmoothingAlpha   float64 `yaml:"smoothing_alpha"`
}

// IngestConfig represents bulk flat-file ingestion configuration.
type IngestConfig struct {
	DataDir        string `yaml:"data_dir"`
	CompletedDir   string `yaml:"completed_dir"`
	OHLCVBatchSize int    `yaml:"ohlcv_batch_size"`
	TradeBatchSize int    `yaml:"trade_batch_size"`
}

// APIConfig represents the read-only collaborator API configuration.
type APIConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SchedulerConfig represents the periodic provider sync configuration.
type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Spec     string `yaml:"spec"`
	Provider string `yaml:"provider"`
	Interval int    `yaml:"interval_minutes"`
	Lookback int    `yaml:"lookback_days"`
}

// MonitoringConfig represents metrics exposure configuration.
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// Load loads configuration from a YAML file. Values of the form ${VAR} are
// expanded from the environment after .env loading, so credentials never live
// in the file itself.
func Load(filename string) (*Config, error) {
	LoadEnvFiles()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = 5
	}
	if c.Health.SmoothingAlpha <= 0 || c.Health.SmoothingAlpha > 1 {
		c.Health.SmoothingAlpha = 0.2
	}
	if c.Ingest.OHLCVBatchSize <= 0 {
		c.Ingest.OHLCVBatchSize = 25000
	}
	if c.Ingest.TradeBatchSize <= 0 {
		c.Ingest.TradeBatchSize = 50000
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MigrationsPath == "" {
		c.Postgres.MigrationsPath = "migrations"
	}
	if c.QuestDB.Port == 0 {
		c.QuestDB.Port = 8812
	}
	if c.QuestDB.User == "" {
		c.QuestDB.User = "admin"
	}
	if c.QuestDB.DBName == "" {
		c.QuestDB.DBName = "qdb"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 15 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for values the engine cannot run without.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("config: postgres.host is required")
	}
	if c.QuestDB.Host == "" {
		return fmt.Errorf("config: questdb.host is required")
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d].name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %s base_url is required", p.Name)
		}
		if p.RateLimitRequests <= 0 || p.RateLimitWindow <= 0 {
			return fmt.Errorf("config: provider %s rate limit budget is required", p.Name)
		}
		if p.RequiresCredential && p.APIKey == "" {
			return fmt.Errorf("config: provider %s requires an api key", p.Name)
		}
	}
	return nil
}
