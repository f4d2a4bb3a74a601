// Package config loads runtime configuration from defaults, an optional
// YAML file, and EXPLORER_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultDatabasePath = ":memory:"

	DefaultPageSize = 1000
	MinPageSize     = 100
	MaxPageSize     = 10000

	DefaultMetricsMaxRows = 500000
	DefaultSampleValues   = 5

	DefaultWorkers      = 4
	DefaultBusyPolicy   = "queue"
	DefaultStatementTTL = time.Hour

	DefaultHistoryLimit = 1000
)

// Config is the resolved runtime configuration.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Pagination struct {
		DefaultPageSize int `mapstructure:"default_page_size"`
		MinPageSize     int `mapstructure:"min_page_size"`
		MaxPageSize     int `mapstructure:"max_page_size"`
	} `mapstructure:"pagination"`

	Metrics struct {
		MaxRows      int64 `mapstructure:"max_rows"`
		SampleValues int   `mapstructure:"sample_values"`
	} `mapstructure:"metrics"`

	Executor struct {
		Workers    int    `mapstructure:"workers"`
		BusyPolicy string `mapstructure:"busy_policy"`
	} `mapstructure:"executor"`

	Statements struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"statements"`

	History struct {
		Limit int `mapstructure:"limit"`
	} `mapstructure:"history"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Load resolves configuration. An empty path skips the file and uses
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("pagination.default_page_size", DefaultPageSize)
	v.SetDefault("pagination.min_page_size", MinPageSize)
	v.SetDefault("pagination.max_page_size", MaxPageSize)
	v.SetDefault("metrics.max_rows", DefaultMetricsMaxRows)
	v.SetDefault("metrics.sample_values", DefaultSampleValues)
	v.SetDefault("executor.workers", DefaultWorkers)
	v.SetDefault("executor.busy_policy", DefaultBusyPolicy)
	v.SetDefault("statements.ttl", DefaultStatementTTL)
	v.SetDefault("history.limit", DefaultHistoryLimit)
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("EXPLORER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Pagination.DefaultPageSize <= 0 {
		return errors.New("pagination.default_page_size must be positive")
	}
	if c.Pagination.MinPageSize <= 0 || c.Pagination.MaxPageSize < c.Pagination.MinPageSize {
		return errors.New("pagination page size bounds are inconsistent")
	}
	if c.Executor.Workers <= 0 {
		return errors.New("executor.workers must be positive")
	}
	switch c.Executor.BusyPolicy {
	case "queue", "reject":
	default:
		return fmt.Errorf("executor.busy_policy must be queue or reject, got %q", c.Executor.BusyPolicy)
	}
	// Cleanup loops tick at TTL/2; a non-positive TTL would panic them.
	if c.Statements.TTL <= 0 {
		return errors.New("statements.ttl must be positive")
	}
	return nil
}

// ClampPageSize bounds a requested page size to the configured limits,
// substituting the default for a non-positive request.
func (c *Config) ClampPageSize(requested int) int {
	if requested <= 0 {
		return c.Pagination.DefaultPageSize
	}
	if requested < c.Pagination.MinPageSize {
		return c.Pagination.MinPageSize
	}
	if requested > c.Pagination.MaxPageSize {
		return c.Pagination.MaxPageSize
	}
	return requested
}
