// Package config loads runtime configuration with viper. Values come, in
// increasing precedence, from built-in defaults, factgraph.yaml,
// FACTGRAPH_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override: storage.dsn is read from
// FACTGRAPH_STORAGE_DSN.
const EnvPrefix = "FACTGRAPH"

// StorageConfig selects and tunes the fact store.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	CacheSize int    `mapstructure:"cache_size"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables
// it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config holds all runtime configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// New returns a viper instance with defaults and environment binding set.
// Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.dsn", "factgraph.db")
	v.SetDefault("storage.cache_size", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and returns the validated configuration.
// When file is empty, factgraph.yaml is looked up in the working directory
// and then in $HOME/.config/factgraph; a missing file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("factgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "factgraph"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers, log settings and negative cache sizes.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver != DriverMemory && c.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn: required for driver %q", c.Storage.Driver))
	}
	if c.Storage.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("storage.cache_size: must not be negative, got %d", c.Storage.CacheSize))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Logger builds a logger writing to w in the configured format.
func (c LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
