// Package config loads handsync configuration.
//
// Configuration comes from a YAML file (default: <data dir>/config.yaml)
// with HANDSYNC_* environment overrides, handled by viper. Loading never
// fails: a missing file means defaults, and a malformed file or value is
// reported as a ConfigurationError in the log while the defaults win. A
// broken config must not keep the sync daemon from running.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Backoff policy names accepted in the config file.
const (
	BackoffImmediate   = "immediate"
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// ConfigurationError reports a malformed config file or value. It is
// logged, never raised: the loader falls back to defaults.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bad config %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config holds all tunables for the CLI and sync daemon.
type Config struct {
	// Endpoint is the remote web-app URL. Empty disables remote sync.
	Endpoint string `mapstructure:"endpoint"`

	// DataDir holds the local database, config, and logs.
	DataDir string `mapstructure:"data_dir"`

	// PollInterval is how often the daemon's timer fires.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// StalenessThreshold gates timer-triggered syncs: a cycle only runs
	// when the last successful sync is older than this.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`

	// ProbeInterval is how often connectivity to the endpoint is probed.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// MaxRetries is the per-item retry bound for queued operations.
	MaxRetries int `mapstructure:"max_retries"`

	// RequestTimeout bounds each remote HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Backoff selects the queue drain backoff policy:
	// immediate, constant, or exponential.
	Backoff string `mapstructure:"backoff"`

	// DashboardPort serves the status dashboard when non-zero.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile is the rotating daemon log path. Empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB is the rotation threshold for the daemon log.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:            defaultDataDir(),
		PollInterval:       5 * time.Minute,
		StalenessThreshold: 10 * time.Minute,
		ProbeInterval:      30 * time.Second,
		MaxRetries:         3,
		RequestTimeout:     15 * time.Second,
		Backoff:            BackoffExponential,
		LogMaxSizeMB:       10,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".handsync"
	}
	return filepath.Join(home, ".handsync")
}

// DBPath returns the store database path.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "handsync.db")
}

// Path returns the default config file path for a data dir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load reads configuration from path, or from the default location when
// path is empty.
//
// Load never returns an error. A missing file yields defaults silently; a
// file that cannot be parsed, or a value that cannot be decoded, is logged
// as a ConfigurationError and the defaults are used. Out-of-range values
// are clamped back to their defaults individually.
func Load(path string, logger *log.Logger) Config {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	def := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path == "" {
		path = Path(def.DataDir)
	}
	v.SetConfigFile(path)

	v.SetDefault("endpoint", def.Endpoint)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("staleness_threshold", def.StalenessThreshold)
	v.SetDefault("probe_interval", def.ProbeInterval)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("backoff", def.Backoff)
	v.SetDefault("dashboard_port", def.DashboardPort)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)

	v.SetEnvPrefix("HANDSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return def
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def
		}
		logger.Printf("Warning: %v (using defaults)", &ConfigurationError{Path: path, Err: err})
		return def
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logger.Printf("Warning: %v (using defaults)", &ConfigurationError{Path: path, Err: err})
		return def
	}

	return clamp(cfg, def, logger)
}

// clamp replaces individually invalid values with their defaults.
func clamp(cfg, def Config, logger *log.Logger) Config {
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.PollInterval <= 0 {
		logger.Printf("Warning: poll_interval %v invalid, using %v", cfg.PollInterval, def.PollInterval)
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StalenessThreshold <= 0 {
		logger.Printf("Warning: staleness_threshold %v invalid, using %v", cfg.StalenessThreshold, def.StalenessThreshold)
		cfg.StalenessThreshold = def.StalenessThreshold
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.MaxRetries <= 0 {
		logger.Printf("Warning: max_retries %d invalid, using %d", cfg.MaxRetries, def.MaxRetries)
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	switch cfg.Backoff {
	case BackoffImmediate, BackoffConstant, BackoffExponential:
	default:
		logger.Printf("Warning: backoff %q unknown, using %q", cfg.Backoff, def.Backoff)
		cfg.Backoff = def.Backoff
	}
	if cfg.DashboardPort < 0 || cfg.DashboardPort > 65535 {
		cfg.DashboardPort = def.DashboardPort
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = def.LogMaxSizeMB
	}
	return cfg
}
