// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/gltrace/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `gltrace:` root key in YAML.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Codec     CodecConfig     `mapstructure:"codec"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Blobs     BlobsConfig     `mapstructure:"blobs"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string        `mapstructure:"level"`   // trace / debug / info / warn / error
	Pattern string        `mapstructure:"pattern"` // %time %level %field %msg
	Time    string        `mapstructure:"time"`    // time layout for %time
	File    FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures rotated file output.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// ─── Codec ───

// CodecConfig controls packet decoding and the JSON projection.
type CodecConfig struct {
	VerifyCRC     bool `mapstructure:"verify_crc"`     // full CRC validation on decode
	BlobThreshold int  `mapstructure:"blob_threshold"` // bytes; larger blobs are externalized in JSON
}

// ─── Replay ───

// ReplayConfig controls the replay engine.
type ReplayConfig struct {
	Benchmark   bool         `mapstructure:"benchmark"`    // disables divergence checks
	CheckErrors bool         `mapstructure:"check_errors"` // query the driver error after check-error calls
	DriverMode  string       `mapstructure:"driver_mode"`  // direct | instrumented
	Resize      ResizeConfig `mapstructure:"resize"`
}

// ResizeConfig bounds the window resize polling loop.
type ResizeConfig struct {
	MaxAttempts   int    `mapstructure:"max_attempts"`
	RetryInterval string `mapstructure:"retry_interval"` // e.g. "10ms"

	interval time.Duration
}

// Interval returns the parsed retry interval.
func (r ResizeConfig) Interval() time.Duration {
	return r.interval
}

// ─── Blobs and snapshots ───

// BlobsConfig configures the content-addressed blob store used by the JSON
// projection.
type BlobsConfig struct {
	Dir          string `mapstructure:"dir"`
	CacheEntries int    `mapstructure:"cache_entries"`
	Compress     bool   `mapstructure:"compress"`
}

// SnapshotsConfig configures snapshot persistence.
type SnapshotsConfig struct {
	Dir string `mapstructure:"dir"`
}

// RegistryConfig selects the call descriptor source.
type RegistryConfig struct {
	SchemaFile string `mapstructure:"schema_file"` // empty = built-in table
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `gltrace: ...`.
type configRoot struct {
	GLTrace Config `mapstructure:"gltrace"`
}

// Load loads configuration from file. An empty path yields the defaults.
// Env vars use the GLTRACE_ prefix (e.g. GLTRACE_REPLAY_BENCHMARK).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.GLTrace

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the validated default configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("gltrace.log.level", "info")
	v.SetDefault("gltrace.log.pattern", "%time [%level] %msg %field\n")
	v.SetDefault("gltrace.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("gltrace.log.file.enabled", false)
	v.SetDefault("gltrace.log.file.path", "gltrace.log")
	v.SetDefault("gltrace.log.file.max_size_mb", 100)
	v.SetDefault("gltrace.log.file.max_age_days", 7)
	v.SetDefault("gltrace.log.file.max_backups", 3)
	v.SetDefault("gltrace.log.file.compress", true)

	// Codec defaults
	v.SetDefault("gltrace.codec.verify_crc", true)
	v.SetDefault("gltrace.codec.blob_threshold", 256)

	// Replay defaults
	v.SetDefault("gltrace.replay.benchmark", false)
	v.SetDefault("gltrace.replay.check_errors", true)
	v.SetDefault("gltrace.replay.driver_mode", "direct")
	v.SetDefault("gltrace.replay.resize.max_attempts", 20)
	v.SetDefault("gltrace.replay.resize.retry_interval", "10ms")

	// Blob and snapshot defaults
	v.SetDefault("gltrace.blobs.dir", "")
	v.SetDefault("gltrace.blobs.cache_entries", 128)
	v.SetDefault("gltrace.blobs.compress", true)
	v.SetDefault("gltrace.snapshots.dir", "")

	// Metrics defaults
	v.SetDefault("gltrace.metrics.enabled", false)
	v.SetDefault("gltrace.metrics.listen", ":9464")
	v.SetDefault("gltrace.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and derives runtime values.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error): %w", cfg.Log.Level, core.ErrConfigInvalid)
	}

	if cfg.Codec.BlobThreshold < 0 {
		return fmt.Errorf("codec.blob_threshold must be >= 0, got %d: %w", cfg.Codec.BlobThreshold, core.ErrConfigInvalid)
	}

	switch cfg.Replay.DriverMode {
	case "direct", "instrumented":
	default:
		return fmt.Errorf("invalid replay.driver_mode: %s (must be direct/instrumented): %w", cfg.Replay.DriverMode, core.ErrConfigInvalid)
	}

	if cfg.Replay.Resize.MaxAttempts < 1 {
		return fmt.Errorf("replay.resize.max_attempts must be >= 1, got %d: %w", cfg.Replay.Resize.MaxAttempts, core.ErrConfigInvalid)
	}
	d, err := time.ParseDuration(cfg.Replay.Resize.RetryInterval)
	if err != nil || d < 0 {
		return fmt.Errorf("invalid replay.resize.retry_interval %q: %w", cfg.Replay.Resize.RetryInterval, core.ErrConfigInvalid)
	}
	cfg.Replay.Resize.interval = d

	if cfg.Blobs.CacheEntries < 0 {
		return fmt.Errorf("blobs.cache_entries must be >= 0, got %d: %w", cfg.Blobs.CacheEntries, core.ErrConfigInvalid)
	}

	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true: %w", core.ErrConfigInvalid)
	}

	return nil
}
