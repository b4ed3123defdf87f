package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/gltrace/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
gltrace:
  log:
    level: "debug"
  codec:
    verify_crc: false
    blob_threshold: 1024
  replay:
    benchmark: true
    driver_mode: "instrumented"
    resize:
      max_attempts: 5
      retry_interval: "2ms"
  blobs:
    dir: "/tmp/blobs"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Codec.VerifyCRC {
		t.Errorf("Expected verify_crc false")
	}
	if cfg.Codec.BlobThreshold != 1024 {
		t.Errorf("Expected blob_threshold 1024, got %d", cfg.Codec.BlobThreshold)
	}
	if !cfg.Replay.Benchmark || cfg.Replay.DriverMode != "instrumented" {
		t.Errorf("Unexpected replay config: %+v", cfg.Replay)
	}
	if cfg.Replay.Resize.MaxAttempts != 5 {
		t.Errorf("Expected max_attempts 5, got %d", cfg.Replay.Resize.MaxAttempts)
	}
	if cfg.Replay.Resize.Interval() != 2*time.Millisecond {
		t.Errorf("Expected interval 2ms, got %v", cfg.Replay.Resize.Interval())
	}
	if cfg.Blobs.Dir != "/tmp/blobs" {
		t.Errorf("Expected blobs dir /tmp/blobs, got %s", cfg.Blobs.Dir)
	}
	// untouched keys keep their defaults
	if cfg.Blobs.CacheEntries != 128 {
		t.Errorf("Expected default cache_entries 128, got %d", cfg.Blobs.CacheEntries)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path, got %s", cfg.Metrics.Path)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Log.Level)
	}
	if !cfg.Codec.VerifyCRC {
		t.Errorf("Expected verify_crc true by default")
	}
	if cfg.Replay.DriverMode != "direct" {
		t.Errorf("Expected driver_mode direct, got %s", cfg.Replay.DriverMode)
	}
	if cfg.Replay.Resize.Interval() != 10*time.Millisecond {
		t.Errorf("Expected interval 10ms, got %v", cfg.Replay.Resize.Interval())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "gltrace:\n  log:\n    level: loud\n"},
		{"driver mode", "gltrace:\n  replay:\n    driver_mode: turbo\n"},
		{"max attempts", "gltrace:\n  replay:\n    resize:\n      max_attempts: 0\n"},
		{"retry interval", "gltrace:\n  replay:\n    resize:\n      retry_interval: soon\n"},
		{"blob threshold", "gltrace:\n  codec:\n    blob_threshold: -1\n"},
		{"file path", "gltrace:\n  log:\n    file:\n      enabled: true\n      path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GLTRACE_REPLAY_BENCHMARK", "true")
	t.Setenv("GLTRACE_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "gltrace:\n  log:\n    level: debug\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Replay.Benchmark {
		t.Errorf("Expected env to enable benchmark")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env log level warn, got %s", cfg.Log.Level)
	}
}
