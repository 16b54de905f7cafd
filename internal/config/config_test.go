package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.DefaultModel != "default" {
		t.Errorf("Expected DefaultModel to be default, got %s", cfg.Global.DefaultModel)
	}
	if cfg.Server.Address != "0.0.0.0:8000" {
		t.Errorf("Expected Address to be 0.0.0.0:8000, got %s", cfg.Server.Address)
	}
	if cfg.Models.Path != "/app/models" {
		t.Errorf("Expected model Path to be /app/models, got %s", cfg.Models.Path)
	}
	if cfg.Models.CacheSize != 10 {
		t.Errorf("Expected CacheSize to be 10, got %d", cfg.Models.CacheSize)
	}
	if cfg.Models.LoadTimeout != 300*time.Second {
		t.Errorf("Expected LoadTimeout to be 300s, got %v", cfg.Models.LoadTimeout)
	}
	if cfg.Storage.Backend != BackendLocal {
		t.Errorf("Expected Backend to be local, got %s", cfg.Storage.Backend)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics to be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Configuration)
		wantErr error
		errMsg  string
	}{
		{
			name:   "valid config",
			modify: func(cfg *Configuration) {},
		},
		{
			name:    "zero cache size",
			modify:  func(cfg *Configuration) { cfg.Models.CacheSize = 0 },
			wantErr: errors.ErrCapacityMisconfigured,
			errMsg:  "cache_size must be greater than 0",
		},
		{
			name:    "unknown codec",
			modify:  func(cfg *Configuration) { cfg.Models.Codec = "pickle" },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "invalid codec",
		},
		{
			name:    "unknown backend",
			modify:  func(cfg *Configuration) { cfg.Storage.Backend = "azure" },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "invalid storage backend",
		},
		{
			name:    "s3 without bucket",
			modify:  func(cfg *Configuration) { cfg.Storage.Backend = BackendS3 },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "bucket is required",
		},
		{
			name: "s3 with bucket",
			modify: func(cfg *Configuration) {
				cfg.Storage.Backend = BackendS3
				cfg.Storage.S3.Bucket = "ml-models"
			},
		},
		{
			name:    "invalid log level",
			modify:  func(cfg *Configuration) { cfg.Global.LogLevel = "VERBOSE" },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "invalid log_level",
		},
		{
			name:   "lowercase log level",
			modify: func(cfg *Configuration) { cfg.Global.LogLevel = "debug" },
		},
		{
			name:    "invalid log format",
			modify:  func(cfg *Configuration) { cfg.Global.LogFormat = "xml" },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "invalid log_format",
		},
		{
			name:    "negative load timeout",
			modify:  func(cfg *Configuration) { cfg.Models.LoadTimeout = -time.Second },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "load_timeout",
		},
		{
			name:    "zero warmup concurrency",
			modify:  func(cfg *Configuration) { cfg.Models.WarmupConcurrency = 0 },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "warmup_concurrency",
		},
		{
			name:    "zero read attempts",
			modify:  func(cfg *Configuration) { cfg.Models.ReadAttempts = 0 },
			wantErr: errors.ErrInvalidConfig,
			errMsg:  "read_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !stderrors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
global:
  log_level: DEBUG
models:
  path: /srv/models
  cache_size: 3
  load_timeout: 45s
storage:
  backend: s3
  s3:
    bucket: ml-models
    prefix: prod/
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Models.Path != "/srv/models" {
		t.Errorf("Expected Path /srv/models, got %s", cfg.Models.Path)
	}
	if cfg.Models.CacheSize != 3 {
		t.Errorf("Expected CacheSize 3, got %d", cfg.Models.CacheSize)
	}
	if cfg.Models.LoadTimeout != 45*time.Second {
		t.Errorf("Expected LoadTimeout 45s, got %v", cfg.Models.LoadTimeout)
	}
	if cfg.Storage.S3.Bucket != "ml-models" {
		t.Errorf("Expected bucket ml-models, got %s", cfg.Storage.S3.Bucket)
	}
	// Unset keys keep their defaults.
	if cfg.Models.Codec != "json" {
		t.Errorf("Expected default codec json, got %s", cfg.Models.Codec)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for a missing file, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("models: [unclosed"), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if err := cfg.LoadFromFile(path); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for malformed YAML, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MODEL_PATH", "/data/models")
	t.Setenv("MODEL_CACHE_SIZE", "4")
	t.Setenv("MODEL_TIMEOUT", "60")
	t.Setenv("DEFAULT_MODEL", "churn")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9000")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("AWS_BUCKET", "ml-models")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("READ_ATTEMPTS", "5")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Models.Path != "/data/models" {
		t.Errorf("Expected Path /data/models, got %s", cfg.Models.Path)
	}
	if cfg.Models.CacheSize != 4 {
		t.Errorf("Expected CacheSize 4, got %d", cfg.Models.CacheSize)
	}
	if cfg.Models.LoadTimeout != time.Minute {
		t.Errorf("Expected LoadTimeout 1m, got %v", cfg.Models.LoadTimeout)
	}
	if cfg.Global.DefaultModel != "churn" {
		t.Errorf("Expected DefaultModel churn, got %s", cfg.Global.DefaultModel)
	}
	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Server.Address != "0.0.0.0:9000" {
		t.Errorf("Expected Address 0.0.0.0:9000, got %s", cfg.Server.Address)
	}
	if cfg.Storage.Backend != BackendS3 || cfg.Storage.S3.Bucket != "ml-models" {
		t.Errorf("Expected s3 backend with bucket ml-models, got %s/%s", cfg.Storage.Backend, cfg.Storage.S3.Bucket)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics to be disabled")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Models.ReadAttempts != 5 {
		t.Errorf("Expected ReadAttempts 5, got %d", cfg.Models.ReadAttempts)
	}
}

func TestLoadFromEnv_PrefixWins(t *testing.T) {
	t.Setenv("MODEL_CACHE_SIZE", "4")
	t.Setenv("MODELSERVE_MODEL_CACHE_SIZE", "7")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Models.CacheSize != 7 {
		t.Errorf("Expected CacheSize 7, got %d", cfg.Models.CacheSize)
	}
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	for name, val := range map[string]string{
		"MODEL_CACHE_SIZE": "ten",
		"MODEL_TIMEOUT":    "5m",
		"PORT":             "http",
		"ENABLE_METRICS":   "sometimes",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, val)
			err := NewDefault().LoadFromEnv()
			if !stderrors.Is(err, errors.ErrInvalidConfig) {
				t.Errorf("Expected INVALID_CONFIG for %s=%s, got %v", name, val, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("MODEL_CACHE_SIZE", "0")
	if _, err := Load(""); !stderrors.Is(err, errors.ErrCapacityMisconfigured) {
		t.Errorf("Expected CAPACITY_MISCONFIGURED, got %v", err)
	}
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := NewDefault()
	cfg.Models.CacheSize = 25

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Models.CacheSize != 25 {
		t.Errorf("Expected CacheSize 25, got %d", loaded.Models.CacheSize)
	}
	if loaded.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Expected ReadTimeout 10s, got %v", loaded.Server.ReadTimeout)
	}
}
