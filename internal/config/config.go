package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// EnvPrefix prefixes every service-specific environment variable.
const EnvPrefix = "MODELSERVE_"

// Configuration represents the complete service configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Server  ServerConfig  `yaml:"server"`
	Models  ModelsConfig  `yaml:"models"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GlobalConfig represents process-wide settings
type GlobalConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	DefaultModel string `yaml:"default_model"`
	Version      string `yaml:"version"`
}

// ServerConfig represents the HTTP API settings
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableCORS      bool          `yaml:"enable_cors"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	APIKey          string        `yaml:"api_key"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
}

// ModelsConfig represents model cache settings
type ModelsConfig struct {
	Path              string        `yaml:"path"`
	Extension         string        `yaml:"extension"`
	Codec             string        `yaml:"codec"`
	CacheSize         int           `yaml:"cache_size"`
	LoadTimeout       time.Duration `yaml:"load_timeout"`
	Warmup            bool          `yaml:"warmup"`
	WarmupConcurrency int           `yaml:"warmup_concurrency"`
	ReadAttempts      int           `yaml:"read_attempts"`
}

// StorageConfig selects the artifact store backend
type StorageConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

// S3Config represents S3 store settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:     "INFO",
			LogFormat:    "json",
			DefaultModel: "default",
			Version:      "1.0.0",
		},
		Server: ServerConfig{
			Address:         "0.0.0.0:8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			EnableCORS:      true,
			CORSOrigins:     []string{"*"},
			MaxBatchSize:    100,
		},
		Models: ModelsConfig{
			Path:              "/app/models",
			Extension:         ".model",
			Codec:             artifact.CodecJSON,
			CacheSize:         10,
			LoadTimeout:       300 * time.Second,
			Warmup:            true,
			WarmupConcurrency: 4,
			ReadAttempts:      3,
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			S3: S3Config{
				MaxRetries: 3,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "ml_api",
			Path:      "/metrics",
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the
// environment, in that order, and validates the result.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "failed to parse config file")
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Each setting
// reads the MODELSERVE_ variable first and then the bare name the service
// has always accepted.
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val, ok := lookup("LOG_LEVEL"); ok {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val, ok := lookup("LOG_FORMAT"); ok {
		c.Global.LogFormat = strings.ToLower(val)
	}
	if val, ok := lookup("DEFAULT_MODEL"); ok {
		c.Global.DefaultModel = val
	}
	if val, ok := lookup("APP_VERSION"); ok {
		c.Global.Version = val
	}

	// Server settings
	if val, ok := lookup("ADDRESS"); ok {
		c.Server.Address = val
	}
	if val, ok := lookup("HOST"); ok {
		_, port := splitAddress(c.Server.Address)
		c.Server.Address = net.JoinHostPort(val, port)
	}
	if val, ok := lookup("PORT"); ok {
		if _, err := strconv.Atoi(val); err != nil {
			return envError("PORT", val, err)
		}
		host, _ := splitAddress(c.Server.Address)
		c.Server.Address = net.JoinHostPort(host, val)
	}
	if val, ok := lookup("ENABLE_CORS"); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("ENABLE_CORS", val, err)
		}
		c.Server.EnableCORS = enabled
	}
	if val, ok := lookup("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(val)
	}
	if val, ok := lookup("API_KEY"); ok {
		c.Server.APIKey = val
	}

	// Model settings
	if val, ok := lookup("MODEL_PATH"); ok {
		c.Models.Path = val
	}
	if val, ok := lookup("MODEL_EXTENSION"); ok {
		c.Models.Extension = val
	}
	if val, ok := lookup("MODEL_CODEC"); ok {
		c.Models.Codec = strings.ToLower(val)
	}
	if val, ok := lookup("MODEL_CACHE_SIZE"); ok {
		size, err := strconv.Atoi(val)
		if err != nil {
			return envError("MODEL_CACHE_SIZE", val, err)
		}
		c.Models.CacheSize = size
	}
	if val, ok := lookup("MODEL_TIMEOUT"); ok {
		secs, err := strconv.Atoi(val)
		if err != nil {
			return envError("MODEL_TIMEOUT", val, err)
		}
		c.Models.LoadTimeout = time.Duration(secs) * time.Second
	}
	if val, ok := lookup("LOAD_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("LOAD_TIMEOUT", val, err)
		}
		c.Models.LoadTimeout = d
	}
	if val, ok := lookup("WARMUP"); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("WARMUP", val, err)
		}
		c.Models.Warmup = enabled
	}
	if val, ok := lookup("READ_ATTEMPTS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("READ_ATTEMPTS", val, err)
		}
		c.Models.ReadAttempts = n
	}

	// Storage settings
	if val, ok := lookup("STORAGE_BACKEND"); ok {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val, ok := lookup("AWS_BUCKET"); ok {
		c.Storage.S3.Bucket = val
	}
	if val, ok := lookup("S3_PREFIX"); ok {
		c.Storage.S3.Prefix = val
	}
	if val, ok := lookup("S3_REGION"); ok {
		c.Storage.S3.Region = val
	}
	if val, ok := lookup("S3_ENDPOINT"); ok {
		c.Storage.S3.Endpoint = val
	}

	// Metrics settings
	if val, ok := lookup("ENABLE_METRICS"); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("ENABLE_METRICS", val, err)
		}
		c.Metrics.Enabled = enabled
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Models.CacheSize <= 0 {
		return errors.Newf(errors.ErrCodeCapacityMisconfigured,
			"cache_size must be greater than 0, got %d", c.Models.CacheSize)
	}

	if c.Models.LoadTimeout < 0 {
		return invalid("load_timeout must not be negative")
	}

	if c.Models.WarmupConcurrency <= 0 {
		return invalid("warmup_concurrency must be greater than 0")
	}

	if c.Models.ReadAttempts <= 0 {
		return invalid("read_attempts must be greater than 0")
	}

	if !artifact.ValidCodec(c.Models.Codec) {
		return invalid("invalid codec: %s (must be one of: %s, %s)",
			c.Models.Codec, artifact.CodecJSON, artifact.CodecGob)
	}

	if c.Server.Address == "" {
		return invalid("server address must not be empty")
	}

	if c.Server.MaxBatchSize <= 0 {
		return invalid("max_batch_size must be greater than 0")
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Models.Path == "" {
			return invalid("models.path is required for the local backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return invalid("invalid storage backend: %s (must be one of: %s, %s)",
			c.Storage.Backend, BackendLocal, BackendS3)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics namespace must not be empty when metrics are enabled")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Global.LogFormat != "json" && c.Global.LogFormat != "console" {
		return invalid("invalid log_format: %s (must be json or console)", c.Global.LogFormat)
	}

	return nil
}

func lookup(name string) (string, bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		return val, true
	}
	if val := os.Getenv(name); val != "" {
		return val, true
	}
	return "", false
}

func splitAddress(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", "8000"
	}
	return host, port
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envError(name, val string, err error) error {
	return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid value for "+name).
		WithDetail("value", val)
}

func invalid(format string, args ...any) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, format, args...)
}
