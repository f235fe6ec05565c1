package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = "8080"
	DefaultModelBaseURL    = "http://localhost:8000/models/food/"
	DefaultCacheDir        = "models"
	DefaultMaxUploadBytes  = 10 << 20
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 10 * time.Second
)

type Config struct {
	Port            string        `yaml:"port"`
	ModelBaseURL    string        `yaml:"model_base_url"`
	CacheDir        string        `yaml:"cache_dir"`
	ONNXRuntimeLib  string        `yaml:"onnxruntime_lib"`
	RefreshModel    bool          `yaml:"refresh_model"`
	EagerLoad       bool          `yaml:"eager_load"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		ModelBaseURL:    DefaultModelBaseURL,
		CacheDir:        DefaultCacheDir,
		MaxUploadBytes:  DefaultMaxUploadBytes,
		LogLevel:        DefaultLogLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables (a .env file is loaded first), in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.ModelBaseURL = getEnv("MODEL_BASE_URL", c.ModelBaseURL)
	c.CacheDir = getEnv("CACHE_DIR", c.CacheDir)
	c.ONNXRuntimeLib = getEnv("ONNXRUNTIME_LIB", c.ONNXRuntimeLib)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.RefreshModel, err = getBool("REFRESH_MODEL", c.RefreshModel); err != nil {
		return err
	}
	if c.EagerLoad, err = getBool("EAGER_LOAD", c.EagerLoad); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := os.LookupEnv("SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// Validate checks the values and normalizes the model base URL to end in a slash.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	u, err := url.Parse(c.ModelBaseURL)
	if err != nil {
		return fmt.Errorf("invalid model base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model base URL must be http or https, got %q", c.ModelBaseURL)
	}
	if !strings.HasSuffix(c.ModelBaseURL, "/") {
		c.ModelBaseURL += "/"
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}
