// Package config loads the service configuration from an optional YAML
// file with environment variable overrides. A .env file, if present,
// is folded into the environment at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinioConfig contains connection details for an S3-compatible image store.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// StoreConfig selects and configures the image store backend.
type StoreConfig struct {
	// Type is "local" (default) or "minio".
	Type  string       `yaml:"type"`
	Minio *MinioConfig `yaml:"minio,omitempty"`
}

// Config is the root service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// BaseURL is the externally visible URL prefix used to build
	// image links in responses.
	BaseURL string `yaml:"base_url"`

	// ImagesDir is the directory of persisted images (local backend).
	ImagesDir string `yaml:"images_dir"`

	// CacheDir is the directory for derived feature vector files.
	CacheDir string `yaml:"cache_dir"`

	// RequestTTLSecs bounds the lifetime of a pending find request.
	RequestTTLSecs int `yaml:"request_ttl_secs"`

	// SweepIntervalSecs is the cadence of the registry expiry sweep.
	SweepIntervalSecs int `yaml:"sweep_interval_secs"`

	// RefreshIntervalSecs is the cadence of the store refresh.
	RefreshIntervalSecs int `yaml:"refresh_interval_secs"`

	// FetchTimeoutSecs bounds the remote image download.
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs"`

	// MaxWorkers bounds concurrent feature extraction during refresh.
	MaxWorkers int `yaml:"max_workers"`

	Store StoreConfig `yaml:"store"`
}

// RequestTTL returns the pending request lifetime.
func (c *Config) RequestTTL() time.Duration {
	return time.Duration(c.RequestTTLSecs) * time.Second
}

// SweepInterval returns the registry sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// RefreshInterval returns the store refresh cadence.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}

// FetchTimeout returns the remote download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// Load reads the config from path. A missing file yields defaults.
// Environment variables override file values either way.
func Load(path string) (*Config, error) {
	// Fold a .env file into the environment, if one exists.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Addr:                ":8080",
		BaseURL:             "http://localhost:8080",
		ImagesDir:           "images",
		CacheDir:            "cache",
		RequestTTLSecs:      180,
		SweepIntervalSecs:   60,
		RefreshIntervalSecs: 120,
		FetchTimeoutSecs:    15,
		MaxWorkers:          4,
		Store:               StoreConfig{Type: "local"},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.ImagesDir, "IMAGES_DIR_PATH")
	setString(&cfg.CacheDir, "CACHE_DIR_PATH")
	setString(&cfg.Addr, "SIMIGO_ADDR")
	setString(&cfg.BaseURL, "SIMIGO_BASE_URL")
	setInt(&cfg.RequestTTLSecs, "SIMIGO_REQUEST_TTL_SECS")
	setInt(&cfg.SweepIntervalSecs, "SIMIGO_SWEEP_INTERVAL_SECS")
	setInt(&cfg.RefreshIntervalSecs, "SIMIGO_REFRESH_INTERVAL_SECS")
	setInt(&cfg.FetchTimeoutSecs, "SIMIGO_FETCH_TIMEOUT_SECS")
	setInt(&cfg.MaxWorkers, "SIMIGO_MAX_WORKERS")
	setString(&cfg.Store.Type, "SIMIGO_STORE_TYPE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func validate(cfg *Config) error {
	if cfg.RequestTTLSecs <= 0 {
		return fmt.Errorf("request_ttl_secs must be positive, got %d", cfg.RequestTTLSecs)
	}
	if cfg.SweepIntervalSecs <= 0 {
		return fmt.Errorf("sweep_interval_secs must be positive, got %d", cfg.SweepIntervalSecs)
	}
	if cfg.RefreshIntervalSecs <= 0 {
		return fmt.Errorf("refresh_interval_secs must be positive, got %d", cfg.RefreshIntervalSecs)
	}
	switch cfg.Store.Type {
	case "local":
		if cfg.ImagesDir == "" {
			return errors.New("images_dir is required for the local store")
		}
	case "minio":
		if cfg.Store.Minio == nil || cfg.Store.Minio.Endpoint == "" || cfg.Store.Minio.Bucket == "" {
			return errors.New("minio store requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
	return nil
}
