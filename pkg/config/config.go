// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hed1ad/logids/pkg/detectors"
	"github.com/hed1ad/logids/pkg/explain"
	"github.com/hed1ad/logids/pkg/logging"
	"github.com/hed1ad/logids/pkg/pipeline"
	"github.com/hed1ad/logids/pkg/store"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Store   store.Config   `yaml:"store"`
	Model   ModelConfig    `yaml:"model"`
	Explain explain.Config `yaml:"explain"`
	Log     LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per client
	RateBurst       int           `yaml:"rate_burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	IForest    detectors.Config          `yaml:"iforest"`
	Classifier pipeline.SupervisedConfig `yaml:"classifier"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxUploadBytes:  50 << 20,
			RateLimit:       1,
			RateBurst:       5,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: store.Config{
			Backend:  store.BackendFS,
			Path:     "data",
			Compress: true,
		},
		Model: ModelConfig{
			IForest:    detectors.DefaultConfig(),
			Classifier: pipeline.DefaultSupervisedConfig(),
		},
		Explain: explain.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be positive"))
	}
	switch c.Store.Backend {
	case store.BackendFS:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the fs backend"))
		}
	case store.BackendS3:
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("store.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of fs, s3", c.Store.Backend))
	}
	if c.Model.IForest.Estimators <= 0 || c.Model.Classifier.Estimators <= 0 {
		errs = append(errs, errors.New("model estimators must be positive"))
	}
	if c.Model.IForest.Contamination < 0 || c.Model.IForest.Contamination > 0.5 {
		errs = append(errs, errors.New("model.iforest.contamination must be in [0, 0.5]"))
	}
	if c.Model.Classifier.TestSize < 0 || c.Model.Classifier.TestSize >= 1 {
		errs = append(errs, errors.New("model.classifier.test_size must be in [0, 1)"))
	}
	if c.Explain.HighRateThreshold <= 0 {
		errs = append(errs, errors.New("explain.high_rate_threshold must be positive"))
	}
	if _, err := logging.New(c.Log.Level, c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
