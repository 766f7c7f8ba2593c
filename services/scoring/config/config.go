// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from the environment and an
// optional config file.
//
// # Description
//
// Every setting has a production default and an environment override
// prefixed with HEATGUARD_, so HEATGUARD_PORT overrides port. A YAML
// file can supply the same keys when a path is given; environment
// variables win over the file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// devSecretKey is the development placeholder; Validate rejects it in
// production.
const devSecretKey = "dev-secret-change-me"

// Config is the full service configuration.
type Config struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`

	// APIKeyHeader names the credential header.
	APIKeyHeader string `mapstructure:"api_key_header"`

	// SecretKey is reserved for signed-token support. The development
	// default must be overridden in production.
	SecretKey string `mapstructure:"secret_key"`

	// AdminAPIKey grants every permission. Required outside development.
	AdminAPIKey string `mapstructure:"admin_api_key"`

	// WriteAPIKey and ReadAPIKey grant scoped access; either may be
	// empty when a deployment hands out only the admin key.
	WriteAPIKey string `mapstructure:"write_api_key"`
	ReadAPIKey  string `mapstructure:"read_api_key"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`

	// RedisURL enables the shared rate-limit window; empty runs the
	// in-memory fallback only.
	RedisURL string `mapstructure:"redis_url"`

	BatchSizeLimit           int     `mapstructure:"batch_size_limit"`
	MaxConcurrentPredictions int     `mapstructure:"max_concurrent_predictions"`
	ConservativeBias         float64 `mapstructure:"conservative_bias"`

	// PredictionTimeout bounds one sample's trip through the scoring
	// pipeline, in seconds.
	PredictionTimeout int `mapstructure:"prediction_timeout"`

	// HeatIndexThresholdWarning and HeatIndexThresholdDanger are the °F
	// policy thresholds for appended advice, attention flagging, and
	// high-risk alert emission.
	HeatIndexThresholdWarning float64 `mapstructure:"heat_index_threshold_warning"`
	HeatIndexThresholdDanger  float64 `mapstructure:"heat_index_threshold_danger"`

	// Scheduler settings for the asynchronous job API.
	SchedulerWorkers   int           `mapstructure:"scheduler_workers"`
	SchedulerChunkSize int           `mapstructure:"scheduler_chunk_size"`
	JobRetention       time.Duration `mapstructure:"job_retention"`

	// ModelDir holds classifier artifacts; ModelCacheSize caps how many
	// stay cached; AllowSyntheticModel falls back to the built-in
	// classifier when the default artifact is absent.
	ModelDir            string `mapstructure:"model_dir"`
	ModelCacheSize      int    `mapstructure:"model_cache_size"`
	AllowSyntheticModel bool   `mapstructure:"allow_synthetic_model"`

	// JournalPath locates the compliance journal; empty disables it.
	JournalPath     string `mapstructure:"journal_path"`
	JournalMaxBytes int64  `mapstructure:"journal_max_bytes"`

	// OTELEndpoint is the OTLP gRPC collector; empty disables tracing.
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

// Load reads configuration with defaults, an optional file, and
// environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEATGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8093)
	v.SetDefault("environment", "development")
	v.SetDefault("api_key_header", "X-API-Key")
	v.SetDefault("secret_key", devSecretKey)
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("batch_size_limit", 1000)
	v.SetDefault("max_concurrent_predictions", 100)
	v.SetDefault("conservative_bias", 0.15)
	v.SetDefault("prediction_timeout", 30)
	v.SetDefault("heat_index_threshold_warning", 80.0)
	v.SetDefault("heat_index_threshold_danger", 90.0)
	v.SetDefault("scheduler_workers", 2)
	v.SetDefault("scheduler_chunk_size", 100)
	v.SetDefault("job_retention", 24*time.Hour)
	v.SetDefault("model_dir", "/var/lib/heatguard/models")
	v.SetDefault("model_cache_size", 10)
	v.SetDefault("allow_synthetic_model", true)
	v.SetDefault("journal_path", "/var/lib/heatguard/compliance/journal.ndjson")
	v.SetDefault("journal_max_bytes", int64(50*1024*1024))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces cross-field rules Load cannot express as defaults.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d outside [1,65535]", c.Port)
	}
	switch c.Environment {
	case "development", "testing", "production":
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.ConservativeBias < 0 || c.ConservativeBias > 1 {
		return fmt.Errorf("conservative_bias %.2f outside [0,1]", c.ConservativeBias)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if c.PredictionTimeout < 1 {
		return fmt.Errorf("prediction_timeout must be positive")
	}
	if c.ModelCacheSize < 1 {
		return fmt.Errorf("model_cache_size must be positive")
	}
	if c.HeatIndexThresholdWarning <= 0 || c.HeatIndexThresholdWarning >= c.HeatIndexThresholdDanger {
		return fmt.Errorf("heat_index_threshold_warning %.1f must be positive and below the danger threshold %.1f",
			c.HeatIndexThresholdWarning, c.HeatIndexThresholdDanger)
	}
	if c.Production() && c.AdminAPIKey == "" && c.WriteAPIKey == "" && c.ReadAPIKey == "" {
		return fmt.Errorf("production requires at least one API key")
	}
	if c.Production() && c.SecretKey == devSecretKey {
		return fmt.Errorf("production requires overriding secret_key")
	}
	return nil
}

// Production reports whether the service runs in production mode.
func (c Config) Production() bool {
	return c.Environment == "production"
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
