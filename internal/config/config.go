// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".mnemo/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
)

// Load reads configuration from ~/.mnemo/configs/config.json
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(configPath)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return loadFromDefaults(v)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration built from defaults only
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := loadFromDefaults(v)
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	homeDir, _ := os.UserHomeDir()
	v.SetDefault("database.sqlite_path", filepath.Join(homeDir, ".mnemo/db/mnemo.db"))

	// Embedding defaults
	v.SetDefault("embeddings.provider", "openai")
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embeddings.dimensions", 1536)
	v.SetDefault("embeddings.timeout_seconds", 10)

	// Index defaults
	v.SetDefault("index.m", 16)
	v.SetDefault("index.ef_construction", 200)
	v.SetDefault("index.ef_search", 64)

	// Scoring defaults
	v.SetDefault("scoring.decay_rate_per_day", 0.01)
	v.SetDefault("scoring.access_boost", 0.1)
	v.SetDefault("scoring.use_priority_multiplier", true)

	// Retrieval defaults
	v.SetDefault("retrieval.similarity_floor", 0.3)
	v.SetDefault("retrieval.overfetch_factor", 4)
	v.SetDefault("retrieval.default_limit", 10)

	// Consolidation defaults
	v.SetDefault("consolidation.similarity_threshold", 0.9)
	v.SetDefault("consolidation.cooldown_hours", 24)
	v.SetDefault("consolidation.batch_size", 100)
	v.SetDefault("consolidation.neighbor_limit", 16)
	v.SetDefault("consolidation.merge_strategy", MergeStrategyLongest)

	// Maintenance defaults
	v.SetDefault("maintenance.interval_minutes", 30)
	v.SetDefault("maintenance.backfill_batch_size", 32)
	v.SetDefault("maintenance.expiry_threshold", 0.05)
}

// loadFromDefaults creates a config from default values
func loadFromDefaults(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Database.Type != "" && cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}

	if cfg.Embeddings.Provider != "" && !IsValidEmbeddingProvider(cfg.Embeddings.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %v, got '%s'",
			ValidEmbeddingProviders(), cfg.Embeddings.Provider)
	}

	if cfg.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", cfg.Embeddings.Dimensions)
	}

	if cfg.Index.M < 2 {
		return fmt.Errorf("index.m must be at least 2, got %d", cfg.Index.M)
	}
	if cfg.Index.EfConstruction < cfg.Index.M {
		return fmt.Errorf("index.ef_construction must be >= index.m, got %d", cfg.Index.EfConstruction)
	}

	if cfg.Retrieval.SimilarityFloor < 0 || cfg.Retrieval.SimilarityFloor > 1 {
		return fmt.Errorf("retrieval.similarity_floor must be in [0,1], got %f", cfg.Retrieval.SimilarityFloor)
	}
	if cfg.Retrieval.OverfetchFactor < 1 {
		return fmt.Errorf("retrieval.overfetch_factor must be at least 1, got %d", cfg.Retrieval.OverfetchFactor)
	}

	if cfg.Consolidation.SimilarityThreshold < 0 || cfg.Consolidation.SimilarityThreshold > 1 {
		return fmt.Errorf("consolidation.similarity_threshold must be in [0,1], got %f",
			cfg.Consolidation.SimilarityThreshold)
	}
	if cfg.Consolidation.MergeStrategy != "" && !IsValidMergeStrategy(cfg.Consolidation.MergeStrategy) {
		return fmt.Errorf("consolidation.merge_strategy must be one of %v, got '%s'",
			ValidMergeStrategies(), cfg.Consolidation.MergeStrategy)
	}

	if cfg.Scoring.DecayRatePerDay < 0 {
		return fmt.Errorf("scoring.decay_rate_per_day must be non-negative, got %f", cfg.Scoring.DecayRatePerDay)
	}

	if cfg.Maintenance.ExpiryThreshold < 0 || cfg.Maintenance.ExpiryThreshold >= 1 {
		return fmt.Errorf("maintenance.expiry_threshold must be in [0,1), got %f", cfg.Maintenance.ExpiryThreshold)
	}

	return nil
}
