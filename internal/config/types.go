// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Embeddings    EmbeddingConfig     `mapstructure:"embeddings"`
	Index         IndexConfig         `mapstructure:"index"`
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration (stdio mode ignores it)
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// EmbeddingConfig holds configuration for the embedding provider
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"` // "openai", "azure", "local"
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per-call timeout on ingest and query
}

// IndexConfig holds HNSW vector index build parameters.
// M and EfConstruction are fixed at index-build time; EfSearch is the
// only knob that may vary at runtime.
type IndexConfig struct {
	M              int `mapstructure:"m"`
	EfConstruction int `mapstructure:"ef_construction"`
	EfSearch       int `mapstructure:"ef_search"`
}

// ScoringConfig holds relevance scoring parameters
type ScoringConfig struct {
	DecayRatePerDay       float64 `mapstructure:"decay_rate_per_day"` // base λ
	AccessBoost           float64 `mapstructure:"access_boost"`       // decay nudge per retrieval hit
	UsePriorityMultiplier bool    `mapstructure:"use_priority_multiplier"`
}

// RetrievalConfig holds query-path parameters
type RetrievalConfig struct {
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	OverfetchFactor int     `mapstructure:"overfetch_factor"`
	DefaultLimit    int     `mapstructure:"default_limit"`
}

// ConsolidationConfig holds consolidation run parameters
type ConsolidationConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	CooldownHours       int     `mapstructure:"cooldown_hours"`
	BatchSize           int     `mapstructure:"batch_size"`
	NeighborLimit       int     `mapstructure:"neighbor_limit"`
	MergeStrategy       string  `mapstructure:"merge_strategy"` // "longest", "most_recent", "concatenate"
}

// MaintenanceConfig holds background maintenance parameters
type MaintenanceConfig struct {
	IntervalMinutes   int     `mapstructure:"interval_minutes"`
	BackfillBatchSize int     `mapstructure:"backfill_batch_size"`
	ExpiryThreshold   float64 `mapstructure:"expiry_threshold"` // decay low-water mark
}

// Merge strategy constants
const (
	MergeStrategyLongest     = "longest"
	MergeStrategyMostRecent  = "most_recent"
	MergeStrategyConcatenate = "concatenate"
)

// ValidMergeStrategies returns all valid merge strategy names
func ValidMergeStrategies() []string {
	return []string{
		MergeStrategyLongest,
		MergeStrategyMostRecent,
		MergeStrategyConcatenate,
	}
}

// IsValidMergeStrategy checks if a merge strategy name is valid
func IsValidMergeStrategy(name string) bool {
	for _, valid := range ValidMergeStrategies() {
		if name == valid {
			return true
		}
	}
	return false
}

// Embedding provider constants
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderAzure  = "azure"
	EmbeddingProviderLocal  = "local"
)

// ValidEmbeddingProviders returns all valid embedding provider values
func ValidEmbeddingProviders() []string {
	return []string{
		EmbeddingProviderOpenAI,
		EmbeddingProviderAzure,
		EmbeddingProviderLocal,
	}
}

// IsValidEmbeddingProvider checks if a provider is valid
func IsValidEmbeddingProvider(provider string) bool {
	for _, valid := range ValidEmbeddingProviders() {
		if provider == valid {
			return true
		}
	}
	return false
}
