// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, 200, cfg.Index.EfConstruction)
	assert.Equal(t, 0.3, cfg.Retrieval.SimilarityFloor)
	assert.Equal(t, 4, cfg.Retrieval.OverfetchFactor)
	assert.Equal(t, 0.9, cfg.Consolidation.SimilarityThreshold)
	assert.Equal(t, MergeStrategyLongest, cfg.Consolidation.MergeStrategy)
	assert.Equal(t, 0.01, cfg.Scoring.DecayRatePerDay)
	assert.True(t, cfg.Scoring.UsePriorityMultiplier)
}

func TestLoadFromPath_Overrides(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"type": "postgres", "postgres_dsn": "host=localhost user=mnemo dbname=mnemo"},
		"retrieval": {"similarity_floor": 0.5, "overfetch_factor": 2},
		"consolidation": {"similarity_threshold": 0.95, "merge_strategy": "concatenate"}
	}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 0.5, cfg.Retrieval.SimilarityFloor)
	assert.Equal(t, 2, cfg.Retrieval.OverfetchFactor)
	assert.Equal(t, 0.95, cfg.Consolidation.SimilarityThreshold)
	assert.Equal(t, MergeStrategyConcatenate, cfg.Consolidation.MergeStrategy)

	// Untouched sections keep defaults
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
	assert.Equal(t, 24, cfg.Consolidation.CooldownHours)
}

func TestLoadFromPath_InvalidDatabaseType(t *testing.T) {
	path := writeConfigFile(t, `{"database": {"type": "mongodb"}}`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}

func TestLoadFromPath_InvalidMergeStrategy(t *testing.T) {
	path := writeConfigFile(t, `{"consolidation": {"merge_strategy": "shortest"}}`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge_strategy")
}

func TestLoadFromPath_InvalidSimilarityFloor(t *testing.T) {
	path := writeConfigFile(t, `{"retrieval": {"similarity_floor": 1.5}}`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity_floor")
}

func TestIsValidMergeStrategy(t *testing.T) {
	assert.True(t, IsValidMergeStrategy(MergeStrategyLongest))
	assert.True(t, IsValidMergeStrategy(MergeStrategyMostRecent))
	assert.True(t, IsValidMergeStrategy(MergeStrategyConcatenate))
	assert.False(t, IsValidMergeStrategy("newest"))
}
