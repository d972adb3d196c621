// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"github.com/charmbracelet/log"

	"github.com/tejzpr/mnemo-mcp/internal/config"
	"github.com/tejzpr/mnemo-mcp/internal/consolidation"
	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/retrieval"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Records      *store.RecordStore
	Archive      *store.ArchiveStore
	Index        *index.HNSW
	Retrieval    *retrieval.Engine
	Consolidator *consolidation.Engine
	Backfill     *embeddings.Service
	Config       *config.Config
	Logger       *log.Logger
}

// NewToolContext creates a new tool context
func NewToolContext(records *store.RecordStore, archive *store.ArchiveStore, idx *index.HNSW, ret *retrieval.Engine, cons *consolidation.Engine, backfill *embeddings.Service, cfg *config.Config, logger *log.Logger) *ToolContext {
	if logger == nil {
		logger = log.Default()
	}
	return &ToolContext{
		Records:      records,
		Archive:      archive,
		Index:        idx,
		Retrieval:    ret,
		Consolidator: cons,
		Backfill:     backfill,
		Config:       cfg,
		Logger:       logger,
	}
}

// DefaultLimit returns the configured retrieval limit fallback
func (tc *ToolContext) DefaultLimit() int {
	if tc.Config != nil && tc.Config.Retrieval.DefaultLimit > 0 {
		return tc.Config.Retrieval.DefaultLimit
	}
	return retrieval.DefaultLimit
}
