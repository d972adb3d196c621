// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package retrieval answers similarity queries over the live memory
// store. It fans a query embedding out to the vector index, loads the
// surviving candidates, ranks them with the composite score, and stamps
// access statistics asynchronously.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/scoring"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// Engine errors
var (
	ErrInvalidQuery         = errors.New("invalid retrieval query")
	ErrEmbeddingUnavailable = errors.New("query embedding unavailable")
)

// Defaults applied when the corresponding Options field is zero.
// DefaultLimit is for callers that expose an optional limit; the engine
// itself requires an explicit positive limit.
const (
	DefaultSimilarityFloor = 0.3
	DefaultOverfetchFactor = 4
	DefaultLimit           = 10
)

// Query describes one retrieval request
type Query struct {
	Owner string
	Text  string
	Limit int

	// Optional narrowing filters, applied after the index search
	Category      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Match is a ranked retrieval hit
type Match struct {
	Record     database.MemoryRecord
	Similarity float64
	Score      float64
}

// Options configures the engine
type Options struct {
	SimilarityFloor float64
	OverfetchFactor int
	Params          scoring.Params
}

// Engine executes retrieval queries
type Engine struct {
	records *store.RecordStore
	idx     *index.HNSW
	client  embeddings.Client
	opts    Options
	logger  *log.Logger
}

// NewEngine creates a retrieval engine
func NewEngine(records *store.RecordStore, idx *index.HNSW, client embeddings.Client, opts Options, logger *log.Logger) *Engine {
	if opts.SimilarityFloor <= 0 {
		opts.SimilarityFloor = DefaultSimilarityFloor
	}
	if opts.OverfetchFactor <= 0 {
		opts.OverfetchFactor = DefaultOverfetchFactor
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		records: records,
		idx:     idx,
		client:  client,
		opts:    opts,
		logger:  logger,
	}
}

// Retrieve runs a query end to end. A provider outage surfaces as
// ErrEmbeddingUnavailable rather than silently degrading to unranked
// results. Access statistics for returned records are updated in the
// background and never delay the response.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]Match, error) {
	if q.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidQuery)
	}
	if q.Text == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	limit := q.Limit

	queryVec, err := e.client.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	// Overfetch so that owner, archive, and filter drops still leave
	// enough candidates to fill the limit.
	hits := e.idx.Search(index.Normalize(queryVec), limit*e.opts.OverfetchFactor)
	if len(hits) == 0 {
		return []Match{}, nil
	}

	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		similarity[h.ID] = h.Similarity
	}

	recs, err := e.records.Candidates(ctx, q.Owner, ids, store.Filters{
		Category:      q.Category,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	matches := make([]Match, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		sim := similarity[rec.ID]
		if sim < e.opts.SimilarityFloor {
			continue
		}

		composite := scoring.Score(sim, rec.Importance, rec.AccessCount, rec.LastAccessedAt, rec.DecayFactor, now)
		matches = append(matches, Match{
			Record:     rec,
			Similarity: sim,
			Score:      e.opts.Params.FinalScore(composite, rec.PriorityScore),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].Record.CreatedAt.Equal(matches[j].Record.CreatedAt) {
			return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	e.touchAsync(matches)
	return matches, nil
}

// touchAsync stamps access statistics for the returned records without
// blocking the caller. Failures are logged and dropped; the next sweep
// or hit will catch the record up.
func (e *Engine) touchAsync(matches []Match) {
	if len(matches) == 0 {
		return
	}

	ids := make([]string, len(matches))
	for i := range matches {
		ids[i] = matches[i].Record.ID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, id := range ids {
			if err := e.records.TouchAccess(ctx, id); err != nil {
				e.logger.Warn("failed to update access stats", "id", id, "error", err)
			}
		}
	}()
}
