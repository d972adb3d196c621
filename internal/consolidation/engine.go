// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package consolidation merges clusters of near-duplicate memory
// records into single replacements, archiving every source record
// before it disappears from the live store.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/locking"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// State names a phase of a consolidation run
type State string

// Run phases. Aborted is reachable from any phase; a cluster that fails
// validation aborts that cluster only.
const (
	StateScanning   State = "scanning"
	StateClustering State = "clustering"
	StateMerging    State = "merging"
	StateArchiving  State = "archiving"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Defaults applied when the corresponding Options field is zero
const (
	DefaultSimilarityThreshold = 0.9
	DefaultCooldown            = 24 * time.Hour
	DefaultBatchSize           = 100
	DefaultNeighborLimit       = 16
)

// Options configures the engine
type Options struct {
	SimilarityThreshold float64
	Cooldown            time.Duration
	BatchSize           int
	NeighborLimit       int
}

// Result summarizes one consolidation run
type Result struct {
	ClustersFound   int `json:"clusters_found"`
	ClustersMerged  int `json:"clusters_merged"`
	ClustersSkipped int `json:"clusters_skipped"`
	RecordsArchived int `json:"records_archived"`
}

// Engine runs the consolidation state machine
type Engine struct {
	records  *store.RecordStore
	archive  *store.ArchiveStore
	idx      *index.HNSW
	locker   *locking.Locker
	client   embeddings.Client
	strategy Strategy
	opts     Options
	logger   *log.Logger
}

// NewEngine creates a consolidation engine
func NewEngine(records *store.RecordStore, archive *store.ArchiveStore, idx *index.HNSW, locker *locking.Locker, client embeddings.Client, strategy Strategy, opts Options, logger *log.Logger) *Engine {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.NeighborLimit <= 0 {
		opts.NeighborLimit = DefaultNeighborLimit
	}
	if strategy == nil {
		strategy = longestStrategy{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		records:  records,
		archive:  archive,
		idx:      idx,
		locker:   locker,
		client:   client,
		strategy: strategy,
		opts:     opts,
		logger:   logger,
	}
}

// Run executes one consolidation pass for an owner. A batchSize of zero
// falls back to the configured default. The run can be cancelled via
// ctx between clusters; each cluster commits atomically, so
// cancellation never leaves partial state.
func (e *Engine) Run(ctx context.Context, owner string, batchSize int) (Result, error) {
	var res Result
	if owner == "" {
		return res, errors.New("owner is required")
	}
	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}

	holder := "consolidation-" + uuid.NewString()
	defer e.locker.ReleaseAll(holder) //nolint:errcheck

	e.logger.Debug("consolidation run starting", "owner", owner, "state", StateScanning)
	batch, err := e.scan(ctx, owner, batchSize)
	if err != nil {
		return res, err
	}
	if len(batch) < 2 {
		return res, nil
	}

	e.logger.Debug("consolidation run clustering", "owner", owner, "state", StateClustering, "batch", len(batch))
	clusters := e.cluster(batch)
	res.ClustersFound = len(clusters)

	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		archived, err := e.mergeCluster(ctx, holder, cluster)
		if err != nil {
			res.ClustersSkipped++
			e.logger.Warn("cluster skipped", "owner", owner, "size", len(cluster), "state", StateAborted, "error", err)
			continue
		}
		res.ClustersMerged++
		res.RecordsArchived += archived
	}

	e.logger.Info("consolidation run finished",
		"owner", owner,
		"clusters_found", res.ClustersFound,
		"clusters_merged", res.ClustersMerged,
		"records_archived", res.RecordsArchived)
	return res, nil
}

// scan selects the live, embedded records of an owner that are not on
// consolidation cooldown, oldest first
func (e *Engine) scan(ctx context.Context, owner string, batchSize int) ([]database.MemoryRecord, error) {
	cutoff := time.Now().Add(-e.opts.Cooldown)

	var recs []database.MemoryRecord
	err := e.records.DB().WithContext(ctx).
		Where("owner = ? AND archived = ?", owner, false).
		Where("embedding IS NOT NULL").
		Where("last_consolidated_at IS NULL OR last_consolidated_at < ?", cutoff).
		Order("id ASC").
		Limit(batchSize).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan consolidation batch: %w", err)
	}
	return recs, nil
}

// cluster groups the batch into clusters of transitively near-duplicate
// records using union-find over index neighborhoods. Only records
// within the batch can join a cluster, so every member is same-owner,
// live, and off cooldown.
func (e *Engine) cluster(batch []database.MemoryRecord) [][]database.MemoryRecord {
	byID := make(map[string]int, len(batch))
	for i := range batch {
		byID[batch[i].ID] = i
	}

	parent := make([]int, len(batch))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := range batch {
		vec := embeddings.BlobToFloat32Slice(batch[i].Embedding)
		if vec == nil {
			continue
		}
		for _, hit := range e.idx.Search(index.Normalize(vec), e.opts.NeighborLimit) {
			if hit.ID == batch[i].ID || hit.Similarity < e.opts.SimilarityThreshold {
				continue
			}
			if j, ok := byID[hit.ID]; ok {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]database.MemoryRecord)
	for i := range batch {
		root := find(i)
		groups[root] = append(groups[root], batch[i])
	}

	var clusters [][]database.MemoryRecord
	for _, group := range groups {
		if len(group) >= 2 {
			clusters = append(clusters, group)
		}
	}
	return clusters
}

// mergeCluster runs Merging, Archiving, and Commit for one cluster
// under per-record locks. Returns the number of records archived.
func (e *Engine) mergeCluster(ctx context.Context, holder string, cluster []database.MemoryRecord) (int, error) {
	ids := make([]string, len(cluster))
	for i := range cluster {
		ids[i] = cluster[i].ID
	}

	// Lock ascending; ids are ULIDs so every run locks oldest-first and
	// runs sharing records cannot deadlock.
	if err := e.locker.AcquireAll(ids, holder); err != nil {
		return 0, err
	}
	defer func() {
		for _, id := range ids {
			e.locker.Release(id, holder) //nolint:errcheck
		}
	}()

	// Reload under the lock; a concurrent run may have archived members
	// between clustering and here.
	fresh := make([]database.MemoryRecord, 0, len(cluster))
	for _, id := range ids {
		rec, err := e.records.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return 0, err
		}
		if !rec.Archived {
			fresh = append(fresh, *rec)
		}
	}
	if len(fresh) < 2 {
		return 0, errors.New("cluster dissolved before merge")
	}

	merged, err := e.synthesize(fresh)
	if err != nil {
		// Validation failures stamp the cooldown so a bad cluster is
		// not retried every run.
		e.stampCooldown(ctx, fresh)
		return 0, err
	}

	// Best effort: embed the merged content now so the replacement is
	// searchable immediately. On provider failure the backfill sweep
	// picks it up.
	var mergedVec []float32
	if vec, embedErr := e.client.Embed(ctx, merged.Content); embedErr == nil {
		mergedVec = index.Normalize(vec)
		merged.Embedding = embeddings.Float32SliceToBlob(mergedVec)
		merged.Dimensions = len(mergedVec)
	} else {
		e.logger.Warn("merged record embedding deferred to backfill", "id", merged.ID, "error", embedErr)
	}

	// Archive entries commit in the same transaction that makes the
	// replacement visible and the sources invisible. The entries are
	// written first: no source is ever marked archived without its
	// durable archive copy.
	err = e.records.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range fresh {
			if err := e.archive.Append(tx, &fresh[i], database.ArchiveReasonConsolidated, merged.ID); err != nil {
				return err
			}
		}
		if err := tx.Create(merged).Error; err != nil {
			return fmt.Errorf("failed to insert merged record: %w", err)
		}
		return tx.Model(&database.MemoryRecord{}).
			Where("id IN ?", ids).
			Update("archived", true).Error
	})
	if err != nil {
		return 0, err
	}

	// Index maintenance happens after the durable commit; the index is
	// eventually consistent by contract.
	for _, id := range ids {
		e.idx.Remove(id)
	}
	if mergedVec != nil {
		if err := e.idx.Insert(merged.ID, mergedVec); err != nil {
			e.logger.Warn("failed to index merged record", "id", merged.ID, "error", err)
		}
	}

	e.logger.Debug("cluster merged", "replacement", merged.ID, "sources", len(fresh), "state", StateCommitted)
	return len(fresh), nil
}

// synthesize builds the replacement record for a cluster and validates
// it before anything is written
func (e *Engine) synthesize(cluster []database.MemoryRecord) (*database.MemoryRecord, error) {
	owner := cluster[0].Owner
	importance := cluster[0].Importance
	minSim := 1.0
	sources := make(database.StringList, len(cluster))
	metadata := database.JSONMap{}

	for i := range cluster {
		rec := &cluster[i]
		sources[i] = rec.ID
		if rec.Owner != owner {
			return nil, fmt.Errorf("owner mismatch in cluster: %s vs %s", owner, rec.Owner)
		}
		if rec.Importance > importance {
			importance = rec.Importance
		}
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
		if i > 0 {
			vi := embeddings.BlobToFloat32Slice(cluster[i].Embedding)
			v0 := embeddings.BlobToFloat32Slice(cluster[0].Embedding)
			if vi != nil && v0 != nil {
				if sim := index.Cosine(index.Normalize(vi), index.Normalize(v0)); sim < minSim {
					minSim = sim
				}
			}
		}
	}

	content := e.strategy.Merge(cluster)
	if content == "" {
		return nil, errors.New("merge produced empty content")
	}

	now := time.Now()
	return &database.MemoryRecord{
		ID:                  e.records.NewID(),
		Owner:               owner,
		Kind:                cluster[0].Kind,
		Category:            cluster[0].Category,
		Content:             content,
		Metadata:            metadata,
		Importance:          importance,
		CreatedAt:           now,
		UpdatedAt:           now,
		LastAccessedAt:      now,
		PriorityScore:       1.0,
		DecayFactor:         1.0,
		ConsolidatedFrom:    sources,
		ConsolidationReason: fmt.Sprintf("merged %d near-duplicates via %s strategy, pairwise similarity >= %.2f", len(cluster), e.strategy.Name(), minSim),
		LastConsolidatedAt:  &now,
	}, nil
}

// stampCooldown marks cluster members as recently consolidated so a
// cluster that failed validation is not retried until the cooldown
// elapses
func (e *Engine) stampCooldown(ctx context.Context, cluster []database.MemoryRecord) {
	now := time.Now()
	ids := make([]string, len(cluster))
	for i := range cluster {
		ids[i] = cluster[i].ID
	}
	err := e.records.DB().WithContext(ctx).Model(&database.MemoryRecord{}).
		Where("id IN ?", ids).
		Update("last_consolidated_at", now).Error
	if err != nil {
		e.logger.Warn("failed to stamp consolidation cooldown", "error", err)
	}
}
