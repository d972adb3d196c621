// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/index"
)

// defaultQueueSize bounds the in-flight backfill task queue. Overflow is
// not an error; the periodic sweep picks up whatever the queue dropped.
const defaultQueueSize = 256

// Service fills missing embeddings asynchronously. Ingest stores records
// with a nil embedding and enqueues them here; a dedicated worker embeds
// the content, persists the vector, and inserts it into the vector
// index. A periodic sweep (driven by the maintenance scheduler) retries
// records the queue missed, including those whose provider call timed
// out at ingest.
type Service struct {
	db     *gorm.DB
	client Client
	idx    *index.HNSW
	logger *log.Logger

	queue chan string
	stop  chan struct{}
	done  chan struct{}
}

// NewService creates a new embedding backfill service
func NewService(db *gorm.DB, client Client, idx *index.HNSW, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:     db,
		client: client,
		idx:    idx,
		logger: logger,
		queue:  make(chan string, defaultQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules a record for embedding backfill. Never blocks; if
// the queue is full the record is left to the next sweep.
func (s *Service) Enqueue(recordID string) {
	select {
	case s.queue <- recordID:
	default:
		s.logger.Debug("backfill queue full, deferring to sweep", "record", recordID)
	}
}

// Start launches the backfill worker
func (s *Service) Start() {
	go func() {
		defer close(s.done)
		for {
			select {
			case id := <-s.queue:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.Process(ctx, id); err != nil {
					s.logger.Warn("embedding backfill failed", "record", id, "err", err)
				}
				cancel()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop shuts down the backfill worker
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// Process embeds a single record's content, persists the vector, and
// makes the record searchable. Records that were archived or embedded
// in the meantime are skipped.
func (s *Service) Process(ctx context.Context, recordID string) error {
	var rec database.MemoryRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load record: %w", err)
	}

	if rec.Archived || rec.HasEmbedding() {
		return nil
	}

	vector, err := s.client.Embed(ctx, rec.Content)
	if err != nil {
		return fmt.Errorf("failed to embed record %s: %w", recordID, err)
	}

	updates := map[string]interface{}{
		"embedding":  Float32SliceToBlob(vector),
		"dimensions": len(vector),
	}
	result := s.db.WithContext(ctx).Model(&database.MemoryRecord{}).
		Where("id = ? AND archived = ?", recordID, false).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to persist embedding: %w", result.Error)
	}
	// Zero rows means the record was archived between load and update;
	// it must not enter the index.
	if result.RowsAffected == 0 {
		s.logger.Debug("record archived during backfill, skipping index", "record", recordID)
		return nil
	}

	if err := s.idx.Insert(recordID, vector); err != nil {
		return fmt.Errorf("failed to index record %s: %w", recordID, err)
	}

	s.logger.Debug("embedding backfilled", "record", recordID, "dimensions", len(vector))
	return nil
}

// Sweep embeds up to limit records still missing an embedding. Failures
// are logged per record; the sweep continues with the rest and reports
// how many records were filled.
func (s *Service) Sweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 32
	}

	var ids []string
	err := s.db.WithContext(ctx).Model(&database.MemoryRecord{}).
		Where("embedding IS NULL AND archived = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}

	filled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return filled, ctx.Err()
		}
		if err := s.Process(ctx, id); err != nil {
			s.logger.Warn("sweep backfill failed", "record", id, "err", err)
			continue
		}
		filled++
	}
	return filled, nil
}

// Reindex loads every live embedded record into the vector index. Called
// once at startup; the index is in-process and not persisted.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	var recs []database.MemoryRecord
	err := s.db.WithContext(ctx).
		Select("id", "embedding").
		Where("archived = ? AND embedding IS NOT NULL", false).
		Find(&recs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load records for reindex: %w", err)
	}

	indexed := 0
	for i := range recs {
		vector := BlobToFloat32Slice(recs[i].Embedding)
		if vector == nil {
			s.logger.Warn("skipping record with malformed embedding blob", "record", recs[i].ID)
			continue
		}
		if err := s.idx.Insert(recs[i].ID, vector); err != nil {
			s.logger.Warn("failed to reindex record", "record", recs[i].ID, "err", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}
