// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store provides durable keyed storage for memory records and
// the append-only archive of removed records.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/scoring"
)

// Store errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyArchived = errors.New("record already archived")
	ErrValidation      = errors.New("record validation failed")
)

// Filters narrows candidate loading on the retrieval path. Owner is
// always required separately; all filter fields are optional.
type Filters struct {
	Category      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// SaveInput carries the caller-provided fields of a new record
type SaveInput struct {
	Owner      string
	Kind       string
	Category   string
	Content    string
	Metadata   database.JSONMap
	Importance int
}

// RecordStore provides transactional point writes and filtered reads
// over memory records
type RecordStore struct {
	db      *gorm.DB
	archive *ArchiveStore
	params  scoring.Params

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewRecordStore creates a new record store
func NewRecordStore(db *gorm.DB, archive *ArchiveStore, params scoring.Params) *RecordStore {
	return &RecordStore{
		db:      db,
		archive: archive,
		params:  params,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DB exposes the underlying handle for components that need to compose
// transactions across stores
func (s *RecordStore) DB() *gorm.DB {
	return s.db
}

// NewID mints a ULID. IDs are lexicographically ordered by creation
// time, so acquiring locks in ascending id order is also oldest-first.
func (s *RecordStore) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Save persists a new record. The embedding is left empty; the backfill
// service fills it asynchronously.
func (s *RecordStore) Save(ctx context.Context, in SaveInput) (*database.MemoryRecord, error) {
	if in.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	now := time.Now()
	rec := database.MemoryRecord{
		ID:             s.NewID(),
		Owner:          in.Owner,
		Kind:           in.Kind,
		Category:       in.Category,
		Content:        in.Content,
		Metadata:       in.Metadata,
		Importance:     scoring.ClampImportance(in.Importance),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		PriorityScore:  1.0,
		DecayFactor:    1.0,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	return &rec, nil
}

// Get returns a record by id
func (s *RecordStore) Get(ctx context.Context, id string) (*database.MemoryRecord, error) {
	var rec database.MemoryRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return &rec, nil
}

// Candidates loads the live records among the given ids that pass the
// owner and filter constraints. Ids that are archived, foreign-owned,
// or filtered out are silently dropped.
func (s *RecordStore) Candidates(ctx context.Context, owner string, ids []string, f Filters) ([]database.MemoryRecord, error) {
	if len(ids) == 0 {
		return []database.MemoryRecord{}, nil
	}

	q := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("owner = ?", owner).
		Where("archived = ?", false)

	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at <= ?", f.CreatedBefore)
	}

	var recs []database.MemoryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return recs, nil
}

// TouchAccess applies the retrieval side effect: bump access_count and
// last_accessed_at, nudge the decay factor toward 1.0, and recompute the
// priority score in the same write (decay and priority always move
// together). Last write wins between concurrent hits.
func (s *RecordStore) TouchAccess(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	decay := s.params.AfterAccess(rec.DecayFactor)
	priority := priorityScore(rec.AccessCount+1, decay)

	err = s.db.WithContext(ctx).Model(&database.MemoryRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_count":      gorm.Expr("access_count + 1"),
			"last_accessed_at":  now,
			"decay_factor":      decay,
			"decay_computed_at": now,
			"priority_score":    priority,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update access stats: %w", err)
	}
	return nil
}

// DecaySweep recomputes decay factors and priority scores for every live
// record of every owner. Each record decays only over the window since
// the later of its last access and its last recomputation, so sweep
// cadence never changes the effective decay rate. Returns the number of
// records updated.
func (s *RecordStore) DecaySweep(ctx context.Context, now time.Time) (int, error) {
	var recs []database.MemoryRecord
	err := s.db.WithContext(ctx).
		Select("id", "importance", "access_count", "last_accessed_at", "decay_factor", "decay_computed_at").
		Where("archived = ?", false).
		Find(&recs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load records for decay sweep: %w", err)
	}

	updated := 0
	for i := range recs {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		rec := &recs[i]
		since := rec.LastAccessedAt
		if rec.DecayComputedAt.After(since) {
			since = rec.DecayComputedAt
		}
		elapsed := now.Sub(since)
		// Sub-second windows are timestamp round-trip noise, not decay
		if elapsed < time.Second {
			continue
		}
		decay := s.params.Decayed(rec.DecayFactor, rec.Importance, elapsed)
		if decay == rec.DecayFactor {
			continue
		}
		priority := priorityScore(rec.AccessCount, decay)

		err := s.db.WithContext(ctx).Model(&database.MemoryRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"decay_factor":      decay,
				"decay_computed_at": now,
				"priority_score":    priority,
			}).Error
		if err != nil {
			return updated, fmt.Errorf("failed to update decay for %s: %w", rec.ID, err)
		}
		updated++
	}
	return updated, nil
}

// Archive freezes a record into the archive store and marks it archived,
// in one transaction with the entry written first. Used for manual
// archival ("forget") and the expiry sweep; consolidation drives its own
// commit sequence.
func (s *RecordStore) Archive(ctx context.Context, id, reason string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Archived {
		return ErrAlreadyArchived
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.archive.Append(tx, rec, reason, ""); err != nil {
			return err
		}
		return tx.Model(&database.MemoryRecord{}).
			Where("id = ?", id).
			Update("archived", true).Error
	})
}

// ExpireSweep archives live records whose decay factor has crossed the
// low-water threshold, reason "expired". Returns the ids archived so the
// caller can drop them from the vector index.
func (s *RecordStore) ExpireSweep(ctx context.Context, threshold float64) ([]string, error) {
	var recs []database.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("archived = ? AND decay_factor < ?", false, threshold).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load expired records: %w", err)
	}

	expired := make([]string, 0, len(recs))
	for i := range recs {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := s.Archive(ctx, recs[i].ID, database.ArchiveReasonExpired); err != nil {
			if errors.Is(err, ErrAlreadyArchived) {
				continue
			}
			return expired, err
		}
		expired = append(expired, recs[i].ID)
	}
	return expired, nil
}

// Purge physically deletes archived records whose archive entry is
// durably committed. Archive-before-delete: rows without an entry are
// kept no matter how long they have been archived.
func (s *RecordStore) Purge(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("archived = ?", true).
		Where("id IN (?)", s.db.Model(&database.ArchiveEntry{}).Select("original_id")).
		Delete(&database.MemoryRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge archived records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// priorityScore derives the cached relevance multiplier from usage and
// freshness. Bounded to [0.5, 2.0] so a stale cache can never dominate
// nor erase a composite score.
func priorityScore(accessCount int, decayFactor float64) float64 {
	p := (0.75 + 0.25*decayFactor) * (1.0 + 0.1*math.Log1p(float64(accessCount)))
	if p < 0.5 {
		return 0.5
	}
	if p > 2.0 {
		return 2.0
	}
	return p
}
