// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/snapshot"
)

// ErrArchiveNotFound is returned when no archive entry exists for an id
var ErrArchiveNotFound = errors.New("archive entry not found")

// ArchiveStore is the append-only log of removed records. The core
// exposes no update or delete on entries; purging them is an external
// administrative action.
type ArchiveStore struct {
	db *gorm.DB
}

// NewArchiveStore creates a new archive store
func NewArchiveStore(db *gorm.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// Append writes a frozen copy of the record inside the given
// transaction. The entry must be durably committed before the record is
// marked archived or removed anywhere (archive-before-delete).
func (a *ArchiveStore) Append(tx *gorm.DB, rec *database.MemoryRecord, reason, replacementID string) error {
	if !database.IsValidArchiveReason(reason) {
		return fmt.Errorf("invalid archive reason %q", reason)
	}

	doc, err := snapshot.FromRecord(rec).Render()
	if err != nil {
		return fmt.Errorf("failed to render archive snapshot: %w", err)
	}

	entry := database.ArchiveEntry{
		OriginalID:     rec.ID,
		Owner:          rec.Owner,
		Content:        rec.Content,
		Snapshot:       doc,
		ArchivedAt:     time.Now(),
		ArchivedReason: reason,
		ReplacementID:  replacementID,
	}

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append archive entry for %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the archive entry for the original record id
func (a *ArchiveStore) Get(ctx context.Context, originalID string) (*database.ArchiveEntry, error) {
	var entry database.ArchiveEntry
	err := a.db.WithContext(ctx).First(&entry, "original_id = ?", originalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to load archive entry: %w", err)
	}
	return &entry, nil
}

// List returns an owner's archive entries archived at or after since,
// oldest first. A zero since returns everything.
func (a *ArchiveStore) List(ctx context.Context, owner string, since time.Time) ([]database.ArchiveEntry, error) {
	q := a.db.WithContext(ctx).Where("owner = ?", owner)
	if !since.IsZero() {
		q = q.Where("archived_at >= ?", since)
	}

	var entries []database.ArchiveEntry
	if err := q.Order("archived_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list archive entries: %w", err)
	}
	return entries, nil
}

// Restore parses the frozen snapshot of an entry back into a record
func (a *ArchiveStore) Restore(ctx context.Context, originalID string) (*database.MemoryRecord, error) {
	entry, err := a.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot.Parse(entry.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive snapshot: %w", err)
	}
	return snap.ToRecord(), nil
}

// DiscardOrphan removes an archive entry that belongs to an interrupted
// consolidation (no committed replacement, sources still live). Only the
// crash-recovery pass uses this; it is not part of the public archive
// contract.
func (a *ArchiveStore) DiscardOrphan(tx *gorm.DB, originalID string) error {
	return tx.Delete(&database.ArchiveEntry{}, "original_id = ?", originalID).Error
}
