// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
)

func TestArchiveStore_AppendAndGet(t *testing.T) {
	s, archive, db := setupStores(t)
	ctx := context.Background()

	rec := saveRecord(t, s, "alice", "# Note\n\nkeep this safe", 7)

	err := db.Transaction(func(tx *gorm.DB) error {
		return archive.Append(tx, rec, database.ArchiveReasonConsolidated, "replacement-id")
	})
	require.NoError(t, err)

	entry, err := archive.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Owner, entry.Owner)
	assert.Equal(t, rec.Content, entry.Content)
	assert.Equal(t, "replacement-id", entry.ReplacementID)
	assert.Contains(t, entry.Snapshot, "---")
	assert.Contains(t, entry.Snapshot, "keep this safe")
}

func TestArchiveStore_AppendRejectsBadReason(t *testing.T) {
	s, archive, db := setupStores(t)

	rec := saveRecord(t, s, "alice", "content", 5)
	err := db.Transaction(func(tx *gorm.DB) error {
		return archive.Append(tx, rec, "evaporated", "")
	})
	assert.Error(t, err)

	_, err = archive.Get(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestArchiveStore_GetMissing(t *testing.T) {
	_, archive, _ := setupStores(t)
	_, err := archive.Get(context.Background(), "never-archived")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestArchiveStore_ListByOwnerAndTime(t *testing.T) {
	s, archive, _ := setupStores(t)
	ctx := context.Background()

	first := saveRecord(t, s, "alice", "first", 5)
	second := saveRecord(t, s, "alice", "second", 5)
	foreign := saveRecord(t, s, "bob", "not alice's", 5)

	for _, rec := range []*database.MemoryRecord{first, second, foreign} {
		require.NoError(t, s.Archive(ctx, rec.ID, database.ArchiveReasonManual))
	}

	entries, err := archive.List(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].OriginalID)
	assert.Equal(t, second.ID, entries[1].OriginalID)

	// A future cutoff excludes everything
	entries, err = archive.List(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveStore_Restore(t *testing.T) {
	s, archive, _ := setupStores(t)
	ctx := context.Background()

	rec := saveRecord(t, s, "alice", "restore me word for word", 8)
	require.NoError(t, s.Archive(ctx, rec.ID, database.ArchiveReasonManual))

	restored, err := archive.Restore(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, restored.ID)
	assert.Equal(t, rec.Content, restored.Content)
	assert.Equal(t, rec.Importance, restored.Importance)
	assert.False(t, restored.HasEmbedding())
}

func TestArchiveStore_DiscardOrphan(t *testing.T) {
	s, archive, db := setupStores(t)
	ctx := context.Background()

	rec := saveRecord(t, s, "alice", "orphaned entry", 5)
	err := db.Transaction(func(tx *gorm.DB) error {
		return archive.Append(tx, rec, database.ArchiveReasonConsolidated, "uncommitted-replacement")
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return archive.DiscardOrphan(tx, rec.ID)
	})
	require.NoError(t, err)

	_, err = archive.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}
