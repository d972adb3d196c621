// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/index"
)

func setupService(t *testing.T, client Client) (*Service, *gorm.DB, *index.HNSW) {
	tmpDir := t.TempDir()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(tmpDir, "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	idx := index.New(index.Options{M: 8, EfConstruction: 32, Seed: 1})
	svc := NewService(db, client, idx, log.New(io.Discard))
	return svc, db, idx
}

func createPending(t *testing.T, db *gorm.DB, id, content string) {
	rec := database.MemoryRecord{
		ID:             id,
		Owner:          "alice",
		Content:        content,
		Importance:     5,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
		PriorityScore:  1.0,
		DecayFactor:    1.0,
	}
	require.NoError(t, db.Create(&rec).Error)
}

func TestProcess_FillsEmbeddingAndIndexes(t *testing.T) {
	svc, db, idx := setupService(t, &MockClient{Dimensions: 4})
	createPending(t, db, "rec-1", "deploy script fails on timeout")

	require.NoError(t, svc.Process(context.Background(), "rec-1"))

	var got database.MemoryRecord
	require.NoError(t, db.First(&got, "id = ?", "rec-1").Error)
	assert.True(t, got.HasEmbedding())
	assert.Equal(t, 4, got.Dimensions)
	assert.True(t, idx.Contains("rec-1"))
}

func TestProcess_MissingRecordIsNoop(t *testing.T) {
	svc, _, _ := setupService(t, &MockClient{})
	assert.NoError(t, svc.Process(context.Background(), "ghost"))
}

func TestProcess_SkipsArchived(t *testing.T) {
	svc, db, idx := setupService(t, &MockClient{})
	createPending(t, db, "rec-1", "content")
	require.NoError(t, db.Model(&database.MemoryRecord{}).
		Where("id = ?", "rec-1").Update("archived", true).Error)

	require.NoError(t, svc.Process(context.Background(), "rec-1"))
	assert.False(t, idx.Contains("rec-1"))
}

func TestProcess_ArchivedMidEmbedStaysOutOfIndex(t *testing.T) {
	var db *gorm.DB
	client := &MockClient{
		Dimensions: 4,
		EmbedFunc: func(string) ([]float32, error) {
			// Archive the record while the provider call is in flight
			err := db.Model(&database.MemoryRecord{}).
				Where("id = ?", "rec-1").Update("archived", true).Error
			require.NoError(t, err)
			return []float32{1, 0, 0, 0}, nil
		},
	}
	svc, conn, idx := setupService(t, client)
	db = conn
	createPending(t, db, "rec-1", "content")

	require.NoError(t, svc.Process(context.Background(), "rec-1"))
	assert.False(t, idx.Contains("rec-1"))

	var got database.MemoryRecord
	require.NoError(t, db.First(&got, "id = ?", "rec-1").Error)
	assert.False(t, got.HasEmbedding())
}

func TestProcess_ProviderFailure(t *testing.T) {
	client := &MockClient{
		EmbedFunc: func(string) ([]float32, error) {
			return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
		},
	}
	svc, db, _ := setupService(t, client)
	createPending(t, db, "rec-1", "content")

	err := svc.Process(context.Background(), "rec-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Record stays pending for the next sweep
	var got database.MemoryRecord
	require.NoError(t, db.First(&got, "id = ?", "rec-1").Error)
	assert.False(t, got.HasEmbedding())
}

func TestSweep_FillsAllPending(t *testing.T) {
	svc, db, idx := setupService(t, &MockClient{Dimensions: 4})
	for i := 0; i < 5; i++ {
		createPending(t, db, fmt.Sprintf("rec-%d", i), fmt.Sprintf("note %d", i))
	}

	filled, err := svc.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, filled)
	assert.Equal(t, 5, idx.Len())
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	calls := 0
	client := &MockClient{
		EmbedFunc: func(string) ([]float32, error) {
			calls++
			if calls == 2 {
				return nil, fmt.Errorf("%w: flaky", ErrUnavailable)
			}
			return []float32{1, 0, 0, 0}, nil
		},
	}
	svc, db, _ := setupService(t, client)
	for i := 0; i < 3; i++ {
		createPending(t, db, fmt.Sprintf("rec-%d", i), fmt.Sprintf("note %d", i))
	}

	filled, err := svc.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, filled)
}

func TestReindex_LoadsLiveEmbeddedRecords(t *testing.T) {
	svc, db, idx := setupService(t, &MockClient{Dimensions: 4})

	createPending(t, db, "live", "live record")
	require.NoError(t, svc.Process(context.Background(), "live"))

	createPending(t, db, "pending", "no embedding yet")

	createPending(t, db, "archived", "archived record")
	require.NoError(t, svc.Process(context.Background(), "archived"))
	require.NoError(t, db.Model(&database.MemoryRecord{}).
		Where("id = ?", "archived").Update("archived", true).Error)

	// Fresh index simulating a restart
	fresh := index.New(index.Options{M: 8, EfConstruction: 32, Seed: 2})
	svc2 := NewService(db, &MockClient{Dimensions: 4}, fresh, log.New(io.Discard))

	indexed, err := svc2.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.True(t, fresh.Contains("live"))
	assert.False(t, fresh.Contains("pending"))
	assert.False(t, fresh.Contains("archived"))
	_ = idx
}

func TestEnqueue_Worker(t *testing.T) {
	svc, db, idx := setupService(t, &MockClient{Dimensions: 4})
	createPending(t, db, "rec-1", "queued record")

	svc.Start()
	defer svc.Stop()

	svc.Enqueue("rec-1")

	require.Eventually(t, func() bool {
		return idx.Contains("rec-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBlobRoundTrip(t *testing.T) {
	v := []float32{0.1, -2.5, 3.75, 0}
	blob := Float32SliceToBlob(v)
	assert.Equal(t, v, BlobToFloat32Slice(blob))
}

func TestBlobToFloat32Slice_Malformed(t *testing.T) {
	assert.Nil(t, BlobToFloat32Slice([]byte{1, 2, 3}))
	assert.Nil(t, BlobToFloat32Slice(nil))
}
