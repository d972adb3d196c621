// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/mnemo-mcp/internal/database"
)

func testRecord() *database.MemoryRecord {
	created := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return &database.MemoryRecord{
		ID:                  "01HQXA000000000000000000AA",
		Owner:               "alice",
		Kind:                "note",
		Category:            "ops",
		Content:             "# Deploy\n\ndeploy script fails on timeout",
		Metadata:            database.JSONMap{"source": "chat"},
		Importance:          7,
		CreatedAt:           created,
		UpdatedAt:           created,
		LastAccessedAt:      created,
		AccessCount:         3,
		PriorityScore:       1.2,
		DecayFactor:         0.8,
		ConsolidatedFrom:    database.StringList{"id-a", "id-b"},
		ConsolidationReason: "near-duplicate, similarity 0.95",
	}
}

func TestRenderParse_RoundTrip(t *testing.T) {
	rec := testRecord()

	doc, err := FromRecord(rec).Render()
	require.NoError(t, err)
	assert.Contains(t, doc, "---\n")
	assert.Contains(t, doc, "id: 01HQXA000000000000000000AA")
	assert.Contains(t, doc, "deploy script fails on timeout")

	snap, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, snap.ID)
	assert.Equal(t, rec.Owner, snap.Owner)
	assert.Equal(t, rec.Kind, snap.Kind)
	assert.Equal(t, rec.Importance, snap.Importance)
	assert.Equal(t, rec.Content, snap.Content)
	assert.Equal(t, rec.AccessCount, snap.AccessCount)
	assert.Equal(t, rec.DecayFactor, snap.DecayFactor)
	assert.Equal(t, []string{"id-a", "id-b"}, snap.ConsolidatedFrom)
	assert.Equal(t, "chat", snap.Metadata["source"])
	assert.True(t, rec.CreatedAt.Equal(snap.CreatedAt))
}

func TestToRecord_ContentEqual(t *testing.T) {
	rec := testRecord()

	doc, err := FromRecord(rec).Render()
	require.NoError(t, err)

	snap, err := Parse(doc)
	require.NoError(t, err)

	restored := snap.ToRecord()
	assert.Equal(t, rec.Content, restored.Content)
	assert.Equal(t, rec.ID, restored.ID)
	assert.Equal(t, rec.ConsolidationReason, restored.ConsolidationReason)
	assert.False(t, restored.HasEmbedding())
}

func TestParse_NoFrontmatter(t *testing.T) {
	snap, err := Parse("just a body\n")
	require.NoError(t, err)
	assert.Empty(t, snap.ID)
	assert.Equal(t, "just a body", snap.Content)
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	_, err := Parse("---\nid: x\nno closing delimiter\n")
	assert.Error(t, err)
}
