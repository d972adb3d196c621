// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/mnemo-mcp/internal/config"
	"github.com/tejzpr/mnemo-mcp/internal/consolidation"
	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/locking"
	"github.com/tejzpr/mnemo-mcp/internal/retrieval"
	"github.com/tejzpr/mnemo-mcp/internal/scoring"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

func setupToolContext(t *testing.T) *ToolContext {
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, locking.MigrateLocks(db))

	cfg := config.DefaultConfig()
	params := scoring.DefaultParams()
	archive := store.NewArchiveStore(db)
	records := store.NewRecordStore(db, archive, params)
	idx := index.New(index.Options{Seed: 1})
	locker := locking.NewLocker(db)
	client := &embeddings.MockClient{Dimensions: 4}
	backfill := embeddings.NewService(db, client, idx, nil)

	ret := retrieval.NewEngine(records, idx, client, retrieval.Options{
		SimilarityFloor: 0.1,
		Params:          params,
	}, nil)

	strategy, err := consolidation.StrategyFor(cfg.Consolidation.MergeStrategy)
	require.NoError(t, err)
	cons := consolidation.NewEngine(records, archive, idx, locker, client, strategy, consolidation.Options{}, nil)

	return NewToolContext(records, archive, idx, ret, cons, backfill, cfg, nil)
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args

	result, err := handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

// extractID pulls the saved memory id out of the save tool's output
func extractID(t *testing.T, text string) string {
	start := strings.Index(text, "`")
	require.GreaterOrEqual(t, start, 0)
	end := strings.Index(text[start+1:], "`")
	require.Greater(t, end, 0)
	return text[start+1 : start+1+end]
}

func TestSaveTool(t *testing.T) {
	tc := setupToolContext(t)
	handler := SaveHandler(tc)

	result := callTool(t, handler, map[string]interface{}{
		"owner":      "alice",
		"content":    "deploy script fails with timeout",
		"category":   "ops",
		"importance": 8.0,
		"metadata":   `{"source": "chat"}`,
	})
	assert.False(t, result.IsError)

	id := extractID(t, resultText(t, result))
	rec, err := tc.Records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, 8, rec.Importance)
	assert.Equal(t, "chat", rec.Metadata["source"])
}

func TestSaveTool_Validation(t *testing.T) {
	tc := setupToolContext(t)
	handler := SaveHandler(tc)

	result := callTool(t, handler, map[string]interface{}{
		"owner": "alice",
	})
	assert.True(t, result.IsError)

	result = callTool(t, handler, map[string]interface{}{
		"owner":    "alice",
		"content":  "content",
		"metadata": "{not json",
	})
	assert.True(t, result.IsError)
}

func TestRetrieveTool(t *testing.T) {
	tc := setupToolContext(t)
	ctx := context.Background()

	save := SaveHandler(tc)
	result := callTool(t, save, map[string]interface{}{
		"owner":   "alice",
		"content": "kubernetes cluster upgrade notes",
	})
	id := extractID(t, resultText(t, result))

	// Fill the embedding synchronously so retrieval can see the record
	require.NoError(t, tc.Backfill.Process(ctx, id))

	retrieve := RetrieveHandler(tc)
	result = callTool(t, retrieve, map[string]interface{}{
		"owner": "alice",
		"query": "cluster upgrade",
	})
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "kubernetes cluster upgrade notes")

	// Foreign owner sees nothing
	result = callTool(t, retrieve, map[string]interface{}{
		"owner": "bob",
		"query": "cluster upgrade",
	})
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No memories found")
}

func TestRetrieveTool_InvalidTimestamp(t *testing.T) {
	tc := setupToolContext(t)
	handler := RetrieveHandler(tc)

	result := callTool(t, handler, map[string]interface{}{
		"owner":         "alice",
		"query":         "anything",
		"created_after": "yesterday",
	})
	assert.True(t, result.IsError)
}

func TestForgetAndArchivedTools(t *testing.T) {
	tc := setupToolContext(t)
	ctx := context.Background()

	save := SaveHandler(tc)
	result := callTool(t, save, map[string]interface{}{
		"owner":   "alice",
		"content": "embarrassing typo in announcement",
	})
	id := extractID(t, resultText(t, result))
	require.NoError(t, tc.Backfill.Process(ctx, id))

	forget := ForgetHandler(tc)

	// Wrong owner cannot forget
	result = callTool(t, forget, map[string]interface{}{"owner": "bob", "id": id})
	assert.True(t, result.IsError)

	result = callTool(t, forget, map[string]interface{}{"owner": "alice", "id": id})
	assert.False(t, result.IsError)
	assert.False(t, tc.Index.Contains(id))

	// Second forget reports already archived, not an error
	result = callTool(t, forget, map[string]interface{}{"owner": "alice", "id": id})
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already archived")

	archived := ArchivedHandler(tc)

	result = callTool(t, archived, map[string]interface{}{"owner": "alice", "id": id})
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, database.ArchiveReasonManual)
	assert.Contains(t, text, "embarrassing typo in announcement")

	// Listing
	result = callTool(t, archived, map[string]interface{}{"owner": "alice"})
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), id)

	// Wrong owner cannot read the entry
	result = callTool(t, archived, map[string]interface{}{"owner": "bob", "id": id})
	assert.True(t, result.IsError)
}

func TestConsolidateTool(t *testing.T) {
	tc := setupToolContext(t)
	ctx := context.Background()

	save := SaveHandler(tc)
	var ids []string
	for _, content := range []string{
		"standup moved to 9:30",
		"standup moved to 9:30 starting Monday",
	} {
		result := callTool(t, save, map[string]interface{}{
			"owner":   "alice",
			"content": content,
		})
		id := extractID(t, resultText(t, result))
		// Mock client embeds everything identically, so the two records
		// are exact duplicates in vector space.
		require.NoError(t, tc.Backfill.Process(ctx, id))
		ids = append(ids, id)
	}

	handler := ConsolidateHandler(tc)
	result := callTool(t, handler, map[string]interface{}{"owner": "alice"})
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Clusters merged: 1")
	assert.Contains(t, text, "Memories archived: 2")

	for _, id := range ids {
		rec, err := tc.Records.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Archived)
	}

	result = callTool(t, handler, map[string]interface{}{})
	assert.True(t, result.IsError)
}
