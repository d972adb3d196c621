// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// NewSaveTool creates the mnemo_save tool definition
func NewSaveTool() mcp.Tool {
	return mcp.NewTool("mnemo_save",
		mcp.WithDescription("Store a new memory. The memory is persisted immediately and becomes semantically searchable shortly after (the embedding is computed in the background). Use importance to control how slowly the memory fades: 10 for critical facts, 5 for normal notes, 1 for trivia."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Namespace the memory belongs to, e.g. an agent or user id. Memories never leak across owners."),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The memory content. Markdown is fine."),
		),
		mcp.WithString("kind",
			mcp.Description("Free-form type label, e.g. 'note', 'decision', 'fact'"),
		),
		mcp.WithString("category",
			mcp.Description("Category used for filtered retrieval, e.g. 'ops', 'personal'"),
		),
		mcp.WithString("metadata",
			mcp.Description("Optional JSON object of additional key/value metadata"),
		),
		mcp.WithNumber("importance",
			mcp.Description("Importance from 1 to 10. Default: 5. Values outside the range are clamped."),
		),
	)
}

// SaveHandler handles the mnemo_save tool
func SaveHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner := request.GetString("owner", "")
		content := request.GetString("content", "")
		kind := request.GetString("kind", "")
		category := request.GetString("category", "")
		rawMetadata := request.GetString("metadata", "")
		importance := int(request.GetFloat("importance", 5.0))

		var metadata database.JSONMap
		if rawMetadata != "" {
			if err := json.Unmarshal([]byte(rawMetadata), &metadata); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("metadata is not a valid JSON object: %v", err)), nil
			}
		}

		rec, err := tc.Records.Save(ctx, store.SaveInput{
			Owner:      owner,
			Kind:       kind,
			Category:   category,
			Content:    content,
			Metadata:   metadata,
			Importance: importance,
		})
		if err != nil {
			if errors.Is(err, store.ErrValidation) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to save memory: %v", err)), nil
		}

		// Embedding fill is best effort; a full queue is caught by the
		// periodic backfill sweep.
		if tc.Backfill != nil {
			tc.Backfill.Enqueue(rec.ID)
		}

		tc.Logger.Debug("memory saved", "id", rec.ID, "owner", owner, "importance", rec.Importance)
		return mcp.NewToolResultText(fmt.Sprintf("Memory saved.\n\n**ID**: `%s`\n**Importance**: %d\n\nIt will become semantically searchable once its embedding is computed.", rec.ID, rec.Importance)), nil
	}
}
