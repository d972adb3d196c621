// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// NewArchivedTool creates the mnemo_archived tool definition
func NewArchivedTool() mcp.Tool {
	return mcp.NewTool("mnemo_archived",
		mcp.WithDescription("Read the archive. With an id, returns the full frozen snapshot of that memory. Without an id, lists an owner's archive entries, optionally restricted to entries archived since a timestamp."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Namespace to read archives for"),
		),
		mcp.WithString("id",
			mcp.Description("Original memory id to fetch a single archive entry"),
		),
		mcp.WithString("since",
			mcp.Description("When listing, only include entries archived at or after this RFC3339 timestamp"),
		),
	)
}

// ArchivedHandler handles the mnemo_archived tool
func ArchivedHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner := request.GetString("owner", "")
		id := request.GetString("id", "")

		if owner == "" {
			return mcp.NewToolResultError("owner is required"), nil
		}

		if id != "" {
			return getArchived(ctx, tc, owner, id)
		}

		var since time.Time
		if raw := request.GetString("since", ""); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid since timestamp: %v", err)), nil
			}
			since = ts
		}
		return listArchived(ctx, tc, owner, since)
	}
}

// getArchived returns a single archive entry with its full snapshot
func getArchived(ctx context.Context, tc *ToolContext, owner, id string) (*mcp.CallToolResult, error) {
	entry, err := tc.Archive.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrArchiveNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no archive entry for id %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load archive entry: %v", err)), nil
	}
	if entry.Owner != owner {
		return mcp.NewToolResultError(fmt.Sprintf("no archive entry for id %s", id)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Archive entry `%s`\n\n", entry.OriginalID))
	sb.WriteString(fmt.Sprintf("**Archived**: %s | **Reason**: %s\n", entry.ArchivedAt.Format(time.RFC3339), entry.ArchivedReason))
	if entry.ReplacementID != "" {
		sb.WriteString(fmt.Sprintf("**Replaced by**: `%s`\n", entry.ReplacementID))
	}
	sb.WriteString("\n## Snapshot\n\n")
	sb.WriteString(entry.Snapshot)
	return mcp.NewToolResultText(sb.String()), nil
}

// listArchived lists an owner's archive entries
func listArchived(ctx context.Context, tc *ToolContext, owner string, since time.Time) (*mcp.CallToolResult, error) {
	entries, err := tc.Archive.List(ctx, owner, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list archive entries: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No archive entries found."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d archive entries:\n\n", len(entries)))
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("- `%s` archived %s (%s)",
			entry.OriginalID, entry.ArchivedAt.Format("2006-01-02 15:04"), entry.ArchivedReason))
		if entry.ArchivedReason == database.ArchiveReasonConsolidated && entry.ReplacementID != "" {
			sb.WriteString(fmt.Sprintf(", replaced by `%s`", entry.ReplacementID))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}
