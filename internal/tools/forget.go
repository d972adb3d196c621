// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// NewForgetTool creates the mnemo_forget tool definition
func NewForgetTool() mcp.Tool {
	return mcp.NewTool("mnemo_forget",
		mcp.WithDescription("Archive a memory so it stops appearing in retrieval. The memory is not destroyed: a full snapshot is kept in the archive and can be read back with mnemo_archived."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Namespace the memory belongs to"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("ID of the memory to forget"),
		),
	)
}

// ForgetHandler handles the mnemo_forget tool
func ForgetHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner := request.GetString("owner", "")
		id := request.GetString("id", "")

		if owner == "" || id == "" {
			return mcp.NewToolResultError("owner and id are required"), nil
		}

		rec, err := tc.Records.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("no memory with id %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to load memory: %v", err)), nil
		}
		if rec.Owner != owner {
			// Same response as not-found so ids cannot be probed across
			// owners
			return mcp.NewToolResultError(fmt.Sprintf("no memory with id %s", id)), nil
		}

		if err := tc.Records.Archive(ctx, id, database.ArchiveReasonManual); err != nil {
			if errors.Is(err, store.ErrAlreadyArchived) {
				return mcp.NewToolResultText("That memory is already archived."), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to archive memory: %v", err)), nil
		}

		tc.Index.Remove(id)
		tc.Logger.Debug("memory forgotten", "id", id, "owner", owner)
		return mcp.NewToolResultText(fmt.Sprintf("Memory `%s` archived. Its snapshot remains readable via mnemo_archived.", id)), nil
	}
}
