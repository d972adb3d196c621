// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewConsolidateTool creates the mnemo_consolidate tool definition
func NewConsolidateTool() mcp.Tool {
	return mcp.NewTool("mnemo_consolidate",
		mcp.WithDescription("Merge near-duplicate memories for an owner into single consolidated records. Every merged source is archived before it disappears, so nothing is lost. Safe to run repeatedly; recently consolidated memories are skipped for a cooldown period."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Namespace to consolidate"),
		),
		mcp.WithNumber("batch_size",
			mcp.Description("Max memories to scan in this run. Default: 100."),
		),
	)
}

// ConsolidateHandler handles the mnemo_consolidate tool
func ConsolidateHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner := request.GetString("owner", "")
		batchSize := int(request.GetFloat("batch_size", 0))

		if owner == "" {
			return mcp.NewToolResultError("owner is required"), nil
		}

		res, err := tc.Consolidator.Run(ctx, owner, batchSize)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("consolidation failed: %v", err)), nil
		}

		if res.ClustersFound == 0 {
			return mcp.NewToolResultText("No near-duplicate clusters found. Nothing to consolidate."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"Consolidation finished.\n\n- Clusters found: %d\n- Clusters merged: %d\n- Clusters skipped: %d\n- Memories archived: %d",
			res.ClustersFound, res.ClustersMerged, res.ClustersSkipped, res.RecordsArchived)), nil
	}
}
