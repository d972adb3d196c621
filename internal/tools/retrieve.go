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

	"github.com/tejzpr/mnemo-mcp/internal/retrieval"
)

// NewRetrieveTool creates the mnemo_retrieve tool definition
func NewRetrieveTool() mcp.Tool {
	return mcp.NewTool("mnemo_retrieve",
		mcp.WithDescription("Search memories by meaning. Results are ranked by a composite of semantic similarity, importance, freshness, and how often the memory has been used. Archived memories are never returned."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Namespace to search in"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, in natural language"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results. Default: 10."),
		),
		mcp.WithString("category",
			mcp.Description("Only return memories in this category"),
		),
		mcp.WithString("created_after",
			mcp.Description("Only return memories created at or after this RFC3339 timestamp"),
		),
		mcp.WithString("created_before",
			mcp.Description("Only return memories created at or before this RFC3339 timestamp"),
		),
	)
}

// RetrieveHandler handles the mnemo_retrieve tool
func RetrieveHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := retrieval.Query{
			Owner:    request.GetString("owner", ""),
			Text:     request.GetString("query", ""),
			Limit:    int(request.GetFloat("limit", float64(tc.DefaultLimit()))),
			Category: request.GetString("category", ""),
		}

		if raw := request.GetString("created_after", ""); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid created_after timestamp: %v", err)), nil
			}
			q.CreatedAfter = ts
		}
		if raw := request.GetString("created_before", ""); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid created_before timestamp: %v", err)), nil
			}
			q.CreatedBefore = ts
		}

		matches, err := tc.Retrieval.Retrieve(ctx, q)
		if err != nil {
			if errors.Is(err, retrieval.ErrEmbeddingUnavailable) {
				return mcp.NewToolResultError("the embedding provider is unavailable; semantic search cannot run right now, try again shortly"), nil
			}
			if errors.Is(err, retrieval.ErrInvalidQuery) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No memories found for: '%s'", q.Text)), nil
		}
		return mcp.NewToolResultText(formatMatches(matches)), nil
	}
}

// formatMatches formats ranked matches for output
func formatMatches(matches []retrieval.Match) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d memories:\n\n", len(matches)))

	for i, m := range matches {
		rec := m.Record
		sb.WriteString(fmt.Sprintf("## %d. `%s`\n", i+1, rec.ID))
		sb.WriteString(fmt.Sprintf("**Score**: %.3f | **Similarity**: %.3f | **Importance**: %d | **Created**: %s\n",
			m.Score, m.Similarity, rec.Importance, rec.CreatedAt.Format("2006-01-02")))
		if rec.Category != "" {
			sb.WriteString(fmt.Sprintf("**Category**: %s\n", rec.Category))
		}
		if len(rec.ConsolidatedFrom) > 0 {
			sb.WriteString(fmt.Sprintf("**Consolidated from** %d earlier memories\n", len(rec.ConsolidatedFrom)))
		}
		sb.WriteString("\n")

		content := rec.Content
		if len(content) > 1000 {
			content = content[:1000] + "\n\n... (content truncated)"
		}
		sb.WriteString(content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}
