// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package server exposes the memory store over the Model Context
// Protocol, in stdio mode for editor integration or as a streamable
// HTTP endpoint.
package server

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tejzpr/mnemo-mcp/internal/config"
	"github.com/tejzpr/mnemo-mcp/internal/tools"
)

// MCPServer wraps the mcp-go server with our configuration
type MCPServer struct {
	mcpServer *server.MCPServer
	toolCtx   *tools.ToolContext
	config    *config.Config
	logger    *log.Logger
}

// NewMCPServer creates a new MCP server instance and registers all
// tools
func NewMCPServer(cfg *config.Config, toolCtx *tools.ToolContext, logger *log.Logger) *MCPServer {
	if logger == nil {
		logger = log.Default()
	}

	mcpServer := server.NewMCPServer(
		"Mnemo",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	srv := &MCPServer{
		mcpServer: mcpServer,
		toolCtx:   toolCtx,
		config:    cfg,
		logger:    logger,
	}
	srv.registerTools()
	return srv
}

// registerTools registers the five core tools
func (s *MCPServer) registerTools() {
	// mnemo_save: ingest a memory
	s.mcpServer.AddTool(tools.NewSaveTool(), tools.SaveHandler(s.toolCtx))

	// mnemo_retrieve: semantic search
	s.mcpServer.AddTool(tools.NewRetrieveTool(), tools.RetrieveHandler(s.toolCtx))

	// mnemo_consolidate: merge near-duplicates
	s.mcpServer.AddTool(tools.NewConsolidateTool(), tools.ConsolidateHandler(s.toolCtx))

	// mnemo_forget: archive a memory
	s.mcpServer.AddTool(tools.NewForgetTool(), tools.ForgetHandler(s.toolCtx))

	// mnemo_archived: read the archive
	s.mcpServer.AddTool(tools.NewArchivedTool(), tools.ArchivedHandler(s.toolCtx))

	s.logger.Debug("registered MCP tools", "count", 5)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout. All logging must go to
// stderr; stdout carries JSON-RPC only.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves MCP over streamable HTTP on the configured address
func (s *MCPServer) ServeHTTP() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.logger.Info("HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}
