// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes vault-graph sync tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/syncservice"
)

// Server wraps the MCP server with vaultsync tools.
type Server struct {
	mcp *server.MCPServer
	svc *syncservice.Service
}

// New creates a new MCP server with all sync tools registered.
func New(svc *syncservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"vaultsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("run_sync",
		mcp.WithDescription("Run one full vault scan, reconciling every tracked block "+
			"against the graph. Returns the pass summary including any conflicts."),
	), s.runSync)

	s.mcp.AddTool(mcp.NewTool("get_block",
		mcp.WithDescription("Fetch the graph record for a block id, including its "+
			"canonical version, content hash, and reprocessing state."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block id (e.g. blk_abc123)")),
	), s.getBlock)

	s.mcp.AddTool(mcp.NewTool("list_conflicts",
		mcp.WithDescription("List unresolved version conflicts: blocks whose vault copy "+
			"regressed behind the graph's version and needs a manual edit to resolve."),
	), s.listConflicts)

	s.mcp.AddTool(mcp.NewTool("list_dirty_blocks",
		mcp.WithDescription("List blocks whose content changed since downstream consumers "+
			"last processed them."),
	), s.listDirtyBlocks)

	s.mcp.AddTool(mcp.NewTool("update_block",
		mcp.WithDescription("Rewrite a block's content in its vault file and sync the "+
			"change into the graph. The embedded version marker is bumped automatically."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block id to update")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New block content (Markdown)")),
	), s.updateBlock)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) runSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.svc.RunPass(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(sum, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetBlock(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conflicts, err := s.svc.ListConflicts(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(conflicts) == 0 {
		return mcp.NewToolResultText("no conflicts"), nil
	}
	out, _ := json.MarshalIndent(conflicts, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDirtyBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs, err := s.svc.DirtyBlocks(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no blocks awaiting reprocessing"), nil
	}
	out, _ := json.MarshalIndent(recs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) updateBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.svc.UpdateBlockText(ctx, id, text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(sum, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
