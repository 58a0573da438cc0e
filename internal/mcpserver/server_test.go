package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/scanner"
	"github.com/aclarai/vaultsync/internal/syncservice"
	"github.com/aclarai/vaultsync/internal/testutil"
	"github.com/aclarai/vaultsync/internal/writeback"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	vaultDir, v := testutil.TestVault(t)
	g := testutil.TestGraph(t)
	logger := testutil.SilentLogger()

	p := reconcile.New(v, g, logger, reconcile.Options{})
	sc := scanner.New(v, g, p, logger, time.Minute)
	svc := syncservice.New(g, sc, p, writeback.New(v))

	return New(svc), vaultDir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we dispatch
	// to the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "run_sync":
		result, err = srv.runSync(ctx, req)
	case "get_block":
		result, err = srv.getBlock(ctx, req)
	case "list_conflicts":
		result, err = srv.listConflicts(ctx, req)
	case "list_dirty_blocks":
		result, err = srv.listDirtyBlocks(ctx, req)
	case "update_block":
		result, err = srv.updateBlock(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func seedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunSyncAndGetBlock(t *testing.T) {
	srv, dir := testServer(t)
	seedFile(t, dir, "a.md", "Water boils at 100C.\n<!-- id=blk_a ver=1 -->\n^blk_a\n")

	r := callTool(t, srv, "run_sync", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("run_sync error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"added": 1`) {
		t.Errorf("run_sync result = %s", resultText(r))
	}

	r = callTool(t, srv, "get_block", map[string]interface{}{"id": "blk_a"})
	if r.IsError {
		t.Fatalf("get_block error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"id": "blk_a"`) || !strings.Contains(text, `"version": 1`) {
		t.Errorf("get_block result = %s", text)
	}
}

func TestGetBlockMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_block", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error result for missing block")
	}
}

func TestListConflictsEmpty(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_conflicts", map[string]interface{}{})
	if resultText(r) != "no conflicts" {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestListConflictsAfterRegression(t *testing.T) {
	srv, dir := testServer(t)

	seedFile(t, dir, "a.md", "Current state.\n<!-- id=blk_c ver=4 -->\n^blk_c\n")
	callTool(t, srv, "run_sync", map[string]interface{}{})
	seedFile(t, dir, "a.md", "Restored backup.\n<!-- id=blk_c ver=1 -->\n^blk_c\n")
	callTool(t, srv, "run_sync", map[string]interface{}{})

	r := callTool(t, srv, "list_conflicts", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "blk_c") {
		t.Errorf("conflicts = %s", text)
	}
}

func TestListDirtyBlocks(t *testing.T) {
	srv, dir := testServer(t)
	seedFile(t, dir, "a.md", "Dirty content.\n<!-- id=blk_d ver=1 -->\n^blk_d\n")
	callTool(t, srv, "run_sync", map[string]interface{}{})

	r := callTool(t, srv, "list_dirty_blocks", map[string]interface{}{})
	if !strings.Contains(resultText(r), "blk_d") {
		t.Errorf("dirty list = %s", resultText(r))
	}
}

func TestUpdateBlock(t *testing.T) {
	srv, dir := testServer(t)
	seedFile(t, dir, "a.md", "Before edit.\n<!-- id=blk_u ver=1 -->\n^blk_u\n")
	callTool(t, srv, "run_sync", map[string]interface{}{})

	r := callTool(t, srv, "update_block", map[string]interface{}{
		"id":   "blk_u",
		"text": "After edit.",
	})
	if r.IsError {
		t.Fatalf("update_block error: %s", resultText(r))
	}

	r = callTool(t, srv, "get_block", map[string]interface{}{"id": "blk_u"})
	text := resultText(r)
	if !strings.Contains(text, `"version": 2`) || !strings.Contains(text, "After edit.") {
		t.Errorf("block after update = %s", text)
	}
}

func TestToolsRegistered(t *testing.T) {
	srv, _ := testServer(t)
	if srv.MCPServer() == nil {
		t.Fatal("MCPServer is nil")
	}
}
