package syncservice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/scanner"
	"github.com/aclarai/vaultsync/internal/testutil"
	"github.com/aclarai/vaultsync/internal/writeback"
)

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	vaultDir, v := testutil.TestVault(t)
	g := testutil.TestGraph(t)
	logger := testutil.SilentLogger()

	p := reconcile.New(v, g, logger, reconcile.Options{})
	sc := scanner.New(v, g, p, logger, time.Minute)
	w := writeback.New(v)
	return New(g, sc, p, w), vaultDir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunPassAndGetBlock(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	writeFile(t, dir, "a.md", "Roses are red.\n<!-- id=blk_a ver=1 -->\n^blk_a\n")

	sum, err := svc.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sum.Added != 1 {
		t.Fatalf("Added = %d, want 1", sum.Added)
	}

	rec, err := svc.GetBlock(ctx, "blk_a")
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if rec.Version != 1 || !rec.Active {
		t.Errorf("record = v%d active=%v, want v1 active", rec.Version, rec.Active)
	}
}

func TestDirtyBlocksLifecycle(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	writeFile(t, dir, "a.md", "Some text.\n<!-- id=blk_d ver=1 -->\n^blk_d\n")
	if _, err := svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	dirty, err := svc.DirtyBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 || dirty[0].ID != "blk_d" {
		t.Fatalf("dirty = %+v, want one blk_d", dirty)
	}

	if err := svc.MarkReprocessed(ctx, "blk_d"); err != nil {
		t.Fatal(err)
	}
	dirty, err = svc.DirtyBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Errorf("dirty after MarkReprocessed = %d, want 0", len(dirty))
	}
}

func TestUpdateBlockTextRoundTrip(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	writeFile(t, dir, "a.md", "Original claim.\n<!-- id=blk_u ver=1 -->\n^blk_u\n")
	if _, err := svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.UpdateBlockText(ctx, "blk_u", "Revised claim.")
	if err != nil {
		t.Fatalf("UpdateBlockText: %v", err)
	}
	if sum.Updated != 1 {
		t.Fatalf("Updated = %d, want 1: %+v", sum.Updated, sum)
	}

	rec, err := svc.GetBlock(ctx, "blk_u")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Version)
	}
	if rec.Text != "Revised claim." {
		t.Errorf("text = %q", rec.Text)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Revised claim.") {
		t.Errorf("file not rewritten: %q", data)
	}
	if !strings.Contains(string(data), "ver=2") {
		t.Errorf("marker version not bumped: %q", data)
	}
}

func TestUpdateBlockTextUnknownID(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.UpdateBlockText(context.Background(), "missing", "x"); err == nil {
		t.Fatal("expected error for unknown block id")
	}
}
