package importer

import (
	"context"
	"testing"

	"github.com/aclarai/vaultsync/internal/blockparser"
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/models"
	"github.com/aclarai/vaultsync/internal/testutil"
	"github.com/aclarai/vaultsync/internal/vault"
)

func testImporter(t *testing.T) (*Importer, *vault.FS, *graphstore.Store) {
	t.Helper()
	_, v := testutil.TestVault(t)
	g := testutil.TestGraph(t)
	return New(v, g, testutil.SilentLogger()), v, g
}

func TestRun_RegistersUntrackedFile(t *testing.T) {
	im, v, g := testImporter(t)
	ctx := context.Background()

	_ = v.Write("logs/chat.md", []byte("Alice: hello\nBob: hi there\n"))

	summary, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Registered != 1 || len(summary.Errors) != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	// Marker written back to the vault.
	data, _ := v.Read("logs/chat.md")
	res := blockparser.Parse("logs/chat.md", data)
	if len(res.Blocks) != 1 || res.Blocks[0].Type != models.BlockFileLevel {
		t.Fatalf("blocks = %+v", res.Blocks)
	}

	// Graph record created and flagged dirty.
	rec, err := g.Get(ctx, res.Blocks[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.NeedsReprocessing || rec.Version != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_SkipsTrackedFiles(t *testing.T) {
	im, v, _ := testImporter(t)

	_ = v.Write("conv/tracked.md", []byte("Claim. <!-- id=blk_t ver=1 -->\n^blk_t\n"))
	summary, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Tracked != 1 || summary.Registered != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRun_SkipsDuplicateContent(t *testing.T) {
	im, v, _ := testImporter(t)
	ctx := context.Background()

	_ = v.Write("logs/original.md", []byte("Same conversation text.\n"))
	if _, err := im.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A copy with only whitespace differences is a duplicate.
	_ = v.Write("logs/copy.md", []byte("Same   conversation\ntext.\n"))
	summary, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Duplicates != 1 || summary.Registered != 0 {
		t.Errorf("summary = %+v", summary)
	}

	data, _ := v.Read("logs/copy.md")
	if blockparser.HasMarkers(data) {
		t.Error("duplicate file was registered anyway")
	}
}

func TestRun_Idempotent(t *testing.T) {
	im, v, _ := testImporter(t)
	ctx := context.Background()

	_ = v.Write("logs/a.md", []byte("Some text.\n"))
	first, _ := im.Run(ctx)
	if first.Registered != 1 {
		t.Fatalf("first = %+v", first)
	}
	second, _ := im.Run(ctx)
	if second.Registered != 0 || second.Tracked != 1 {
		t.Errorf("second = %+v", second)
	}

	data, _ := v.Read("logs/a.md")
	res := blockparser.Parse("logs/a.md", data)
	if len(res.Blocks) != 1 {
		t.Errorf("blocks = %d, want exactly 1 marker", len(res.Blocks))
	}
}
