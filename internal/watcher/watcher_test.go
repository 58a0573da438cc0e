package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/testutil"
	"github.com/aclarai/vaultsync/internal/vault"
)

func watcherTestEnv(t *testing.T) (*Watcher, *vault.FS, *graphstore.Store) {
	t.Helper()
	vaultDir, v := testutil.TestVault(t)
	g := testutil.TestGraph(t)
	logger := testutil.SilentLogger()
	p := reconcile.New(v, g, logger, reconcile.Options{})
	w := New(v, g, p, vaultDir, logger, Options{Debounce: 50 * time.Millisecond})
	return w, v, g
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the fsnotify registration a moment before mutating the vault.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_NewFileSynced(t *testing.T) {
	w, v, g := watcherTestEnv(t)
	startWatcher(t, w)

	if err := v.Write("conv/new.md", []byte("Fresh claim. <!-- id=blk_w1 ver=1 -->\n^blk_w1\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		rec, err := g.Get(context.Background(), "blk_w1")
		return err == nil && rec.Active
	}, "new block never reached the graph")
}

func TestWatcher_ModifiedFileSynced(t *testing.T) {
	w, v, g := watcherTestEnv(t)
	ctx := context.Background()

	_ = v.Write("conv/edit.md", []byte("Before. <!-- id=blk_w2 ver=1 -->\n^blk_w2\n"))
	// Seed the graph through a direct pass so the watcher sees a modification.
	p := reconcile.New(v, g, testutil.SilentLogger(), reconcile.Options{})
	_ = p.ProcessFile(ctx, "conv/edit.md")

	startWatcher(t, w)
	_ = v.Write("conv/edit.md", []byte("After. <!-- id=blk_w2 ver=1 -->\n^blk_w2\n"))

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		rec, err := g.Get(ctx, "blk_w2")
		return err == nil && rec.Version == 2 && rec.Text == "After."
	}, "modification never reached the graph")
}

func TestWatcher_RemovedFileSwept(t *testing.T) {
	w, v, g := watcherTestEnv(t)
	ctx := context.Background()

	_ = v.Write("conv/gone.md", []byte("Doomed. <!-- id=blk_w3 ver=1 -->\n^blk_w3\n"))
	p := reconcile.New(v, g, testutil.SilentLogger(), reconcile.Options{})
	_ = p.ProcessFile(ctx, "conv/gone.md")

	startWatcher(t, w)
	if err := v.Delete("conv/gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		rec, err := g.Get(ctx, "blk_w3")
		return err == nil && !rec.Active
	}, "removed file's block never deactivated")
}

func TestWatcher_NewDirectoryPickedUp(t *testing.T) {
	w, v, g := watcherTestEnv(t)
	startWatcher(t, w)

	if err := v.Write("newdir/nested.md", []byte("Nested. <!-- id=blk_w4 ver=1 -->\n^blk_w4\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		_, err := g.Get(context.Background(), "blk_w4")
		return err == nil
	}, "file in new directory never synced")
}
