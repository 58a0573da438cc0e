// Package testutil provides shared test helpers for setting up vaults and
// graph stores.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/vault"
)

// TestGraph creates a temporary SQLite graph store that is automatically
// cleaned up.
func TestGraph(t *testing.T) *graphstore.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "vaultsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := graphstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestVault creates a temporary vault directory with a vault.Provider.
func TestVault(t *testing.T) (string, *vault.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	v, err := vault.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, v
}

// SilentLogger returns a logger that discards output, keeping test logs
// readable.
func SilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
