// Package graphstore persists block records in SQLite and owns the canonical
// version counter for every block id.
//
// The store is the single serialization point for versions: an accepted
// update is a compare-and-swap keyed on the version the caller read, so a
// decision plus its write form one atomic compare-and-increment. Deleted
// blocks are marked inactive, never purged, to preserve traceability.
package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/aclarai/vaultsync/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	id                 TEXT PRIMARY KEY,
	source_file        TEXT NOT NULL,
	block_type         TEXT NOT NULL DEFAULT 'inline',
	text               TEXT NOT NULL DEFAULT '',
	content_hash       TEXT NOT NULL DEFAULT '',
	version            INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1),
	needs_reprocessing INTEGER NOT NULL DEFAULT 1,
	active             INTEGER NOT NULL DEFAULT 1,
	last_updated       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_blocks_file  ON blocks(source_file);
CREATE INDEX IF NOT EXISTS idx_blocks_dirty ON blocks(needs_reprocessing) WHERE needs_reprocessing = 1;

CREATE TABLE IF NOT EXISTS conflicts (
	block_id      TEXT NOT NULL,
	vault_version INTEGER NOT NULL,
	graph_version INTEGER NOT NULL,
	file_path     TEXT NOT NULL,
	detected_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conflicts_block ON conflicts(block_id);

CREATE TABLE IF NOT EXISTS file_state (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	scanned_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Graph defines the persistence operations the pipeline depends on.
// Consumers should depend on this interface rather than the concrete *Store
// type to facilitate testing with mocks.
type Graph interface {
	Get(ctx context.Context, id string) (*NodeRecord, error)
	VersionAndHash(ctx context.Context, id string) (int64, string, error)
	CreateBlock(ctx context.Context, rec NodeRecord) error
	ApplyUpdate(ctx context.Context, u Update) error
	ApplyBatch(ctx context.Context, updates []Update) []BatchResult
	MarkInactive(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) error
	ActiveIDsByFile(ctx context.Context, path string) ([]string, error)
	FindActiveByHash(ctx context.Context, hash string) (*NodeRecord, error)
	DirtyBlocks(ctx context.Context) ([]NodeRecord, error)
	MarkReprocessed(ctx context.Context, id string) error
	RecordConflict(ctx context.Context, c models.Conflict) error
	ClearConflicts(ctx context.Context, blockID string) error
	Conflicts(ctx context.Context) ([]models.Conflict, error)
	FileChecksums(ctx context.Context) (map[string]string, error)
	SetFileChecksum(ctx context.Context, path, checksum string) error
	DeleteFileState(ctx context.Context, path string) error
	Close() error
}

// Verify *Store satisfies Graph at compile time.
var _ Graph = (*Store)(nil)

// Store wraps a sql.DB with block-graph operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graphstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graphstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graphstore: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// IsTransient reports whether err is a store error worth retrying, such as
// a busy or locked database. Constraint violations and other logic errors
// are permanent.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return true
		}
		return false
	}
	// Context deadlines on individual attempts are retried by the caller's
	// backoff loop; cancellation of the whole run is not.
	return errors.Is(err, context.DeadlineExceeded)
}
