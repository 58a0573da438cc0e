package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/models"
)

// NodeRecord is the persisted counterpart of a vault block.
type NodeRecord struct {
	ID                string           `json:"id"`
	SourceFile        string           `json:"source_file_path"`
	BlockType         models.BlockType `json:"block_type"`
	Text              string           `json:"text"`
	ContentHash       string           `json:"content_hash"`
	Version           int64            `json:"version"`
	NeedsReprocessing bool             `json:"needs_reprocessing"`
	Active            bool             `json:"active"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// Update is one accepted change to apply against the store. ExpectVersion
// is the graph version the caller read when deciding; the write succeeds
// only if the stored version still matches it.
type Update struct {
	ID            string
	SourceFile    string
	Text          string
	ContentHash   string
	ExpectVersion int64
}

// BatchResult is the per-item outcome of ApplyBatch.
type BatchResult struct {
	ID  string
	Err error
}

const selectRecord = `
SELECT id, source_file, block_type, text, content_hash, version,
       needs_reprocessing, active, last_updated
FROM blocks`

func scanRecord(row interface{ Scan(...any) error }) (*NodeRecord, error) {
	var rec NodeRecord
	var blockType string
	err := row.Scan(&rec.ID, &rec.SourceFile, &blockType, &rec.Text,
		&rec.ContentHash, &rec.Version, &rec.NeedsReprocessing,
		&rec.Active, &rec.LastUpdated)
	if err != nil {
		return nil, err
	}
	rec.BlockType = models.BlockType(blockType)
	return &rec, nil
}

// Get returns the record for id, or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*NodeRecord, error) {
	rec, err := scanRecord(s.conn.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graphstore: get %s: %w", id, err)
	}
	return rec, nil
}

// VersionAndHash returns the stored version and content hash for id, or
// apperr.ErrNotFound when the id is not tracked.
func (s *Store) VersionAndHash(ctx context.Context, id string) (int64, string, error) {
	var version int64
	var hash string
	err := s.conn.QueryRowContext(ctx,
		`SELECT version, content_hash FROM blocks WHERE id = ?`, id).Scan(&version, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", apperr.ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("graphstore: version and hash %s: %w", id, err)
	}
	return version, hash, nil
}

// CreateBlock inserts a new block record flagged for reprocessing.
// The declared version is adopted as the counter's starting point; anything
// below 1 starts at 1.
func (s *Store) CreateBlock(ctx context.Context, rec NodeRecord) error {
	if rec.Version < 1 {
		rec.Version = 1
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO blocks (id, source_file, block_type, text, content_hash,
			version, needs_reprocessing, active, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, 1, 1, ?)
	`, rec.ID, rec.SourceFile, string(rec.BlockType), rec.Text, rec.ContentHash,
		rec.Version, time.Now().UTC())
	if err != nil {
		var exists bool
		if s.conn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM blocks WHERE id = ?)`, rec.ID).Scan(&exists) == nil && exists {
			return fmt.Errorf("graphstore: create %s: %w", rec.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("graphstore: create %s: %w", rec.ID, err)
	}
	return nil
}

// ApplyUpdate applies one accepted change as a compare-and-increment:
// text, hash, and the reprocessing flag are updated and the version is
// bumped by exactly one, but only while the stored version still equals
// u.ExpectVersion. A lost race returns apperr.ErrConflict; an unknown id
// returns apperr.ErrNotFound.
func (s *Store) ApplyUpdate(ctx context.Context, u Update) error {
	return s.applyUpdate(ctx, s.conn, u)
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) applyUpdate(ctx context.Context, db execer, u Update) error {
	res, err := db.ExecContext(ctx, `
		UPDATE blocks
		SET text = ?, content_hash = ?, version = version + 1,
		    needs_reprocessing = 1, active = 1, source_file = ?, last_updated = ?
		WHERE id = ? AND version = ?
	`, u.Text, u.ContentHash, u.SourceFile, time.Now().UTC(), u.ID, u.ExpectVersion)
	if err != nil {
		return fmt.Errorf("graphstore: apply update %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("graphstore: apply update %s: %w", u.ID, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks WHERE id = ?)`, u.ID).Scan(&exists); err != nil {
		return fmt.Errorf("graphstore: apply update %s: %w", u.ID, err)
	}
	if !exists {
		return fmt.Errorf("graphstore: apply update %s: %w", u.ID, apperr.ErrNotFound)
	}
	return fmt.Errorf("graphstore: apply update %s: version moved past %d: %w",
		u.ID, u.ExpectVersion, apperr.ErrConflict)
}

// ApplyBatch applies updates inside one transaction, recording a per-item
// outcome. A failed item is skipped, not rolled back with the rest: the
// transaction commits whatever succeeded. If the transaction itself cannot
// be opened or committed, every item reports that error.
func (s *Store) ApplyBatch(ctx context.Context, updates []Update) []BatchResult {
	results := make([]BatchResult, len(updates))
	for i, u := range updates {
		results[i].ID = u.ID
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		for i := range results {
			results[i].Err = fmt.Errorf("graphstore: begin batch: %w", err)
		}
		return results
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i, u := range updates {
		results[i].Err = s.applyUpdate(ctx, tx, u)
	}

	if err := tx.Commit(); err != nil {
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = fmt.Errorf("graphstore: commit batch: %w", err)
			}
		}
	}
	return results
}

// MarkInactive flags a block as deleted without purging its history.
func (s *Store) MarkInactive(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE blocks SET active = 0, last_updated = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("graphstore: mark inactive %s: %w", id, err)
	}
	return nil
}

// Reactivate restores a block that was marked inactive and has reappeared
// in the vault with unchanged content. The version counter stays put: it
// advances only on accepted content updates. The block is re-flagged for
// reprocessing so downstream consumers see it again. Unknown ids return
// apperr.ErrNotFound.
func (s *Store) Reactivate(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE blocks SET active = 1, needs_reprocessing = 1, last_updated = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("graphstore: reactivate %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("graphstore: reactivate %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ActiveIDsByFile returns the ids of active blocks recorded for path.
func (s *Store) ActiveIDsByFile(ctx context.Context, path string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM blocks WHERE source_file = ? AND active = 1`, path)
	if err != nil {
		return nil, fmt.Errorf("graphstore: active ids for %s: %w", path, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindActiveByHash returns an active block whose content hash equals hash,
// or apperr.ErrNotFound. Used for duplicate detection during import.
func (s *Store) FindActiveByHash(ctx context.Context, hash string) (*NodeRecord, error) {
	rec, err := scanRecord(s.conn.QueryRowContext(ctx,
		selectRecord+` WHERE content_hash = ? AND active = 1 LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graphstore: find by hash: %w", err)
	}
	return rec, nil
}

// DirtyBlocks lists active blocks flagged needs_reprocessing, the feed for
// the downstream claim-extraction consumer.
func (s *Store) DirtyBlocks(ctx context.Context) ([]NodeRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		selectRecord+` WHERE needs_reprocessing = 1 AND active = 1 ORDER BY last_updated`)
	if err != nil {
		return nil, fmt.Errorf("graphstore: dirty blocks: %w", err)
	}
	defer rows.Close()

	var out []NodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkReprocessed clears the needs_reprocessing flag for id.
func (s *Store) MarkReprocessed(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE blocks SET needs_reprocessing = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("graphstore: mark reprocessed %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("graphstore: mark reprocessed %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// RecordConflict persists a rejected update for later inspection.
func (s *Store) RecordConflict(ctx context.Context, c models.Conflict) error {
	detected := c.DetectedAt
	if detected.IsZero() {
		detected = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO conflicts (block_id, vault_version, graph_version, file_path, detected_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.BlockID, c.VaultVersion, c.GraphVersion, c.FilePath, detected)
	if err != nil {
		return fmt.Errorf("graphstore: record conflict %s: %w", c.BlockID, err)
	}
	return nil
}

// ClearConflicts removes recorded conflicts for a block, typically after a
// later update for it was accepted.
func (s *Store) ClearConflicts(ctx context.Context, blockID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM conflicts WHERE block_id = ?`, blockID)
	if err != nil {
		return fmt.Errorf("graphstore: clear conflicts %s: %w", blockID, err)
	}
	return nil
}

// Conflicts lists every unresolved conflict, oldest first.
func (s *Store) Conflicts(ctx context.Context) ([]models.Conflict, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT block_id, vault_version, graph_version, file_path, detected_at
		FROM conflicts ORDER BY detected_at
	`)
	if err != nil {
		return nil, fmt.Errorf("graphstore: conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.Conflict
	for rows.Next() {
		var c models.Conflict
		if err := rows.Scan(&c.BlockID, &c.VaultVersion, &c.GraphVersion,
			&c.FilePath, &c.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FileChecksums returns the raw-byte checksum recorded for every scanned
// file, used by the scanner to skip unchanged files.
func (s *Store) FileChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT path, checksum FROM file_state`)
	if err != nil {
		return nil, fmt.Errorf("graphstore: file checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// SetFileChecksum upserts the raw checksum recorded for path.
func (s *Store) SetFileChecksum(ctx context.Context, path, checksum string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO file_state (path, checksum, scanned_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum, scanned_at = excluded.scanned_at
	`, path, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("graphstore: set file checksum %s: %w", path, err)
	}
	return nil
}

// DeleteFileState forgets the scan record for a removed file.
func (s *Store) DeleteFileState(ctx context.Context, path string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM file_state WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("graphstore: delete file state %s: %w", path, err)
	}
	return nil
}
