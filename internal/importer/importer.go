// Package importer performs one-shot ingestion of untracked Markdown files:
// each file without markers is registered as a file-level block and created
// in the graph, flagged for downstream processing.
package importer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/blockparser"
	"github.com/aclarai/vaultsync/internal/checksum"
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/models"
	"github.com/aclarai/vaultsync/internal/vault"
	"github.com/aclarai/vaultsync/internal/writeback"
)

// Summary reports one import run.
type Summary struct {
	Scanned    int      `json:"scanned"`
	Registered int      `json:"registered"`
	Tracked    int      `json:"already_tracked"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}

// Importer registers untracked vault files.
type Importer struct {
	vault  vault.Provider
	graph  graphstore.Graph
	writer *writeback.Writer
	logger *slog.Logger
}

// New creates an importer over the given vault and graph store.
func New(v vault.Provider, g graphstore.Graph, logger *slog.Logger) *Importer {
	return &Importer{vault: v, graph: g, writer: writeback.New(v), logger: logger}
}

// Run walks the vault and registers every untracked file. Files whose
// semantic text already exists in the graph are skipped as duplicates.
// Per-file failures are collected, never fatal for the run.
func (im *Importer) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	metas, err := im.vault.List("")
	if err != nil {
		return summary, err
	}

	for _, m := range metas {
		summary.Scanned++

		data, err := im.vault.Read(m.Path)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if blockparser.HasMarkers(data) {
			summary.Tracked++
			continue
		}

		text := blockparser.FileSemanticText(data)
		hash := checksum.Text(text)

		// Duplicate detection: identical semantic content is already in
		// the graph under another file; re-registering it would fork ids.
		if _, err := im.graph.FindActiveByHash(ctx, hash); err == nil {
			im.logger.Info("import: duplicate content skipped", slog.String("path", m.Path))
			summary.Duplicates++
			continue
		} else if !errors.Is(err, apperr.ErrNotFound) {
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}

		id, registered, err := im.writer.RegisterFileLevel(m.Path)
		if err != nil || !registered {
			if err != nil {
				summary.Errors = append(summary.Errors, err.Error())
			}
			continue
		}

		if err := im.graph.CreateBlock(ctx, graphstore.NodeRecord{
			ID:          id,
			SourceFile:  m.Path,
			BlockType:   models.BlockFileLevel,
			Text:        text,
			ContentHash: hash,
			Version:     1,
		}); err != nil {
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}

		// Record the post-registration checksum so the next scan does not
		// immediately reprocess the file we just rewrote.
		if updated, err := im.vault.Read(m.Path); err == nil {
			_ = im.graph.SetFileChecksum(ctx, m.Path, checksum.Sum(updated))
		}

		summary.Registered++
		im.logger.Info("import: file registered",
			slog.String("path", m.Path), slog.String("id", id))
	}
	return summary, nil
}
