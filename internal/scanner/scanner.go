// Package scanner implements the periodic full-vault reconciliation pass.
//
// The scan is the consistency backstop: it guarantees eventual convergence
// even when individual watcher events are dropped, and it is the only
// source of block deletions: absence from a fully scanned vault is
// definitive, absence from a single reactive event is not.
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/aclarai/vaultsync/internal/blockparser"
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/vault"
)

// Scanner walks every tracked vault file on a fixed schedule and feeds the
// same pipeline the watcher uses.
type Scanner struct {
	vault    vault.Provider
	graph    graphstore.Graph
	pipeline *reconcile.Pipeline
	logger   *slog.Logger
	interval time.Duration
}

// New creates a scanner. interval controls Run's schedule; RunOnce can be
// called directly regardless.
func New(v vault.Provider, g graphstore.Graph, p *reconcile.Pipeline, logger *slog.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{vault: v, graph: g, pipeline: p, logger: logger, interval: interval}
}

// Run performs scans on the configured interval until ctx is cancelled.
// An initial pass runs immediately.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Warn("scanner: initial pass failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner: stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Warn("scanner: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce walks the vault and brings the graph up to date:
//   - new/changed files (by raw checksum) run through the full pipeline
//   - blocks missing from a re-parsed file are marked deleted
//   - files removed from disk have all their blocks marked deleted
func (s *Scanner) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	var summary reconcile.Summary

	metas, err := s.vault.List("")
	if err != nil {
		return summary, err
	}
	known, err := s.graph.FileChecksums(ctx)
	if err != nil {
		return summary, err
	}

	disk := make(map[string]struct{}, len(metas))
	var changed []string
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if known[m.Path] == m.Checksum {
			continue
		}
		changed = append(changed, m.Path)
	}

	// Deletion detection must see the ids that survived in each changed
	// file, so changed files are handled here file-by-file rather than
	// via the batch helper.
	for _, path := range changed {
		summary.Merge(s.pipeline.ProcessFile(ctx, path))
		summary.Merge(s.markVanishedBlocks(ctx, path))
	}

	// Files removed from disk: every block they carried is gone.
	for path := range known {
		if _, ok := disk[path]; ok {
			continue
		}
		ids, err := s.graph.ActiveIDsByFile(ctx, path)
		if err != nil {
			s.logger.Warn("scanner: list blocks failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		summary.Merge(s.pipeline.MarkDeleted(ctx, path, ids))
		if err := s.graph.DeleteFileState(ctx, path); err != nil {
			s.logger.Warn("scanner: forget file failed",
				slog.String("path", path), slog.String("error", err.Error()))
		} else {
			s.logger.Debug("scanner: removed stale file state", slog.String("path", path))
		}
	}

	s.logger.Info("scanner: pass complete",
		slog.Int("files_changed", len(changed)),
		slog.Int("blocks_processed", summary.Processed),
		slog.Int("added", summary.Added),
		slog.Int("updated", summary.Updated),
		slog.Int("deleted", summary.Deleted),
		slog.Int("conflicts", len(summary.Conflicts)),
		slog.Int("errors", len(summary.Errors)))
	return summary, nil
}

// markVanishedBlocks deactivates blocks the graph attributes to path that
// the re-parsed file no longer contains. A block whose marker merely failed
// to parse still counts as present: its id remains in the file, so deleting
// it would punish a typo in the marker.
func (s *Scanner) markVanishedBlocks(ctx context.Context, path string) reconcile.Summary {
	var summary reconcile.Summary

	data, err := s.vault.Read(path)
	if err != nil {
		return summary
	}
	res := blockparser.Parse(path, data)
	present := make(map[string]struct{})
	for _, blk := range res.Blocks {
		present[blk.ID] = struct{}{}
	}
	for _, perr := range res.Errors {
		if perr.ID == "" {
			// A marker so mangled its id is unreadable could belong to
			// any block in the file. Leave the sweep to a later pass
			// once the file parses again.
			s.logger.Warn("scanner: skipping deletion sweep, unattributable parse error",
				slog.String("path", path), slog.Int("line", perr.Line))
			return summary
		}
		present[perr.ID] = struct{}{}
	}

	ids, err := s.graph.ActiveIDsByFile(ctx, path)
	if err != nil {
		s.logger.Warn("scanner: list blocks failed",
			slog.String("path", path), slog.String("error", err.Error()))
		return summary
	}
	var gone []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		summary.Merge(s.pipeline.MarkDeleted(ctx, path, gone))
	}
	return summary
}
