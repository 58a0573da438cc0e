// Package watcher is the reactive change event source: it turns fsnotify
// notifications into reconciliation batches.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/vault"
)

// Options tunes event batching; zero values fall back to defaults.
type Options struct {
	// Debounce is how long the watcher waits after the last event before
	// flushing a batch, absorbing bursts like a VCS checkout.
	Debounce time.Duration
	// MaxBatch flushes early once this many distinct files are pending.
	MaxBatch int
}

// Watcher observes the vault root and feeds changed files to the pipeline
// in debounced batches. Deletions are not decided here: removals and
// renames schedule a stale-file sweep, and the periodic scan remains the
// backstop for anything missed.
type Watcher struct {
	vault     vault.Provider
	graph     graphstore.Graph
	pipeline  *reconcile.Pipeline
	vaultRoot string
	logger    *slog.Logger

	debounce time.Duration
	maxBatch int
}

// New creates a watcher rooted at vaultRoot.
func New(v vault.Provider, g graphstore.Graph, p *reconcile.Pipeline, vaultRoot string, logger *slog.Logger, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 64
	}
	return &Watcher{
		vault:     v,
		graph:     g,
		pipeline:  p,
		vaultRoot: vaultRoot,
		logger:    logger,
		debounce:  opts.Debounce,
		maxBatch:  opts.MaxBatch,
	}
}

// Run starts the fsnotify watcher and processes file change events until
// ctx is cancelled. New directories created at runtime are added to the
// watch list automatically.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.vaultRoot); err != nil {
		return err
	}

	w.logger.Info("watcher: started", slog.String("root", w.vaultRoot))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(w.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(w.debounce)
		}
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})

		summary := w.pipeline.ProcessFiles(ctx, paths)
		w.logger.Debug("watcher: batch processed",
			slog.Int("files", len(paths)),
			slog.Int("blocks", summary.Processed),
			slog.Int("conflicts", len(summary.Conflicts)),
			slog.Int("errors", len(summary.Errors)))
	}

	var sweepTimer *time.Timer
	var sweepCh <-chan time.Time
	scheduleSweep := func() {
		if sweepTimer == nil {
			sweepTimer = time.NewTimer(w.debounce)
			sweepCh = sweepTimer.C
		} else {
			sweepTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			if sweepTimer != nil {
				sweepTimer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case <-sweepCh:
			w.sweepMissingFiles(ctx)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, absPath); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					w.enqueueDir(absPath, pending)
					if len(pending) >= w.maxBatch {
						flush()
					} else if len(pending) > 0 {
						scheduleFlush()
					}
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(w.vaultRoot, absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[rel] = struct{}{}
				if len(pending) >= w.maxBatch {
					flush()
				} else {
					scheduleFlush()
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create. The sweep settles both.
				delete(pending, rel)
				scheduleSweep()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// sweepMissingFiles deactivates blocks belonging to tracked files that no
// longer exist on disk.
func (w *Watcher) sweepMissingFiles(ctx context.Context) {
	known, err := w.graph.FileChecksums(ctx)
	if err != nil {
		w.logger.Warn("watcher: sweep list failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.vault.List("")
	if err != nil {
		w.logger.Warn("watcher: sweep walk failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
	}

	for path := range known {
		if _, ok := disk[path]; ok {
			continue
		}
		ids, err := w.graph.ActiveIDsByFile(ctx, path)
		if err != nil {
			w.logger.Warn("watcher: sweep blocks failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		summary := w.pipeline.MarkDeleted(ctx, path, ids)
		if err := w.graph.DeleteFileState(ctx, path); err != nil {
			w.logger.Warn("watcher: forget file failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		w.logger.Debug("watcher: swept removed file",
			slog.String("path", path), slog.Int("deleted", summary.Deleted))
	}
}

// enqueueDir queues any .md files already present in a newly created
// directory, e.g. after a folder move into the vault.
func (w *Watcher) enqueueDir(dirPath string, pending map[string]struct{}) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		if rel, relErr := filepath.Rel(w.vaultRoot, path); relErr == nil {
			pending[rel] = struct{}{}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
