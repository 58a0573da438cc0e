package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/blockparser"
	"github.com/aclarai/vaultsync/internal/checksum"
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/models"
	"github.com/aclarai/vaultsync/internal/vault"
	"github.com/aclarai/vaultsync/pkg/retry"
)

// Notifier receives a change event after the pipeline settles a block.
type Notifier interface {
	PublishChangeEvent(ev models.ChangeEvent)
}

// Options tunes the pipeline; zero values fall back to defaults.
type Options struct {
	Retry     retry.Config  // backoff schedule for graph store operations
	OpTimeout time.Duration // bound on each individual store attempt
	Workers   int           // concurrent file workers
	Notifier  Notifier      // optional change-event sink
}

// Pipeline turns candidate changed files into graph updates. It is
// source-agnostic: the watcher and the periodic scanner both feed it.
// Concurrent calls racing on the same block id serialize on a per-id lock;
// blocks within one file are processed in document order.
type Pipeline struct {
	vault    vault.Provider
	graph    graphstore.Graph
	logger   *slog.Logger
	notifier Notifier

	retryCfg  retry.Config
	opTimeout time.Duration
	workers   int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a pipeline over the given vault and graph store.
func New(v vault.Provider, g graphstore.Graph, logger *slog.Logger, opts Options) *Pipeline {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Pipeline{
		vault:     v,
		graph:     g,
		logger:    logger,
		notifier:  opts.Notifier,
		retryCfg:  opts.Retry,
		opTimeout: opts.OpTimeout,
		workers:   opts.Workers,
		locks:     make(map[string]*sync.Mutex),
	}
}

// blockLock returns the mutex for one block id, creating it on first use.
func (p *Pipeline) blockLock(id string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	mu, ok := p.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[id] = mu
	}
	return mu
}

// storeDo runs one graph operation under the retry schedule, bounding each
// attempt with the per-operation timeout. Non-transient errors fail fast.
func (p *Pipeline) storeDo(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, p.retryCfg, func() error {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()
		if err := fn(opCtx); err != nil {
			if graphstore.IsTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
}

// ProcessFiles runs ProcessFile for every path on a bounded worker pool and
// merges the per-file summaries. Per-file failures never abort the batch.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string) Summary {
	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, path := range paths {
		g.Go(func() error {
			fs := p.ProcessFile(gCtx, path)
			mu.Lock()
			summary.Merge(fs)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

// ProcessFile parses one vault file and reconciles every tracked block in
// document order. A file that vanished between event and processing is
// skipped silently; the deletion backstop settles it later.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) Summary {
	var summary Summary

	data, err := p.vault.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return summary
		}
		p.logger.Warn("reconcile: read failed",
			slog.String("path", path), slog.String("error", err.Error()))
		summary.Errors = append(summary.Errors, ItemError{FilePath: path, Err: err.Error()})
		return summary
	}

	res := blockparser.Parse(path, data)
	for _, perr := range res.Errors {
		p.logger.Warn("reconcile: malformed marker skipped",
			slog.String("path", perr.File),
			slog.Int("line", perr.Line),
			slog.String("error", perr.Msg))
		summary.ParseErrors++
	}

	for _, blk := range res.Blocks {
		p.processBlock(ctx, blk, &summary)
	}

	// Remember the raw checksum so unchanged files are skipped next scan.
	// Conflicts do not block this: they are persisted and only a real edit
	// can resolve them. Store errors do, so the next cycle retries.
	if !hasStoreErrors(summary) {
		if err := p.storeDo(ctx, func(opCtx context.Context) error {
			return p.graph.SetFileChecksum(opCtx, path, checksum.Sum(data))
		}); err != nil {
			p.logger.Warn("reconcile: record file state failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return summary
}

// processBlock settles a single block against the graph under its id lock.
func (p *Pipeline) processBlock(ctx context.Context, blk models.Block, summary *Summary) {
	mu := p.blockLock(blk.ID)
	mu.Lock()
	defer mu.Unlock()

	summary.Processed++

	prior, err := retry.DoWithResult(ctx, p.retryCfg, func() (*graphstore.NodeRecord, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()
		rec, err := p.graph.Get(opCtx, blk.ID)
		if err != nil && !graphstore.IsTransient(err) {
			return nil, retry.Permanent(err)
		}
		return rec, err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		prior = nil
	} else if err != nil {
		p.blockError(blk, err, summary)
		return
	}

	change, drift := Classify(blk, prior)
	switch change {
	case models.ChangeUnchanged:
		if drift {
			p.logger.Warn("reconcile: version drift on identical content",
				slog.String("id", blk.ID),
				slog.Int64("vault_version", blk.Version),
				slog.Int64("graph_version", prior.Version))
		}
		if !prior.Active {
			// The block was deactivated and has come back byte-for-byte,
			// e.g. a deleted file restored from backup. Identical content
			// must not leave the record dead.
			if err := p.storeDo(ctx, func(opCtx context.Context) error {
				return p.graph.Reactivate(opCtx, blk.ID)
			}); err != nil {
				p.blockError(blk, err, summary)
				return
			}
			summary.Added++
			p.publish(blk, models.ChangeAdded, prior.Version)
			p.logger.Info("reconcile: block reactivated",
				slog.String("id", blk.ID), slog.String("path", blk.SourceFile))
			return
		}
		summary.Unchanged++

	case models.ChangeAdded:
		if err := p.storeDo(ctx, func(opCtx context.Context) error {
			return p.graph.CreateBlock(opCtx, graphstore.NodeRecord{
				ID:          blk.ID,
				SourceFile:  blk.SourceFile,
				BlockType:   blk.Type,
				Text:        blk.SemanticText,
				ContentHash: blk.ContentHash,
				Version:     blk.Version,
			})
		}); err != nil {
			p.blockError(blk, err, summary)
			return
		}
		summary.Added++
		p.publish(blk, models.ChangeAdded, blk.Version)
		p.logger.Debug("reconcile: block added",
			slog.String("id", blk.ID), slog.String("path", blk.SourceFile))

	case models.ChangeModified:
		p.applyModified(ctx, blk, prior, summary)
	}
}

// applyModified runs the version decision for a modified block and applies
// or records the outcome.
func (p *Pipeline) applyModified(ctx context.Context, blk models.Block, prior *graphstore.NodeRecord, summary *Summary) {
	decision := Decide(blk.Version, prior.Version)
	if !decision.Accepted() {
		conflict := models.Conflict{
			BlockID:      blk.ID,
			VaultVersion: blk.Version,
			GraphVersion: prior.Version,
			FilePath:     blk.SourceFile,
			DetectedAt:   time.Now().UTC(),
		}
		p.logger.Warn("reconcile: version conflict",
			slog.String("id", blk.ID),
			slog.Int64("vault_version", blk.Version),
			slog.Int64("graph_version", prior.Version),
			slog.String("path", blk.SourceFile))
		if err := p.storeDo(ctx, func(opCtx context.Context) error {
			// One row per block: re-detection replaces the old entry.
			if err := p.graph.ClearConflicts(opCtx, blk.ID); err != nil {
				return err
			}
			return p.graph.RecordConflict(opCtx, conflict)
		}); err != nil {
			p.blockError(blk, err, summary)
			return
		}
		summary.Conflicts = append(summary.Conflicts, conflict)
		return
	}

	if decision == DecisionFastForward {
		p.logger.Info("reconcile: fast-forward",
			slog.String("id", blk.ID),
			slog.Int64("vault_version", blk.Version),
			slog.Int64("graph_version", prior.Version))
	}

	err := p.storeDo(ctx, func(opCtx context.Context) error {
		if err := p.graph.ApplyUpdate(opCtx, graphstore.Update{
			ID:            blk.ID,
			SourceFile:    blk.SourceFile,
			Text:          blk.SemanticText,
			ContentHash:   blk.ContentHash,
			ExpectVersion: prior.Version,
		}); err != nil {
			return err
		}
		return p.graph.ClearConflicts(opCtx, blk.ID)
	})
	if err != nil {
		// A lost compare-and-swap means another writer advanced the counter
		// first; the next cycle re-reads and re-decides.
		p.blockError(blk, err, summary)
		return
	}
	summary.Updated++
	p.publish(blk, models.ChangeModified, prior.Version+1)
	p.logger.Debug("reconcile: block updated",
		slog.String("id", blk.ID),
		slog.Int64("version", prior.Version+1))
}

// MarkDeleted flags blocks that disappeared from the vault as inactive.
// Only the periodic scan calls this: a single-file event cannot distinguish
// a deleted block from one that merely moved.
func (p *Pipeline) MarkDeleted(ctx context.Context, path string, ids []string) Summary {
	var summary Summary
	for _, id := range ids {
		mu := p.blockLock(id)
		mu.Lock()
		blockType := models.BlockInline
		version := int64(0)
		err := p.storeDo(ctx, func(opCtx context.Context) error {
			rec, err := p.graph.Get(opCtx, id)
			if err != nil {
				return err
			}
			blockType = rec.BlockType
			version = rec.Version
			return p.graph.MarkInactive(opCtx, id)
		})
		mu.Unlock()
		if err != nil {
			summary.Errors = append(summary.Errors, ItemError{BlockID: id, FilePath: path, Err: err.Error()})
			continue
		}
		summary.Deleted++
		p.publish(models.Block{ID: id, SourceFile: path, Type: blockType}, models.ChangeDeleted, version)
		p.logger.Debug("reconcile: block deactivated",
			slog.String("id", id), slog.String("path", path))
	}
	return summary
}

func (p *Pipeline) blockError(blk models.Block, err error, summary *Summary) {
	p.logger.Error("reconcile: block failed",
		slog.String("id", blk.ID),
		slog.String("path", blk.SourceFile),
		slog.String("error", err.Error()))
	summary.Errors = append(summary.Errors, ItemError{
		BlockID:  blk.ID,
		FilePath: blk.SourceFile,
		Err:      err.Error(),
	})
}

func (p *Pipeline) publish(blk models.Block, change models.ChangeType, version int64) {
	if p.notifier == nil {
		return
	}
	p.notifier.PublishChangeEvent(models.ChangeEvent{
		ID:         blk.ID,
		FilePath:   blk.SourceFile,
		ChangeType: change,
		Timestamp:  time.Now().UTC(),
		Version:    version,
		BlockType:  blk.Type,
	})
}

func hasStoreErrors(s Summary) bool {
	return len(s.Errors) > 0
}
