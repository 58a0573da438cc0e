// Package syncservice coordinates the sync pipeline, graph store, and
// write-back layer behind one interface shared by the HTTP API, the MCP
// server, and the CLI.
package syncservice

import (
	"context"
	"fmt"

	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/models"
	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/scanner"
	"github.com/aclarai/vaultsync/internal/writeback"
)

// Service exposes sync operations to the outer surfaces.
type Service struct {
	graph    graphstore.Graph
	scanner  *scanner.Scanner
	pipeline *reconcile.Pipeline
	writer   *writeback.Writer
}

// New creates a sync service.
func New(g graphstore.Graph, sc *scanner.Scanner, p *reconcile.Pipeline, w *writeback.Writer) *Service {
	return &Service{graph: g, scanner: sc, pipeline: p, writer: w}
}

// RunPass executes one full vault scan and returns its summary.
func (s *Service) RunPass(ctx context.Context) (reconcile.Summary, error) {
	return s.scanner.RunOnce(ctx)
}

// GetBlock returns the graph record for a block id.
func (s *Service) GetBlock(ctx context.Context, id string) (*graphstore.NodeRecord, error) {
	return s.graph.Get(ctx, id)
}

// ListConflicts returns all currently unresolved conflicts.
func (s *Service) ListConflicts(ctx context.Context) ([]models.Conflict, error) {
	return s.graph.Conflicts(ctx)
}

// DirtyBlocks returns active blocks awaiting downstream reprocessing.
func (s *Service) DirtyBlocks(ctx context.Context) ([]graphstore.NodeRecord, error) {
	return s.graph.DirtyBlocks(ctx)
}

// MarkReprocessed clears the reprocessing flag for a block after a consumer
// has handled it.
func (s *Service) MarkReprocessed(ctx context.Context, id string) error {
	return s.graph.MarkReprocessed(ctx, id)
}

// UpdateBlockText rewrites a block's content in its vault file and then
// syncs that file so the graph adopts the new text in the same call. The
// file edit bumps the embedded version past the graph's counter, so the
// sync lands as an accepted fast-forward.
func (s *Service) UpdateBlockText(ctx context.Context, id, text string) (reconcile.Summary, error) {
	rec, err := s.graph.Get(ctx, id)
	if err != nil {
		return reconcile.Summary{}, err
	}
	if !rec.Active {
		return reconcile.Summary{}, fmt.Errorf("syncservice: update %s: block is inactive", id)
	}
	if err := s.writer.UpdateBlockText(rec.SourceFile, id, text); err != nil {
		return reconcile.Summary{}, err
	}
	return s.pipeline.ProcessFile(ctx, rec.SourceFile), nil
}
