// Package reconcile implements the vault-to-graph reconciliation pipeline:
// change classification, the version decision rules, and the engine that
// applies accepted changes to the graph store.
package reconcile

import (
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/models"
)

// Decision is the outcome of the optimistic-concurrency rule set for a
// modified block.
type Decision string

const (
	// DecisionClean accepts the update: both sides agree on the version.
	DecisionClean Decision = "clean_update"
	// DecisionFastForward accepts the update even though the vault's
	// declared version is ahead; the graph counter still advances by one.
	DecisionFastForward Decision = "fast_forward"
	// DecisionConflict rejects the update: the vault is behind the graph.
	DecisionConflict Decision = "conflict"
)

// Accepted reports whether the decision allows a graph write.
func (d Decision) Accepted() bool {
	return d != DecisionConflict
}

// Decide applies the version rules to one modified block. It is a pure
// function: retries and IO belong to the layers around it.
//
// The graph's counter, not the vault's declared version, is the sequence of
// record. An accepted update therefore always increments the graph version
// by exactly one, even when the vault claims to be further ahead; that
// keeps the counter canonical when a vault-side marker is stale or was
// hand-edited.
func Decide(vaultVersion, graphVersion int64) Decision {
	switch {
	case vaultVersion == graphVersion:
		return DecisionClean
	case vaultVersion > graphVersion:
		return DecisionFastForward
	default:
		return DecisionConflict
	}
}

// Classify compares a freshly parsed block against its last-known graph
// record. A nil prior means the id is new. Hash equality takes precedence
// over nominal version drift: identical content is Unchanged even when the
// versions disagree, and drift reports that inconsistency so the caller can
// surface it. Classify looks only at content; an Unchanged block whose prior
// record is inactive is reactivated by the pipeline, not reclassified here.
func Classify(b models.Block, prior *graphstore.NodeRecord) (change models.ChangeType, drift bool) {
	if prior == nil {
		return models.ChangeAdded, false
	}
	if b.ContentHash == prior.ContentHash {
		return models.ChangeUnchanged, b.Version != prior.Version
	}
	return models.ChangeModified, false
}
