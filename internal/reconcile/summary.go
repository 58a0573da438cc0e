package reconcile

import "github.com/aclarai/vaultsync/internal/models"

// ItemError identifies a block (or file) whose processing failed after
// retries were exhausted. The block stays as-is and is picked up again by
// the next periodic scan.
type ItemError struct {
	BlockID  string `json:"block_id,omitempty"`
	FilePath string `json:"file_path"`
	Err      string `json:"error"`
}

// Summary aggregates per-item outcomes of one reconciliation cycle.
// Component-local failures never abort a cycle; they land here.
type Summary struct {
	Processed   int `json:"processed"`
	Added       int `json:"added"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	Deleted     int `json:"deleted"`
	ParseErrors int `json:"parse_errors"`

	Conflicts []models.Conflict `json:"conflicts,omitempty"`
	Errors    []ItemError       `json:"errors,omitempty"`
}

// Merge folds other into s.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Added += other.Added
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Deleted += other.Deleted
	s.ParseErrors += other.ParseErrors
	s.Conflicts = append(s.Conflicts, other.Conflicts...)
	s.Errors = append(s.Errors, other.Errors...)
}

// Clean reports whether the cycle finished with no conflicts and no errors.
func (s *Summary) Clean() bool {
	return len(s.Conflicts) == 0 && len(s.Errors) == 0
}
