// Package apperr defines the shared error taxonomy for the sync core.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a block id with no graph record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an optimistic-concurrency rejection: the write's
	// expected version no longer matched the stored one.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyExists indicates an insert for an id that is already tracked.
	ErrAlreadyExists = errors.New("already exists")
)

// ParseError reports a malformed block marker. It is recovered locally: the
// offending block is skipped and the file scan continues. ID carries the
// marker's block id when it could still be extracted, so the error remains
// attributable to a block even though the block produced no parse result.
type ParseError struct {
	File string
	Line int
	ID   string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s:%d: %s", e.File, e.Line, e.Msg)
}
