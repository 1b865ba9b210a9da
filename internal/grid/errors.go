package grid

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine components. Callers match with
// errors.Is; wrapped variants carry the offending row/column ids.
var (
	// ErrUnknownColumn is returned when an operation names a column id that
	// is not part of the table's column definitions.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrUnknownRow is returned when an operation names a row id not present
	// in the current row set.
	ErrUnknownRow = errors.New("unknown row")

	// ErrEditInProgress is returned when a second edit session is begun
	// while another is still editing or saving within the configured scope.
	ErrEditInProgress = errors.New("edit already in progress")

	// ErrNoEditSession is returned by commit/cancel/retry when no session
	// exists for the addressed cell.
	ErrNoEditSession = errors.New("no active edit session")

	// ErrDuplicateRowID signals a programmer error in the data source:
	// two rows in one batch share an id. Production mode dedups
	// last-write-wins; strict mode surfaces this error.
	ErrDuplicateRowID = errors.New("duplicate row id")

	// ErrStaleResponse marks an async result that lost the latest-wins race
	// for its slot and was discarded.
	ErrStaleResponse = errors.New("stale response discarded")
)

// ValidationError reports a locally rejected cell edit. It never propagates
// past the edit coordinator; the session surfaces Msg instead.
type ValidationError struct {
	ColumnID string
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for column %q: %s", e.ColumnID, e.Msg)
}

// FetchError reports a failed async fetch, scoped to the slot that issued
// it (a page, a parent row, or a cell save). Prior known-good data is
// retained by the owner; the caller decides whether to retry.
type FetchError struct {
	Slot string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.Slot, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
