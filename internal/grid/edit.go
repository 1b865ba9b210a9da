package grid

import "fmt"

// EditStatus is the state of a cell edit session.
type EditStatus int

const (
	// EditViewing means no edit is active for the cell.
	EditViewing EditStatus = iota
	// EditEditing means the cell has an uncommitted pending value.
	EditEditing
	// EditSaving means an optimistic save is in flight.
	EditSaving
	// EditFailed means the last save was rejected and rolled back.
	EditFailed
)

// String returns the string representation of an EditStatus.
func (s EditStatus) String() string {
	switch s {
	case EditViewing:
		return "viewing"
	case EditEditing:
		return "editing"
	case EditSaving:
		return "saving"
	case EditFailed:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EditSession is the externally visible snapshot of one cell edit.
// The coordinator keeps the pre-edit value internally for rollback; it is
// not exposed here because renderers only need the pending value and status.
type EditSession struct {
	RowID    string
	ColumnID string
	Pending  any
	Status   EditStatus
	ErrMsg   string
}
