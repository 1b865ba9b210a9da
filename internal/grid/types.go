// Package grid defines the core data model shared by the tabular engine
// components: rows, column definitions, table state, selection, the virtual
// window, and edit sessions. The packages under internal/grid operate on
// these types; grid itself holds no behavior beyond small accessors.
package grid

import "fmt"

// Row is a single record flowing through the row model pipeline.
// ID must be stable across recomputations and is never derived from a
// position in a slice. Raw is owned by the data source; the engine never
// mutates it in place (optimistic edits replace the row wholesale).
type Row[T any] struct {
	ID       string
	Depth    int
	ParentID string // empty for root rows
	Raw      T
}

// SortDirection specifies the direction of a sort key.
type SortDirection int

const (
	// SortAscending orders smallest first.
	SortAscending SortDirection = iota
	// SortDescending orders largest first.
	SortDescending
)

// String returns the string representation of a SortDirection.
func (d SortDirection) String() string {
	switch d {
	case SortAscending:
		return "asc"
	case SortDescending:
		return "desc"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// SortKey is one entry in a multi-column sort. Keys earlier in
// TableState.Sort take precedence; ties fall through to the next key.
type SortKey struct {
	ColumnID  string
	Direction SortDirection
}

// ColumnDef describes one column over rows of type T.
//
// Accessor is required. Comparator, FilterPredicate and Validator are
// optional; when nil the pipeline falls back to a generic value comparison,
// a case-insensitive substring match, and accept-everything respectively.
// Rendering concerns (cell formatting, headers) are deliberately absent:
// they belong to the rendering collaborator, which only needs Title/Width.
type ColumnDef[T any] struct {
	ID    string
	Title string
	Width int

	// Accessor extracts the cell value for this column from a raw record.
	Accessor func(raw T) any

	// Comparator orders two accessor values; negative means a < b.
	Comparator func(a, b any) int

	// FilterPredicate reports whether a value passes the column filter arg.
	FilterPredicate func(value, arg any) bool

	// Validator checks a pending edit value before a save is attempted.
	// A non-nil error blocks the save and is shown in the edit session.
	Validator func(value any) error
}

// TableState is the full input state of the row model pipeline. It is owned
// by the engine (single writer); the pipeline treats it as read-only.
type TableState struct {
	Sort         []SortKey
	Filters      map[string]any
	GlobalFilter string
	PageIndex    int
	PageSize     int
	Expanded     map[string]bool
	Selection    SelectionState
}

// Clone returns a deep copy safe to hand to subscribers.
func (s TableState) Clone() TableState {
	out := s
	out.Sort = append([]SortKey(nil), s.Sort...)
	if s.Filters != nil {
		out.Filters = make(map[string]any, len(s.Filters))
		for k, v := range s.Filters {
			out.Filters[k] = v
		}
	}
	if s.Expanded != nil {
		out.Expanded = make(map[string]bool, len(s.Expanded))
		for k, v := range s.Expanded {
			out.Expanded[k] = v
		}
	}
	out.Selection = s.Selection.Clone()
	return out
}
