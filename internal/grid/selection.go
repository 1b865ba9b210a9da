package grid

// SelectionMode distinguishes the two representations of a selection.
type SelectionMode int

const (
	// SelectionExplicit enumerates every selected row id.
	SelectionExplicit SelectionMode = iota
	// SelectionAllExcept selects all rows matching the current filters
	// except a (usually small) exclude set. This is how "select all across
	// pages" stays cheap for huge datasets.
	SelectionAllExcept
)

// SelectionState is the value representation of a selection. The zero value
// is an empty explicit selection.
//
// In SelectionAllExcept mode the selected count is TotalCount minus the
// exclude set, clamped at zero; TotalCount tracks the filtered/total row
// count reported by the data source and may go stale across refreshes, so
// the count is always derived lazily rather than cached.
type SelectionState struct {
	Mode       SelectionMode
	IncludeIDs map[string]struct{}
	ExcludeIDs map[string]struct{}
	TotalCount int
}

// Count returns the number of selected rows per the mode invariant.
func (s SelectionState) Count() int {
	switch s.Mode {
	case SelectionAllExcept:
		n := s.TotalCount - len(s.ExcludeIDs)
		if n < 0 {
			n = 0
		}
		return n
	default:
		return len(s.IncludeIDs)
	}
}

// Selected reports whether the given row id is selected.
func (s SelectionState) Selected(id string) bool {
	if s.Mode == SelectionAllExcept {
		_, excluded := s.ExcludeIDs[id]
		return !excluded
	}
	_, ok := s.IncludeIDs[id]
	return ok
}

// Clone returns a deep copy of the selection state.
func (s SelectionState) Clone() SelectionState {
	out := s
	if s.IncludeIDs != nil {
		out.IncludeIDs = make(map[string]struct{}, len(s.IncludeIDs))
		for id := range s.IncludeIDs {
			out.IncludeIDs[id] = struct{}{}
		}
	}
	if s.ExcludeIDs != nil {
		out.ExcludeIDs = make(map[string]struct{}, len(s.ExcludeIDs))
		for id := range s.ExcludeIDs {
			out.ExcludeIDs[id] = struct{}{}
		}
	}
	return out
}
