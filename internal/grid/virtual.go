package grid

// VirtualRange is the window of row indices a renderer should materialize,
// plus the pixel padding that keeps the scrollbar sized for the full list.
//
// Indices are inclusive. When the range is non-empty the invariant
// 0 <= StartIndex <= EndIndex < rowCount holds; an empty range (no rows, or
// a degenerate viewport) is StartIndex 0, EndIndex -1 with zero offsets.
type VirtualRange struct {
	StartIndex   int
	EndIndex     int
	OffsetTop    float64
	OffsetBottom float64
}

// Empty reports whether the range contains no rows.
func (r VirtualRange) Empty() bool {
	return r.EndIndex < r.StartIndex
}

// Len returns the number of rows in the range.
func (r VirtualRange) Len() int {
	if r.Empty() {
		return 0
	}
	return r.EndIndex - r.StartIndex + 1
}
