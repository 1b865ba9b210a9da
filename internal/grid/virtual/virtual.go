// Package virtual computes the visible index window for a scrollable
// viewport over a possibly huge row list. It keeps a cumulative pixel
// offset array over the current visible rows, built from a fixed estimate
// plus per-row measurements keyed by row id, so heights survive reorders
// and the window can re-anchor without visible jumps when rows above the
// viewport are remeasured.
package virtual

import (
	"sort"

	"go.uber.org/zap"

	"tabular/internal/grid"
)

// Options configures a Virtualizer.
type Options struct {
	// RowHeight is the estimated height for unmeasured rows. Values <= 0
	// fall back to DefaultRowHeight.
	RowHeight float64

	// Overscan is the number of extra rows rendered beyond each edge of the
	// visible window. Negative values are treated as zero.
	Overscan int

	// Logger receives diagnostics. Nil means zap.NewNop.
	Logger *zap.Logger
}

// DefaultRowHeight is used when no estimate is configured.
const DefaultRowHeight = 28

// Virtualizer owns the measurement cache and the cumulative offset array.
// It is not synchronized; the engine serializes access.
type Virtualizer struct {
	estimate float64
	overscan int
	log      *zap.Logger

	ids      []string
	measured map[string]float64
	offsets  []float64 // len(ids)+1, offsets[i] = start pixel of row i
	dirty    bool
}

// New creates a Virtualizer with an empty row list.
func New(opts Options) *Virtualizer {
	est := opts.RowHeight
	if est <= 0 {
		est = DefaultRowHeight
	}
	ov := opts.Overscan
	if ov < 0 {
		ov = 0
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Virtualizer{
		estimate: est,
		overscan: ov,
		log:      log,
		measured: make(map[string]float64),
	}
}

// SetRows replaces the visible row order. Measurements persist across calls
// because they are keyed by id, not index; the offset array is rebuilt
// lazily on the next Range call.
func (v *Virtualizer) SetRows(ids []string) {
	v.ids = append(v.ids[:0], ids...)
	v.dirty = true
}

// Measure records the actual rendered height of a row. It returns an
// adjusted scroll offset that keeps the row currently at the top of the
// viewport anchored in place when heights above it change; callers pass the
// live scroll offset and adopt the returned one.
func (v *Virtualizer) Measure(id string, height, scrollOffset float64) float64 {
	if height <= 0 {
		return scrollOffset
	}
	if prev, ok := v.measured[id]; ok && prev == height {
		return scrollOffset
	}

	// Anchor on the topmost visible row id before offsets shift.
	v.build()
	anchorIdx := v.indexAt(scrollOffset)
	var anchorID string
	var intra float64
	if anchorIdx >= 0 && anchorIdx < len(v.ids) {
		anchorID = v.ids[anchorIdx]
		intra = scrollOffset - v.offsets[anchorIdx]
	}

	v.measured[id] = height
	v.dirty = true
	v.build()

	if anchorID == "" {
		return scrollOffset
	}
	for i, rowID := range v.ids {
		if rowID == anchorID {
			return v.offsets[i] + intra
		}
	}
	return scrollOffset
}

// Invalidate drops all measurements, e.g. after a data refresh that may
// change row content heights wholesale.
func (v *Virtualizer) Invalidate() {
	v.measured = make(map[string]float64)
	v.dirty = true
}

// TotalHeight returns the summed height of all rows.
func (v *Virtualizer) TotalHeight() float64 {
	v.build()
	if len(v.offsets) == 0 {
		return 0
	}
	return v.offsets[len(v.offsets)-1]
}

// Range computes the virtual window for the given viewport. The
// pre-overscan window's pixel span always covers
// [scrollOffset, scrollOffset+containerSize] clamped to the list bounds.
func (v *Virtualizer) Range(scrollOffset, containerSize float64) grid.VirtualRange {
	v.build()
	n := len(v.ids)
	if n == 0 || containerSize <= 0 {
		return grid.VirtualRange{StartIndex: 0, EndIndex: -1}
	}

	total := v.offsets[n]
	if scrollOffset < 0 {
		scrollOffset = 0
	}
	if max := total - containerSize; scrollOffset > max {
		if max < 0 {
			max = 0
		}
		scrollOffset = max
	}

	start := v.indexAt(scrollOffset)
	end := start
	limit := scrollOffset + containerSize
	for end < n-1 && v.offsets[end+1] < limit {
		end++
	}

	start -= v.overscan
	end += v.overscan
	if start < 0 {
		start = 0
	}
	if end > n-1 {
		end = n - 1
	}

	return grid.VirtualRange{
		StartIndex:   start,
		EndIndex:     end,
		OffsetTop:    v.offsets[start],
		OffsetBottom: total - v.offsets[end+1],
	}
}

// indexAt returns the index of the row containing the given pixel offset.
func (v *Virtualizer) indexAt(offset float64) int {
	n := len(v.ids)
	if n == 0 {
		return -1
	}
	// First row whose end offset is past the target pixel.
	i := sort.Search(n, func(i int) bool { return v.offsets[i+1] > offset })
	if i >= n {
		i = n - 1
	}
	return i
}

func (v *Virtualizer) build() {
	if !v.dirty {
		return
	}
	v.offsets = make([]float64, len(v.ids)+1)
	var acc float64
	for i, id := range v.ids {
		v.offsets[i] = acc
		h, ok := v.measured[id]
		if !ok {
			h = v.estimate
		}
		acc += h
	}
	v.offsets[len(v.ids)] = acc
	v.dirty = false
}
