// Package expand manages parent/child row relationships: the per-row
// collapsed -> loading -> expanded state machine, lazy sub-row loading, and
// the sub-row cache. Loads are asynchronous and follow latest-wins
// sequencing per parent row, so a stale response can never overwrite the
// result of a newer expand.
package expand

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tabular/internal/grid"
)

// State is the expansion state of a single row.
type State int

const (
	// Collapsed rows show no children.
	Collapsed State = iota
	// Loading rows have a sub-row fetch in flight; the row stays in place
	// in the flattened list with an in-progress marker.
	Loading
	// Expanded rows interleave their cached children after themselves.
	Expanded
)

// Loader fetches the sub-rows of a parent row. It runs on a background
// goroutine; the context is cancelled when the parent is collapsed, a newer
// load starts, or the tree is closed.
type Loader[T any] func(ctx context.Context, parent grid.Row[T]) ([]grid.Row[T], error)

// Options configures a Tree.
type Options struct {
	Logger *zap.Logger
}

// Tree owns expansion state and the sub-row cache. Methods are safe for
// concurrent use. OnChange fires on the loader goroutine whenever async
// state settles; the engine uses it to trigger a recomputation.
type Tree[T any] struct {
	mu       sync.Mutex
	loader   Loader[T]
	log      *zap.Logger
	onChange func()

	state    map[string]State
	children map[string][]grid.Row[T]
	lastErr  map[string]error
	seq      map[string]uint64
	cancels  map[string]context.CancelFunc
}

// NewTree creates an expansion tree over the given loader. A nil loader
// means rows can only expand if children were primed via Prime.
func NewTree[T any](loader Loader[T], opts Options) *Tree[T] {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree[T]{
		loader:   loader,
		log:      log,
		state:    make(map[string]State),
		children: make(map[string][]grid.Row[T]),
		lastErr:  make(map[string]error),
		seq:      make(map[string]uint64),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetOnChange registers the callback fired when an async load settles.
func (t *Tree[T]) SetOnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Toggle expands a collapsed row or collapses an expanded/loading one.
func (t *Tree[T]) Toggle(ctx context.Context, parent grid.Row[T]) {
	t.mu.Lock()
	st := t.state[parent.ID]
	t.mu.Unlock()
	if st == Collapsed {
		t.Expand(ctx, parent)
		return
	}
	t.Collapse(parent.ID)
}

// Expand transitions a row toward Expanded. A prior successful load is
// served from cache without refetching; otherwise a load starts and the row
// sits in Loading until it settles. Re-expanding while a load is already in
// flight is a no-op.
func (t *Tree[T]) Expand(ctx context.Context, parent grid.Row[T]) {
	t.mu.Lock()
	switch t.state[parent.ID] {
	case Expanded, Loading:
		t.mu.Unlock()
		return
	}
	delete(t.lastErr, parent.ID)

	if _, cached := t.children[parent.ID]; cached {
		t.state[parent.ID] = Expanded
		t.mu.Unlock()
		return
	}
	if t.loader == nil {
		t.state[parent.ID] = Expanded
		t.mu.Unlock()
		return
	}

	t.state[parent.ID] = Loading
	t.seq[parent.ID]++
	seq := t.seq[parent.ID]

	if cancel, ok := t.cancels[parent.ID]; ok {
		cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	t.cancels[parent.ID] = cancel
	t.mu.Unlock()

	go t.load(loadCtx, parent, seq)
}

func (t *Tree[T]) load(ctx context.Context, parent grid.Row[T], seq uint64) {
	rows, err := t.loader(ctx, parent)

	t.mu.Lock()
	if t.seq[parent.ID] != seq {
		t.mu.Unlock()
		t.log.Debug("discarding stale sub-row response", zap.String("row", parent.ID))
		return
	}
	delete(t.cancels, parent.ID)

	if err != nil {
		// Failure returns the row to Collapsed; the error is retryable by
		// expanding again.
		t.state[parent.ID] = Collapsed
		t.lastErr[parent.ID] = &grid.FetchError{Slot: "subrows:" + parent.ID, Err: err}
		fn := t.onChange
		t.mu.Unlock()
		t.log.Warn("sub-row load failed", zap.String("row", parent.ID), zap.Error(err))
		if fn != nil {
			fn()
		}
		return
	}

	t.children[parent.ID] = rows
	t.state[parent.ID] = Expanded
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Collapse returns a row to Collapsed, cancelling any in-flight load. The
// sub-row cache is kept so re-expanding does not refetch.
func (t *Tree[T]) Collapse(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.cancels[id]; ok {
		cancel()
		delete(t.cancels, id)
		t.seq[id]++ // orphan the in-flight response
	}
	t.state[id] = Collapsed
}

// Prime seeds the sub-row cache for a parent without a load, e.g. when the
// data source ships children inline.
func (t *Tree[T]) Prime(id string, rows []grid.Row[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children[id] = rows
}

// Invalidate drops the cached children of one parent; a following Expand
// refetches. Expanded parents collapse since their children are gone.
func (t *Tree[T]) Invalidate(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, id)
	if t.state[id] == Expanded {
		t.state[id] = Collapsed
	}
}

// InvalidateAll clears every cache entry and collapses all rows. The engine
// calls this on a full data refresh.
func (t *Tree[T]) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cancel := range t.cancels {
		cancel()
		t.seq[id]++
	}
	t.cancels = make(map[string]context.CancelFunc)
	t.children = make(map[string][]grid.Row[T])
	t.state = make(map[string]State)
	t.lastErr = make(map[string]error)
}

// StateOf returns the expansion state of a row.
func (t *Tree[T]) StateOf(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[id]
}

// Err returns the last load error for a row, nil if none.
func (t *Tree[T]) Err(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr[id]
}

// ExpandedSet returns the set of expanded row ids for the pipeline.
func (t *Tree[T]) ExpandedSet() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.state))
	for id, st := range t.state {
		if st == Expanded {
			out[id] = true
		}
	}
	return out
}

// Children returns the cached children for an expanded parent; nil while
// collapsed or loading. The returned slice is a copy.
func (t *Tree[T]) Children(id string) []grid.Row[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state[id] != Expanded {
		return nil
	}
	rows, ok := t.children[id]
	if !ok {
		return nil
	}
	return append([]grid.Row[T](nil), rows...)
}

// PatchRow rewrites a cached child row in place (optimistic cell edits on
// sub-rows). Returns false if no cached child has the id.
func (t *Tree[T]) PatchRow(id string, fn func(grid.Row[T]) grid.Row[T]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for parent, rows := range t.children {
		for i, r := range rows {
			if r.ID == id {
				t.children[parent][i] = fn(r)
				return true
			}
		}
	}
	return false
}

// FindRow returns a cached child row by id.
func (t *Tree[T]) FindRow(id string) (grid.Row[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rows := range t.children {
		for _, r := range rows {
			if r.ID == id {
				return r, true
			}
		}
	}
	return grid.Row[T]{}, false
}

// Close cancels all in-flight loads.
func (t *Tree[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cancel := range t.cancels {
		cancel()
		t.seq[id]++
	}
	t.cancels = make(map[string]context.CancelFunc)
}
