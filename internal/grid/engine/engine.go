// Package engine binds the pipeline, selection, virtualizer, expansion tree
// and edit coordinator into one observable state container. The engine is
// the single owner of TableState: hosts mutate it only through engine
// methods, each of which recomputes the derived state synchronously and
// fans a Snapshot out to subscribers.
//
// Asynchronous work (server page fetches, sub-row loads, cell saves) runs
// on background goroutines carrying a monotonically increasing sequence
// number per logical slot; only the response matching the latest sequence
// for its slot is applied, so stale responses can never overwrite newer
// state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabular/internal/grid"
	"tabular/internal/grid/edit"
	"tabular/internal/grid/expand"
	"tabular/internal/grid/pipeline"
	"tabular/internal/grid/selection"
	"tabular/internal/grid/virtual"
	"tabular/internal/layout"
	"tabular/internal/source"
)

// Mode selects where the row pipeline runs.
type Mode int

const (
	// ModeClient filters, sorts and paginates locally over the full row set.
	ModeClient Mode = iota
	// ModeServer delegates filter/sort/paginate to a Pager and trusts the
	// returned page.
	ModeServer
)

// Options configures an Engine.
type Options[T any] struct {
	Mode    Mode
	Columns []grid.ColumnDef[T]
	Logger  *zap.Logger

	PageSize  int
	Overscan  int
	RowHeight float64

	// Debounce delays global-filter server fetches; zero means immediate.
	Debounce time.Duration

	// Strict panics on duplicate row ids instead of deduplicating
	// (development configuration).
	Strict bool

	// DropSelectionOnRemoval drops selections for rows removed by a data
	// refresh; default persists selection by id.
	DropSelectionOnRemoval bool

	// EditScope limits concurrent edit sessions (per table or per row).
	EditScope edit.Scope

	// SetCell writes an edited value into a raw record, returning the new
	// record. Nil disables editing.
	SetCell func(raw T, columnID string, value any) (T, error)

	// Saver persists committed cell edits. Nil means edits apply locally
	// and always "save" successfully.
	Saver edit.Saver

	// SubRows lazily loads children for expandable rows.
	SubRows expand.Loader[T]

	// Pager is the server-mode data source; required in ModeServer.
	Pager source.Pager[T]

	// LayoutStore persists layout state; nil disables persistence.
	LayoutStore layout.Store
}

// RowInfo is one visible row plus the per-row state a renderer needs.
type RowInfo[T any] struct {
	grid.Row[T]
	Selected  bool
	Expand    expand.State
	ExpandErr string
}

// Snapshot is the immutable view the engine emits per recomputation. It
// carries everything the rendering collaborator consumes; presentation,
// accessibility and styling stay entirely on the renderer's side.
type Snapshot[T any] struct {
	Rows    []RowInfo[T]
	Range   grid.VirtualRange
	Columns []grid.ColumnDef[T]
	Sort    []grid.SortKey

	Selection     grid.SelectionState
	SelectedCount int
	Edits         []grid.EditSession
	Layout        layout.State

	FilteredCount int
	PageCount     int
	PageIndex     int
	TotalCount    int

	Loading  bool
	FetchErr error
}

// Engine is the observable state container. All methods are safe for
// concurrent use.
type Engine[T any] struct {
	mu   sync.Mutex
	opts Options[T]
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	cols   []grid.ColumnDef[T]
	state  grid.TableState
	rows   []grid.Row[T] // raw roots (client) or current server page
	layout layout.State

	sel   *selection.Manager
	tree  *expand.Tree[T]
	edits *edit.Coordinator
	virt  *virtual.Virtualizer

	scroll   float64
	viewport float64

	// derived state from the last recomputation
	visible       []grid.Row[T]
	visibleIDs    []string
	filteredCount int
	pageCount     int

	// server fetch slot
	fetchSeq    uint64
	fetchCancel context.CancelFunc
	loading     bool
	fetchErr    error
	serverTotal int
	debounce    *debouncer

	subs    map[uint64]func(Snapshot[T])
	nextSub uint64
}

// New creates an Engine. In server mode the first page fetch starts
// immediately.
func New[T any](opts Options[T]) (*Engine[T], error) {
	if len(opts.Columns) == 0 {
		return nil, fmt.Errorf("engine: at least one column is required")
	}
	if opts.Mode == ModeServer && opts.Pager == nil {
		return nil, fmt.Errorf("engine: server mode requires a pager")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine[T]{
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		cols:   opts.Columns,
		state: grid.TableState{
			Filters:  make(map[string]any),
			PageSize: opts.PageSize,
		},
		layout: layout.New(),
		sel: selection.New(selection.Options{
			DropOnRemoval: opts.DropSelectionOnRemoval,
			Logger:        log,
		}),
		virt: virtual.New(virtual.Options{
			RowHeight: opts.RowHeight,
			Overscan:  opts.Overscan,
			Logger:    log,
		}),
		debounce: newDebouncer(opts.Debounce),
		subs:     make(map[uint64]func(Snapshot[T])),
	}

	e.tree = expand.NewTree(opts.SubRows, expand.Options{Logger: log})
	e.tree.SetOnChange(e.onAsyncChange)

	e.edits = edit.New(edit.Options{
		Scope:    opts.EditScope,
		Logger:   log,
		Saver:    opts.Saver,
		Get:      e.cellGet,
		Set:      e.cellSet,
		Validate: e.validateCell,
		OnChange: e.onAsyncChange,
	})

	if opts.LayoutStore != nil {
		st, found, err := opts.LayoutStore.Load()
		if err != nil {
			log.Warn("layout load failed, starting fresh", zap.Error(err))
		} else if found {
			e.layout = st
		}
	}

	if opts.Mode == ModeServer {
		e.mu.Lock()
		e.beginFetchLocked()
		e.mu.Unlock()
	}
	return e, nil
}

// Close cancels all in-flight work. The engine must not be used after.
func (e *Engine[T]) Close() {
	e.mu.Lock()
	e.closed = true
	if e.fetchCancel != nil {
		e.fetchCancel()
		e.fetchCancel = nil
	}
	e.mu.Unlock()
	e.debounce.cancel()
	e.tree.Close()
	e.edits.Close()
	e.cancel()
}

// Subscribe registers a snapshot listener and returns its unsubscribe
// function. Listeners fire on the goroutine driving the state change.
func (e *Engine[T]) Subscribe(fn func(Snapshot[T])) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Snapshot returns the current derived state.
func (e *Engine[T]) Snapshot() Snapshot[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// SetRows replaces the client-mode row set (a full data refresh). Sub-row
// caches and measurements are invalidated, selection is reconciled by id,
// and edit sessions on rows that no longer exist are cancelled.
func (e *Engine[T]) SetRows(rows []grid.Row[T]) {
	known := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		known[r.ID] = struct{}{}
	}
	for _, s := range e.edits.Sessions() {
		if _, ok := known[s.RowID]; !ok {
			if err := e.edits.Cancel(s.RowID, s.ColumnID); err == nil {
				e.log.Info("cancelled edit on removed row", zap.String("row", s.RowID))
			}
		}
	}
	e.tree.InvalidateAll()

	e.mu.Lock()
	e.rows = append([]grid.Row[T](nil), rows...)
	e.virt.Invalidate()
	e.sel.Reconcile(known, len(rows))
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SetSort replaces the sort keys and resets to the first page.
func (e *Engine[T]) SetSort(keys ...grid.SortKey) {
	e.mutate(func() {
		e.state.Sort = append([]grid.SortKey(nil), keys...)
		e.state.PageIndex = 0
		e.sel.ResetAnchor()
	}, false)
}

// ToggleSort cycles a column through ascending, descending, unsorted.
// It replaces any existing sort (single-key interaction; multi-key sorts go
// through SetSort).
func (e *Engine[T]) ToggleSort(columnID string) {
	e.mutate(func() {
		var next []grid.SortKey
		if len(e.state.Sort) == 1 && e.state.Sort[0].ColumnID == columnID {
			switch e.state.Sort[0].Direction {
			case grid.SortAscending:
				next = []grid.SortKey{{ColumnID: columnID, Direction: grid.SortDescending}}
			default:
				next = nil
			}
		} else {
			next = []grid.SortKey{{ColumnID: columnID, Direction: grid.SortAscending}}
		}
		e.state.Sort = next
		e.state.PageIndex = 0
		e.sel.ResetAnchor()
	}, false)
}

// SetFilter sets a column filter argument; a nil arg clears the filter.
func (e *Engine[T]) SetFilter(columnID string, arg any) {
	e.mutate(func() {
		if arg == nil {
			delete(e.state.Filters, columnID)
		} else {
			e.state.Filters[columnID] = arg
		}
		e.state.PageIndex = 0
		e.sel.ResetAnchor()
	}, false)
}

// SetGlobalFilter sets the global search text. In server mode the fetch is
// debounced so keystrokes do not fan out into a request per character.
func (e *Engine[T]) SetGlobalFilter(text string) {
	e.mutate(func() {
		e.state.GlobalFilter = text
		e.state.PageIndex = 0
		e.sel.ResetAnchor()
	}, true)
}

// SetPage jumps to a page.
func (e *Engine[T]) SetPage(index int) {
	e.mutate(func() {
		if index < 0 {
			index = 0
		}
		e.state.PageIndex = index
		e.sel.ResetAnchor()
	}, false)
}

// SetPageSize changes the page size and resets to the first page.
func (e *Engine[T]) SetPageSize(size int) {
	e.mutate(func() {
		e.state.PageSize = size
		e.state.PageIndex = 0
		e.sel.ResetAnchor()
	}, false)
}

// mutate applies a state change and triggers recompute (client) or fetch
// (server, optionally debounced), then notifies subscribers.
func (e *Engine[T]) mutate(apply func(), debounced bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	apply()
	serverFetch := e.opts.Mode == ModeServer
	if serverFetch && !debounced {
		e.beginFetchLocked()
	} else if !serverFetch {
		e.recomputeLocked()
	} else {
		e.loading = true
	}
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()

	if serverFetch && debounced {
		e.debounce.call(e.fetchNow)
	}
}

// Refresh re-runs the pipeline (client) or re-issues the current fetch
// (server). It is also the retry entry point after a fetch error.
func (e *Engine[T]) Refresh() {
	if e.opts.Mode == ModeServer {
		e.fetchNow()
		return
	}
	e.mu.Lock()
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

func (e *Engine[T]) fetchNow() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.beginFetchLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// beginFetchLocked starts a server page fetch for the current state,
// superseding any in-flight request for the page slot.
func (e *Engine[T]) beginFetchLocked() {
	e.fetchSeq++
	seq := e.fetchSeq
	if e.fetchCancel != nil {
		e.fetchCancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.fetchCancel = cancel
	e.loading = true

	req := source.PageRequest{
		PageIndex:    e.state.PageIndex,
		PageSize:     e.state.PageSize,
		Sort:         append([]grid.SortKey(nil), e.state.Sort...),
		Filters:      cloneFilters(e.state.Filters),
		GlobalFilter: e.state.GlobalFilter,
	}
	reqID := uuid.NewString()
	e.log.Debug("fetching page",
		zap.String("req", reqID),
		zap.Int("page", req.PageIndex),
		zap.Uint64("seq", seq))

	go func() {
		page, err := e.opts.Pager.FetchPage(ctx, req)

		e.mu.Lock()
		if seq != e.fetchSeq || e.closed {
			e.mu.Unlock()
			e.log.Debug("discarding stale page response",
				zap.String("req", reqID), zap.Uint64("seq", seq))
			return
		}
		e.fetchCancel = nil
		e.loading = false
		if err != nil {
			// Keep the prior known-good page; the host can Refresh to retry.
			e.fetchErr = &grid.FetchError{Slot: "page", Err: err}
			e.log.Warn("page fetch failed, keeping stale data",
				zap.String("req", reqID), zap.Error(err))
		} else {
			e.fetchErr = nil
			e.rows = page.Rows
			e.pageCount = page.PageCount
			e.serverTotal = page.TotalCount
			e.sel.SetTotalCount(page.TotalCount)
		}
		e.recomputeLocked()
		notify := e.prepareNotifyLocked()
		e.mu.Unlock()
		notify()
	}()
}

// --- selection ---

// ToggleRow flips selection for a row and anchors range selection at it.
func (e *Engine[T]) ToggleRow(id string) {
	e.mu.Lock()
	e.sel.ToggleRow(id, e.indexOfLocked(id))
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SelectRange selects from the current anchor through the row at the given
// visible index (shift-click semantics).
func (e *Engine[T]) SelectRange(targetIndex int) {
	e.mu.Lock()
	e.sel.SelectRange(targetIndex, e.visibleIDs)
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SelectAllMatching selects every row matching the current filters across
// all pages, represented as all-except-excluded.
func (e *Engine[T]) SelectAllMatching() {
	e.mu.Lock()
	total := e.filteredCount
	if e.opts.Mode == ModeServer {
		total = e.serverTotal
	}
	e.sel.SelectAllMatching(total)
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// ClearSelection resets to an empty selection.
func (e *Engine[T]) ClearSelection() {
	e.mu.Lock()
	e.sel.Clear()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SelectedCount returns the current selection count.
func (e *Engine[T]) SelectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.Count()
}

// --- expansion ---

// ToggleExpand expands or collapses a visible row.
func (e *Engine[T]) ToggleExpand(id string) error {
	e.mu.Lock()
	row, ok := e.rowByIDLocked(id)
	ctx := e.ctx
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownRow, id)
	}
	e.tree.Toggle(ctx, row)

	e.mu.Lock()
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
	return nil
}

// InvalidateSubRows drops the cached children of a row so the next expand
// refetches.
func (e *Engine[T]) InvalidateSubRows(id string) {
	e.tree.Invalidate(id)
	e.mu.Lock()
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// --- virtualization ---

// Scroll updates the viewport position and size; the next snapshot carries
// the recomputed virtual range.
func (e *Engine[T]) Scroll(offset, containerSize float64) {
	e.mu.Lock()
	e.scroll = offset
	e.viewport = containerSize
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// Measure records a row's actual rendered height. The scroll offset is
// re-anchored on the topmost visible row so remeasurement above the
// viewport does not cause a visible jump.
func (e *Engine[T]) Measure(id string, height float64) {
	e.mu.Lock()
	e.scroll = e.virt.Measure(id, height, e.scroll)
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// --- editing ---

// BeginEdit opens an edit session for a cell.
func (e *Engine[T]) BeginEdit(rowID, columnID string) (grid.EditSession, error) {
	if e.opts.SetCell == nil {
		return grid.EditSession{}, fmt.Errorf("engine: editing not configured")
	}
	sess, err := e.edits.Begin(rowID, columnID)
	if err != nil {
		return grid.EditSession{}, err
	}
	e.notifyAll()
	return sess, nil
}

// SetPending updates the uncommitted value of an open session.
func (e *Engine[T]) SetPending(rowID, columnID string, value any) error {
	err := e.edits.SetPending(rowID, columnID, value)
	if err == nil {
		e.notifyAll()
	}
	return err
}

// CommitEdit validates and saves the pending value optimistically.
func (e *Engine[T]) CommitEdit(rowID, columnID string) error {
	err := e.edits.Commit(e.ctx, rowID, columnID)
	e.notifyAll()
	return err
}

// RetryEdit re-attempts a failed save.
func (e *Engine[T]) RetryEdit(rowID, columnID string) error {
	err := e.edits.Retry(e.ctx, rowID, columnID)
	e.notifyAll()
	return err
}

// CancelEdit abandons an edit session.
func (e *Engine[T]) CancelEdit(rowID, columnID string) error {
	err := e.edits.Cancel(rowID, columnID)
	e.notifyAll()
	return err
}

// --- layout ---

// UpdateLayout mutates the layout state, persists it when a store is
// configured, and notifies subscribers.
func (e *Engine[T]) UpdateLayout(apply func(*layout.State)) {
	e.mu.Lock()
	apply(&e.layout)
	e.layout.Version = layout.SchemaVersion
	st := e.layout.Clone()
	store := e.opts.LayoutStore
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()

	if store != nil {
		if err := store.Save(st); err != nil {
			e.log.Warn("layout save failed", zap.Error(err))
		}
	}
	notify()
}

// --- internals ---

func (e *Engine[T]) onAsyncChange() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

func (e *Engine[T]) notifyAll() {
	e.mu.Lock()
	e.recomputeLocked()
	notify := e.prepareNotifyLocked()
	e.mu.Unlock()
	notify()
}

// recomputeLocked runs the pipeline and refreshes all derived state.
func (e *Engine[T]) recomputeLocked() {
	st := e.state.Clone()
	st.Expanded = e.tree.ExpandedSet()

	res := pipeline.Compute(e.rows, e.cols, st, pipeline.Options[T]{
		Logger:     e.log,
		ServerMode: e.opts.Mode == ModeServer,
		Children:   e.tree.Children,
	})
	if len(res.DuplicateIDs) > 0 && e.opts.Strict {
		panic(fmt.Sprintf("duplicate row ids from data source: %v", res.DuplicateIDs))
	}

	e.visible = res.Rows
	e.visibleIDs = e.visibleIDs[:0]
	for _, r := range res.Rows {
		e.visibleIDs = append(e.visibleIDs, r.ID)
	}
	e.virt.SetRows(e.visibleIDs)

	if e.opts.Mode == ModeClient {
		e.filteredCount = res.FilteredCount
		e.pageCount = res.PageCount
		e.sel.SetTotalCount(res.FilteredCount)
	} else {
		e.filteredCount = e.serverTotal
	}
}

func (e *Engine[T]) snapshotLocked() Snapshot[T] {
	rows := make([]RowInfo[T], len(e.visible))
	for i, r := range e.visible {
		info := RowInfo[T]{
			Row:      r,
			Selected: e.sel.IsSelected(r.ID),
			Expand:   e.tree.StateOf(r.ID),
		}
		if err := e.tree.Err(r.ID); err != nil {
			info.ExpandErr = err.Error()
		}
		rows[i] = info
	}

	total := len(e.rows)
	if e.opts.Mode == ModeServer {
		total = e.serverTotal
	}

	return Snapshot[T]{
		Rows:          rows,
		Range:         e.virt.Range(e.scroll, e.viewport),
		Columns:       e.visibleColumnsLocked(),
		Sort:          append([]grid.SortKey(nil), e.state.Sort...),
		Selection:     e.sel.Snapshot(),
		SelectedCount: e.sel.Count(),
		Edits:         e.edits.Sessions(),
		Layout:        e.layout.Clone(),
		FilteredCount: e.filteredCount,
		PageCount:     e.pageCount,
		PageIndex:     e.state.PageIndex,
		TotalCount:    total,
		Loading:       e.loading,
		FetchErr:      e.fetchErr,
	}
}

// visibleColumnsLocked orders columns per the layout state: left-pinned,
// then unpinned in layout order, then right-pinned; hidden columns drop out.
func (e *Engine[T]) visibleColumnsLocked() []grid.ColumnDef[T] {
	byID := make(map[string]grid.ColumnDef[T], len(e.cols))
	for _, c := range e.cols {
		byID[c.ID] = c
	}

	pinned := make(map[string]bool)
	var out []grid.ColumnDef[T]
	appendCol := func(id string) {
		c, ok := byID[id]
		if !ok || !e.layout.Visible(id) {
			return
		}
		out = append(out, c)
		delete(byID, id)
	}

	for _, id := range e.layout.ColumnPinning.Left {
		pinned[id] = true
		appendCol(id)
	}
	for _, id := range e.layout.ColumnPinning.Right {
		pinned[id] = true
	}
	if len(e.layout.ColumnOrder) > 0 {
		for _, id := range e.layout.ColumnOrder {
			if !pinned[id] {
				appendCol(id)
			}
		}
	}
	// Columns absent from the configured order keep definition order.
	for _, c := range e.cols {
		if _, left := byID[c.ID]; left && !pinned[c.ID] {
			appendCol(c.ID)
		}
	}
	for _, id := range e.layout.ColumnPinning.Right {
		appendCol(id)
	}
	return out
}

func (e *Engine[T]) prepareNotifyLocked() func() {
	if len(e.subs) == 0 {
		return func() {}
	}
	snap := e.snapshotLocked()
	fns := make([]func(Snapshot[T]), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

func (e *Engine[T]) indexOfLocked(id string) int {
	for i, v := range e.visibleIDs {
		if v == id {
			return i
		}
	}
	return -1
}

// rowByIDLocked finds a row among the roots or the cached sub-rows.
func (e *Engine[T]) rowByIDLocked(id string) (grid.Row[T], bool) {
	for _, r := range e.rows {
		if r.ID == id {
			return r, true
		}
	}
	return e.tree.FindRow(id)
}

// cellGet is the edit coordinator's read hook.
func (e *Engine[T]) cellGet(rowID, columnID string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	row, ok := e.rowByIDLocked(rowID)
	if !ok {
		return nil, false
	}
	for _, c := range e.cols {
		if c.ID == columnID && c.Accessor != nil {
			return c.Accessor(row.Raw), true
		}
	}
	return nil, false
}

// cellSet is the edit coordinator's write hook: it patches the row in place
// (optimistic apply and rollback both land here).
func (e *Engine[T]) cellSet(rowID, columnID string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opts.SetCell == nil {
		return fmt.Errorf("engine: editing not configured")
	}
	for i, r := range e.rows {
		if r.ID != rowID {
			continue
		}
		raw, err := e.opts.SetCell(r.Raw, columnID, value)
		if err != nil {
			return err
		}
		e.rows[i].Raw = raw
		e.recomputeLocked()
		return nil
	}

	var patchErr error
	patched := e.tree.PatchRow(rowID, func(r grid.Row[T]) grid.Row[T] {
		raw, err := e.opts.SetCell(r.Raw, columnID, value)
		if err != nil {
			patchErr = err
			return r
		}
		r.Raw = raw
		return r
	})
	if patchErr != nil {
		return patchErr
	}
	if !patched {
		return fmt.Errorf("%w: %s", grid.ErrUnknownRow, rowID)
	}
	e.recomputeLocked()
	return nil
}

// validateCell is the edit coordinator's validation hook.
func (e *Engine[T]) validateCell(columnID string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.cols {
		if c.ID == columnID {
			if c.Validator == nil {
				return nil
			}
			return c.Validator(value)
		}
	}
	return fmt.Errorf("%w: %s", grid.ErrUnknownColumn, columnID)
}

func cloneFilters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
