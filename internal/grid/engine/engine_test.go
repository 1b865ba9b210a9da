package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tabular/internal/grid"
	"tabular/internal/grid/expand"
	"tabular/internal/layout"
	"tabular/internal/source"
)

func testRows(n int) []grid.Row[source.Record] {
	rows := make([]grid.Row[source.Record], n)
	for i := range rows {
		id := fmt.Sprintf("r%d", i)
		rows[i] = grid.Row[source.Record]{ID: id, Raw: source.Record{
			"id":   id,
			"name": fmt.Sprintf("name-%02d", i),
			"qty":  int64(n - i),
		}}
	}
	return rows
}

func testColumns() []grid.ColumnDef[source.Record] {
	return source.RecordColumns([]string{"id", "name", "qty"})
}

func newClient(t *testing.T, opts Options[source.Record]) *Engine[source.Record] {
	t.Helper()
	opts.Mode = ModeClient
	if opts.Columns == nil {
		opts.Columns = testColumns()
	}
	if opts.SetCell == nil {
		opts.SetCell = func(raw source.Record, columnID string, value any) (source.Record, error) {
			return source.SetRecordCell(raw, columnID, value), nil
		}
	}
	eng, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func visibleIDs(s Snapshot[source.Record]) []string {
	out := make([]string, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.ID
	}
	return out
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options[source.Record]{})
	assert.Error(t, err, "columns are required")

	_, err = New(Options[source.Record]{Mode: ModeServer, Columns: testColumns()})
	assert.Error(t, err, "server mode requires a pager")
}

func TestClientFlow(t *testing.T) {
	eng := newClient(t, Options[source.Record]{PageSize: 4})
	eng.SetRows(testRows(10))

	snap := eng.Snapshot()
	assert.Equal(t, []string{"r0", "r1", "r2", "r3"}, visibleIDs(snap))
	assert.Equal(t, 10, snap.FilteredCount)
	assert.Equal(t, 3, snap.PageCount)

	t.Run("sort cycles asc desc none", func(t *testing.T) {
		eng.ToggleSort("qty")
		snap := eng.Snapshot()
		require.Len(t, snap.Sort, 1)
		assert.Equal(t, grid.SortAscending, snap.Sort[0].Direction)
		assert.Equal(t, "r9", snap.Rows[0].ID)

		eng.ToggleSort("qty")
		snap = eng.Snapshot()
		assert.Equal(t, grid.SortDescending, snap.Sort[0].Direction)
		assert.Equal(t, "r0", snap.Rows[0].ID)

		eng.ToggleSort("qty")
		assert.Empty(t, eng.Snapshot().Sort)
	})

	t.Run("global filter narrows and resets page", func(t *testing.T) {
		eng.SetPage(2)
		eng.SetGlobalFilter("name-0")
		snap := eng.Snapshot()
		assert.Equal(t, 10, snap.FilteredCount)
		assert.Equal(t, 0, snap.PageIndex)

		eng.SetGlobalFilter("name-07")
		assert.Equal(t, []string{"r7"}, visibleIDs(eng.Snapshot()))

		eng.SetGlobalFilter("")
		assert.Equal(t, 10, eng.Snapshot().FilteredCount)
	})

	t.Run("page clamps into range", func(t *testing.T) {
		eng.SetPage(99)
		assert.Equal(t, []string{"r8", "r9"}, visibleIDs(eng.Snapshot()))
		eng.SetPage(0)
	})
}

func TestSubscribe(t *testing.T) {
	eng := newClient(t, Options[source.Record]{})

	var mu sync.Mutex
	var count int
	unsub := eng.Subscribe(func(Snapshot[source.Record]) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	eng.SetRows(testRows(3))
	eng.ToggleSort("name")
	mu.Lock()
	seen := count
	mu.Unlock()
	assert.Equal(t, 2, seen)

	unsub()
	eng.ToggleSort("name")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, count, "no notifications after unsubscribe")
}

func TestSelectionFlow(t *testing.T) {
	eng := newClient(t, Options[source.Record]{})
	eng.SetRows(testRows(10))

	eng.ToggleRow("r2")
	eng.SelectRange(5)
	snap := eng.Snapshot()
	assert.Equal(t, 4, snap.SelectedCount)
	for _, r := range snap.Rows {
		want := r.ID >= "r2" && r.ID <= "r5"
		assert.Equal(t, want, r.Selected, r.ID)
	}

	t.Run("select all matching respects the filter", func(t *testing.T) {
		eng.SetGlobalFilter("name-07")
		require.Equal(t, 1, eng.Snapshot().FilteredCount)

		eng.SelectAllMatching()
		snap := eng.Snapshot()
		assert.Equal(t, grid.SelectionAllExcept, snap.Selection.Mode)
		assert.Equal(t, 1, snap.SelectedCount)

		// Widening the filter widens the denominator.
		eng.SetGlobalFilter("")
		assert.Equal(t, 10, eng.Snapshot().SelectedCount)
	})

	t.Run("clear resets", func(t *testing.T) {
		eng.ClearSelection()
		snap := eng.Snapshot()
		assert.Equal(t, 0, snap.SelectedCount)
		assert.Equal(t, grid.SelectionExplicit, snap.Selection.Mode)
	})
}

func TestSelectionPersistsAcrossRefresh(t *testing.T) {
	eng := newClient(t, Options[source.Record]{})
	eng.SetRows(testRows(5))
	eng.ToggleRow("r1")
	eng.ToggleRow("r4")

	// r4 disappears with the refresh, r1 survives.
	eng.SetRows(testRows(3))
	snap := eng.Snapshot()
	assert.Equal(t, 2, snap.SelectedCount, "selection persists by id")
	for _, r := range snap.Rows {
		assert.Equal(t, r.ID == "r1", r.Selected, r.ID)
	}

	// r4 coming back is still selected.
	eng.SetRows(testRows(5))
	for _, r := range eng.Snapshot().Rows {
		assert.Equal(t, r.ID == "r1" || r.ID == "r4", r.Selected, r.ID)
	}
}

func TestDropSelectionOnRemoval(t *testing.T) {
	eng := newClient(t, Options[source.Record]{DropSelectionOnRemoval: true})
	eng.SetRows(testRows(5))
	eng.ToggleRow("r4")

	eng.SetRows(testRows(3))
	assert.Equal(t, 0, eng.Snapshot().SelectedCount)
}

// gatedPager blocks every fetch until the gate closes, recording requests.
type gatedPager struct {
	mu   sync.Mutex
	gate chan struct{}
	reqs []source.PageRequest
	fail bool
}

func (p *gatedPager) FetchPage(ctx context.Context, req source.PageRequest) (source.Page[source.Record], error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	fail := p.fail
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			// Superseded fetches may be cancelled; the response is discarded
			// either way, so returning rows here exercises staleness handling.
		}
	}
	if fail {
		return source.Page[source.Record]{}, errors.New("backend unavailable")
	}
	id := fmt.Sprintf("p%d-r0", req.PageIndex)
	return source.Page[source.Record]{
		Rows:       []grid.Row[source.Record]{{ID: id, Raw: source.Record{"id": id}}},
		PageCount:  5,
		TotalCount: 50,
	}, nil
}

func (p *gatedPager) requests() []source.PageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]source.PageRequest(nil), p.reqs...)
}

func newServer(t *testing.T, pager source.Pager[source.Record], opts Options[source.Record]) *Engine[source.Record] {
	t.Helper()
	opts.Mode = ModeServer
	opts.Pager = pager
	if opts.Columns == nil {
		opts.Columns = testColumns()
	}
	eng, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func TestServerLatestWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	pager := &gatedPager{gate: make(chan struct{})}
	eng := newServer(t, pager, Options[source.Record]{PageSize: 10})

	// Three fetches race: the initial page 0, then pages 1 and 3.
	eng.SetPage(1)
	eng.SetPage(3)
	assert.True(t, eng.Snapshot().Loading)

	close(pager.gate)
	require.Eventually(t, func() bool {
		s := eng.Snapshot()
		return !s.Loading && len(s.Rows) == 1
	}, time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	// Only the newest request's response is applied, whatever the arrival
	// order of the earlier ones.
	assert.Equal(t, []string{"p3-r0"}, visibleIDs(snap))
	assert.Equal(t, 3, snap.PageIndex)
	assert.Equal(t, 5, snap.PageCount)
	assert.Equal(t, 50, snap.TotalCount)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"p3-r0"}, visibleIDs(eng.Snapshot()), "stale responses stay discarded")
}

func TestServerFetchErrorKeepsStaleRows(t *testing.T) {
	defer goleak.VerifyNone(t)

	pager := &gatedPager{}
	eng := newServer(t, pager, Options[source.Record]{PageSize: 10})
	require.Eventually(t, func() bool {
		return len(eng.Snapshot().Rows) == 1
	}, time.Second, 5*time.Millisecond)

	pager.mu.Lock()
	pager.fail = true
	pager.mu.Unlock()

	eng.SetPage(2)
	require.Eventually(t, func() bool {
		s := eng.Snapshot()
		return !s.Loading && s.FetchErr != nil
	}, time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	var fe *grid.FetchError
	require.ErrorAs(t, snap.FetchErr, &fe)
	assert.Equal(t, "page", fe.Slot)
	assert.Equal(t, []string{"p0-r0"}, visibleIDs(snap), "known-good page survives the failure")

	// Refresh retries the same request once the backend recovers.
	pager.mu.Lock()
	pager.fail = false
	pager.mu.Unlock()
	eng.Refresh()

	require.Eventually(t, func() bool {
		s := eng.Snapshot()
		return s.FetchErr == nil && len(s.Rows) == 1 && s.Rows[0].ID == "p2-r0"
	}, time.Second, 5*time.Millisecond)
}

func TestServerGlobalFilterDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	pager := &gatedPager{}
	eng := newServer(t, pager, Options[source.Record]{PageSize: 10, Debounce: 30 * time.Millisecond})
	require.Eventually(t, func() bool {
		return len(pager.requests()) == 1
	}, time.Second, 5*time.Millisecond)

	eng.SetGlobalFilter("a")
	eng.SetGlobalFilter("al")
	eng.SetGlobalFilter("ald")
	assert.True(t, eng.Snapshot().Loading, "loading shows immediately while the fetch is pending")

	require.Eventually(t, func() bool {
		return len(pager.requests()) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	reqs := pager.requests()
	require.Len(t, reqs, 2, "keystrokes coalesce into one fetch")
	assert.Equal(t, "ald", reqs[1].GlobalFilter)
	assert.Equal(t, 0, reqs[1].PageIndex)
}

func TestExpandFlow(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := func(ctx context.Context, parent grid.Row[source.Record]) ([]grid.Row[source.Record], error) {
		if parent.ID == "r1" {
			return nil, errors.New("no sub-rows for you")
		}
		id := parent.ID + "/c0"
		return []grid.Row[source.Record]{{ID: id, Raw: source.Record{"id": id}}}, nil
	}
	eng := newClient(t, Options[source.Record]{SubRows: loader})
	eng.SetRows(testRows(3))

	require.NoError(t, eng.ToggleExpand("r0"))
	require.Eventually(t, func() bool {
		return len(eng.Snapshot().Rows) == 4
	}, time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	assert.Equal(t, []string{"r0", "r0/c0", "r1", "r2"}, visibleIDs(snap))
	assert.Equal(t, expand.Expanded, snap.Rows[0].Expand)
	assert.Equal(t, 1, snap.Rows[1].Depth)

	t.Run("failed load surfaces on the row", func(t *testing.T) {
		require.NoError(t, eng.ToggleExpand("r1"))
		require.Eventually(t, func() bool {
			for _, r := range eng.Snapshot().Rows {
				if r.ID == "r1" {
					return r.Expand == expand.Collapsed && r.ExpandErr != ""
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("collapse removes children", func(t *testing.T) {
		require.NoError(t, eng.ToggleExpand("r0"))
		assert.Equal(t, []string{"r0", "r1", "r2"}, visibleIDs(eng.Snapshot()))
	})

	t.Run("unknown row errors", func(t *testing.T) {
		assert.ErrorIs(t, eng.ToggleExpand("nope"), grid.ErrUnknownRow)
	})
}

func TestEditFlow(t *testing.T) {
	defer goleak.VerifyNone(t)

	cols := testColumns()
	cols[2].Validator = func(value any) error {
		if v, ok := value.(int64); ok && v < 0 {
			return errors.New("qty must not be negative")
		}
		return nil
	}

	var fail bool
	var mu sync.Mutex
	saver := func(ctx context.Context, rowID, columnID string, value any) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("conflict")
		}
		return nil
	}

	eng := newClient(t, Options[source.Record]{Columns: cols, Saver: saver})
	eng.SetRows(testRows(3))

	t.Run("validation failure keeps the session open", func(t *testing.T) {
		_, err := eng.BeginEdit("r0", "qty")
		require.NoError(t, err)
		require.NoError(t, eng.SetPending("r0", "qty", int64(-1)))

		err = eng.CommitEdit("r0", "qty")
		var verr *grid.ValidationError
		require.ErrorAs(t, err, &verr)

		snap := eng.Snapshot()
		require.Len(t, snap.Edits, 1)
		assert.Equal(t, grid.EditEditing, snap.Edits[0].Status)
		assert.Equal(t, int64(3), snap.Rows[0].Raw["qty"], "cell untouched")

		require.NoError(t, eng.CancelEdit("r0", "qty"))
	})

	t.Run("commit applies optimistically and settles", func(t *testing.T) {
		_, err := eng.BeginEdit("r0", "qty")
		require.NoError(t, err)
		require.NoError(t, eng.SetPending("r0", "qty", int64(42)))
		require.NoError(t, eng.CommitEdit("r0", "qty"))

		require.Eventually(t, func() bool {
			s := eng.Snapshot()
			return len(s.Edits) == 0 && s.Rows[0].Raw["qty"] == int64(42)
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("rejected save rolls back", func(t *testing.T) {
		mu.Lock()
		fail = true
		mu.Unlock()

		_, err := eng.BeginEdit("r1", "name")
		require.NoError(t, err)
		require.NoError(t, eng.SetPending("r1", "name", "renamed"))
		require.NoError(t, eng.CommitEdit("r1", "name"))

		require.Eventually(t, func() bool {
			s := eng.Snapshot()
			if len(s.Edits) != 1 || s.Edits[0].Status != grid.EditFailed {
				return false
			}
			return s.Rows[1].Raw["name"] == "name-01"
		}, time.Second, 5*time.Millisecond, "rollback restores the pre-edit value")

		// Retry succeeds after the backend recovers.
		mu.Lock()
		fail = false
		mu.Unlock()
		require.NoError(t, eng.RetryEdit("r1", "name"))
		require.Eventually(t, func() bool {
			s := eng.Snapshot()
			return len(s.Edits) == 0 && s.Rows[1].Raw["name"] == "renamed"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("second session is rejected in table scope", func(t *testing.T) {
		_, err := eng.BeginEdit("r0", "name")
		require.NoError(t, err)
		_, err = eng.BeginEdit("r2", "name")
		assert.ErrorIs(t, err, grid.ErrEditInProgress)
		require.NoError(t, eng.CancelEdit("r0", "name"))
	})
}

func TestSetRowsCancelsEditsOnRemovedRows(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := newClient(t, Options[source.Record]{})
	eng.SetRows(testRows(3))

	_, err := eng.BeginEdit("r2", "name")
	require.NoError(t, err)

	eng.SetRows(testRows(2))
	assert.Empty(t, eng.Snapshot().Edits)

	// The slot is free again.
	_, err = eng.BeginEdit("r0", "name")
	assert.NoError(t, err)
}

func TestEditSubRow(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := func(ctx context.Context, parent grid.Row[source.Record]) ([]grid.Row[source.Record], error) {
		id := parent.ID + "/c0"
		return []grid.Row[source.Record]{{ID: id, Raw: source.Record{"id": id, "name": "child"}}}, nil
	}
	eng := newClient(t, Options[source.Record]{SubRows: loader})
	eng.SetRows(testRows(2))

	require.NoError(t, eng.ToggleExpand("r0"))
	require.Eventually(t, func() bool {
		return len(eng.Snapshot().Rows) == 3
	}, time.Second, 5*time.Millisecond)

	_, err := eng.BeginEdit("r0/c0", "name")
	require.NoError(t, err)
	require.NoError(t, eng.SetPending("r0/c0", "name", "edited"))
	require.NoError(t, eng.CommitEdit("r0/c0", "name"))

	require.Eventually(t, func() bool {
		s := eng.Snapshot()
		return len(s.Edits) == 0 && s.Rows[1].Raw["name"] == "edited"
	}, time.Second, 5*time.Millisecond)
}

func TestVirtualWindowThroughEngine(t *testing.T) {
	eng := newClient(t, Options[source.Record]{RowHeight: 10, Overscan: 1})
	eng.SetRows(testRows(100))

	eng.Scroll(200, 50)
	snap := eng.Snapshot()
	assert.Equal(t, 19, snap.Range.StartIndex)
	assert.Equal(t, 25, snap.Range.EndIndex)

	// Measuring a row above the window keeps the view anchored.
	eng.Measure("r0", 30)
	snap = eng.Snapshot()
	assert.Equal(t, 19, snap.Range.StartIndex)
}

func TestLayoutOrdering(t *testing.T) {
	eng := newClient(t, Options[source.Record]{})
	eng.SetRows(testRows(2))

	snapIDs := func() []string {
		var out []string
		for _, c := range eng.Snapshot().Columns {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"id", "name", "qty"}, snapIDs())

	eng.UpdateLayout(func(st *layout.State) {
		st.ColumnPinning.Right = []string{"id"}
		st.ColumnVisibility = map[string]bool{"name": false}
	})
	assert.Equal(t, []string{"qty", "id"}, snapIDs())

	eng.UpdateLayout(func(st *layout.State) {
		st.ColumnPinning.Right = nil
		st.ColumnVisibility = nil
		st.ColumnOrder = []string{"qty", "name", "id"}
	})
	assert.Equal(t, []string{"qty", "name", "id"}, snapIDs())
}
