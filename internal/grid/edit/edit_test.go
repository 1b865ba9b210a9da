package edit

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
)

// cellStore is a minimal engine stand-in: a mutex-guarded cell map the
// coordinator reads and writes through its hooks.
type cellStore struct {
	mu    sync.Mutex
	cells map[string]any
}

func newCellStore(cells map[string]any) *cellStore {
	return &cellStore{cells: cells}
}

func key(rowID, columnID string) string { return rowID + "." + columnID }

func (s *cellStore) get(rowID, columnID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cells[key(rowID, columnID)]
	return v, ok
}

func (s *cellStore) set(rowID, columnID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[key(rowID, columnID)]; !ok {
		return fmt.Errorf("no such cell")
	}
	s.cells[key(rowID, columnID)] = value
	return nil
}

func (s *cellStore) value(t *testing.T, rowID, columnID string) any {
	t.Helper()
	v, ok := s.get(rowID, columnID)
	require.True(t, ok)
	return v
}

func waitStatus(t *testing.T, c *Coordinator, rowID, columnID string, want grid.EditStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := c.Session(rowID, columnID)
		return ok && s.Status == want
	}, time.Second, 5*time.Millisecond)
}

func waitSettled(t *testing.T, c *Coordinator, rowID, columnID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := c.Session(rowID, columnID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBeginSeedsCurrentValue(t *testing.T) {
	store := newCellStore(map[string]any{"r1.price": 9.5})
	c := New(Options{Get: store.get, Set: store.set})
	defer c.Close()

	sess, err := c.Begin("r1", "price")
	require.NoError(t, err)
	assert.Equal(t, grid.EditEditing, sess.Status)
	assert.Equal(t, 9.5, sess.Pending)

	_, err = c.Begin("missing", "price")
	assert.ErrorIs(t, err, grid.ErrUnknownRow)
}

func TestValidationBlocksSave(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCellStore(map[string]any{"r1.price": 10.0})
	var saves int
	c := New(Options{
		Get: store.get,
		Set: store.set,
		Validate: func(columnID string, value any) error {
			if v, ok := value.(float64); ok && v < 0 {
				return errors.New("price must not be negative")
			}
			return nil
		},
		Saver: func(ctx context.Context, rowID, columnID string, value any) error {
			saves++
			return nil
		},
	})
	defer c.Close()

	_, err := c.Begin("r1", "price")
	require.NoError(t, err)
	require.NoError(t, c.SetPending("r1", "price", -3.0))

	err = c.Commit(context.Background(), "r1", "price")
	var verr *grid.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.ColumnID)

	// Session stays open in editing with the message; the cell is untouched
	// and no save was issued.
	sess, ok := c.Session("r1", "price")
	require.True(t, ok)
	assert.Equal(t, grid.EditEditing, sess.Status)
	assert.Equal(t, "price must not be negative", sess.ErrMsg)
	assert.Equal(t, 10.0, store.value(t, "r1", "price"))
	assert.Zero(t, saves)

	// Correcting the value clears the message and commits.
	require.NoError(t, c.SetPending("r1", "price", 12.0))
	require.NoError(t, c.Commit(context.Background(), "r1", "price"))
	waitSettled(t, c, "r1", "price")
	assert.Equal(t, 12.0, store.value(t, "r1", "price"))
}

func TestOptimisticApplyAndSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCellStore(map[string]any{"r1.name": "old"})
	release := make(chan struct{})
	c := New(Options{
		Get: store.get,
		Set: store.set,
		Saver: func(ctx context.Context, rowID, columnID string, value any) error {
			<-release
			return nil
		},
	})
	defer c.Close()

	_, err := c.Begin("r1", "name")
	require.NoError(t, err)
	require.NoError(t, c.SetPending("r1", "name", "new"))
	require.NoError(t, c.Commit(context.Background(), "r1", "name"))

	// The value is applied before the save settles.
	assert.Equal(t, "new", store.value(t, "r1", "name"))
	sess, ok := c.Session("r1", "name")
	require.True(t, ok)
	assert.Equal(t, grid.EditSaving, sess.Status)

	close(release)
	waitSettled(t, c, "r1", "name")
	assert.Equal(t, "new", store.value(t, "r1", "name"))
}

func TestRejectedSaveRollsBackExactly(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCellStore(map[string]any{"r1.qty": int64(7)})
	c := New(Options{
		Get: store.get,
		Set: store.set,
		Saver: func(ctx context.Context, rowID, columnID string, value any) error {
			return errors.New("conflict")
		},
	})
	defer c.Close()

	_, err := c.Begin("r1", "qty")
	require.NoError(t, err)
	require.NoError(t, c.SetPending("r1", "qty", int64(99)))
	require.NoError(t, c.Commit(context.Background(), "r1", "qty"))

	waitStatus(t, c, "r1", "qty", grid.EditFailed)
	// Rollback restores the exact pre-edit snapshot, not a re-read. The
	// status flips before the rollback write lands, so poll for it.
	require.Eventually(t, func() bool {
		v, _ := store.get("r1", "qty")
		return v == int64(7)
	}, time.Second, 5*time.Millisecond)

	sess, _ := c.Session("r1", "qty")
	assert.Equal(t, "conflict", sess.ErrMsg)
	assert.Equal(t, int64(99), sess.Pending, "pending survives for retry")
}

func TestRetryAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCellStore(map[string]any{"r1.qty": 1})
	var calls int
	var mu sync.Mutex
	c := New(Options{
		Get: store.get,
		Set: store.set,
		Saver: func(ctx context.Context, rowID, columnID string, value any) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		},
	})
	defer c.Close()

	_, err := c.Begin("r1", "qty")
	require.NoError(t, err)
	require.NoError(t, c.SetPending("r1", "qty", 5))
	require.NoError(t, c.Commit(context.Background(), "r1", "qty"))
	waitStatus(t, c, "r1", "qty", grid.EditFailed)
	require.Eventually(t, func() bool {
		v, _ := store.get("r1", "qty")
		return v == 1
	}, time.Second, 5*time.Millisecond, "rollback lands before retry")

	// Retry is only valid from the failed state.
	require.NoError(t, c.Retry(context.Background(), "r1", "qty"))
	waitSettled(t, c, "r1", "qty")
	assert.Equal(t, 5, store.value(t, "r1", "qty"))

	assert.ErrorIs(t, c.Retry(context.Background(), "r1", "qty"), grid.ErrNoEditSession)
}

func TestScopeEnforcement(t *testing.T) {
	cells := map[string]any{
		"r1.name": "a", "r1.qty": 1,
		"r2.name": "b",
	}

	t.Run("table scope allows one session", func(t *testing.T) {
		c := New(Options{Scope: ScopeTable, Get: newCellStore(cells).get, Set: func(string, string, any) error { return nil }})
		defer c.Close()

		_, err := c.Begin("r1", "name")
		require.NoError(t, err)
		_, err = c.Begin("r2", "name")
		assert.ErrorIs(t, err, grid.ErrEditInProgress)

		require.NoError(t, c.Cancel("r1", "name"))
		_, err = c.Begin("r2", "name")
		assert.NoError(t, err)
	})

	t.Run("row scope allows one session per row", func(t *testing.T) {
		c := New(Options{Scope: ScopeRow, Get: newCellStore(cells).get, Set: func(string, string, any) error { return nil }})
		defer c.Close()

		_, err := c.Begin("r1", "name")
		require.NoError(t, err)
		_, err = c.Begin("r1", "qty")
		assert.ErrorIs(t, err, grid.ErrEditInProgress)
		_, err = c.Begin("r2", "name")
		assert.NoError(t, err)
	})
}

func TestCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("editing session cancels without touching the cell", func(t *testing.T) {
		store := newCellStore(map[string]any{"r1.name": "orig"})
		c := New(Options{Get: store.get, Set: store.set})
		defer c.Close()

		_, err := c.Begin("r1", "name")
		require.NoError(t, err)
		require.NoError(t, c.SetPending("r1", "name", "draft"))
		require.NoError(t, c.Cancel("r1", "name"))

		assert.Equal(t, "orig", store.value(t, "r1", "name"))
		_, ok := c.Session("r1", "name")
		assert.False(t, ok)
	})

	t.Run("saving session rolls back and orphans the save", func(t *testing.T) {
		store := newCellStore(map[string]any{"r1.name": "orig"})
		release := make(chan struct{})
		c := New(Options{
			Get: store.get,
			Set: store.set,
			Saver: func(ctx context.Context, rowID, columnID string, value any) error {
				<-release
				return nil
			},
		})
		defer c.Close()

		_, err := c.Begin("r1", "name")
		require.NoError(t, err)
		require.NoError(t, c.SetPending("r1", "name", "new"))
		require.NoError(t, c.Commit(context.Background(), "r1", "name"))
		require.Equal(t, "new", store.value(t, "r1", "name"))

		require.NoError(t, c.Cancel("r1", "name"))
		assert.Equal(t, "orig", store.value(t, "r1", "name"))

		// The orphaned save settling later must not resurrect anything.
		close(release)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, "orig", store.value(t, "r1", "name"))
		_, ok := c.Session("r1", "name")
		assert.False(t, ok)
	})

	t.Run("cancel without session errors", func(t *testing.T) {
		c := New(Options{Get: func(string, string) (any, bool) { return nil, false }, Set: func(string, string, any) error { return nil }})
		defer c.Close()
		assert.ErrorIs(t, c.Cancel("r1", "name"), grid.ErrNoEditSession)
	})
}

func TestSetPendingRequiresEditingSession(t *testing.T) {
	store := newCellStore(map[string]any{"r1.name": "x"})
	c := New(Options{Get: store.get, Set: store.set})
	defer c.Close()

	assert.ErrorIs(t, c.SetPending("r1", "name", "v"), grid.ErrNoEditSession)
	assert.ErrorIs(t, c.Commit(context.Background(), "r1", "name"), grid.ErrNoEditSession)
}

func TestOnChangeFiresOnSettle(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCellStore(map[string]any{"r1.name": "x"})
	changed := make(chan struct{}, 4)
	c := New(Options{
		Get:      store.get,
		Set:      store.set,
		Saver:    func(ctx context.Context, rowID, columnID string, value any) error { return nil },
		OnChange: func() { changed <- struct{}{} },
	})
	defer c.Close()

	_, err := c.Begin("r1", "name")
	require.NoError(t, err)
	require.NoError(t, c.Commit(context.Background(), "r1", "name"))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected change notification after save settled")
	}
}
