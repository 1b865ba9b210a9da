// Package edit implements the per-cell edit session state machine:
// viewing -> editing -> saving -> viewing, with validation before save,
// optimistic apply on commit, and rollback to the exact pre-edit snapshot
// when the save is rejected. Saves follow latest-wins sequencing per cell.
package edit

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabular/internal/grid"
)

// Scope limits how many concurrent edit sessions a table allows.
type Scope int

const (
	// ScopeTable allows one active (editing/saving) session per table.
	ScopeTable Scope = iota
	// ScopeRow allows one active session per row.
	ScopeRow
)

// Saver persists a committed cell value. It runs on a background goroutine;
// a rejected save triggers rollback.
type Saver func(ctx context.Context, rowID, columnID string, value any) error

// Options configures a Coordinator. Get/Set are the engine's hooks into the
// live row set: Get snapshots the pre-edit value, Set applies the optimistic
// value and the rollback. The hooks are always invoked without the
// coordinator lock held, so they may take the engine's own lock freely.
type Options struct {
	Scope    Scope
	Logger   *zap.Logger
	Saver    Saver
	Get      func(rowID, columnID string) (any, bool)
	Set      func(rowID, columnID string, value any) error
	Validate func(columnID string, value any) error

	// OnChange fires on the saver goroutine whenever an async save settles.
	OnChange func()
}

type session struct {
	grid.EditSession
	original    any
	hasOriginal bool
}

// Coordinator owns every edit session for one table instance. Methods are
// safe for concurrent use.
type Coordinator struct {
	mu   sync.Mutex
	opts Options
	log  *zap.Logger

	sessions map[string]*session
	seq      map[string]uint64
	cancels  map[string]context.CancelFunc
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		opts:     opts,
		log:      log,
		sessions: make(map[string]*session),
		seq:      make(map[string]uint64),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func cellKey(rowID, columnID string) string {
	return rowID + "\x00" + columnID
}

// Begin starts an edit session for a cell, seeded with its current value.
// It fails with grid.ErrEditInProgress while another session in scope is
// editing or saving, and with grid.ErrUnknownRow when the cell has no
// current value.
func (c *Coordinator) Begin(rowID, columnID string) (grid.EditSession, error) {
	current, ok := c.opts.Get(rowID, columnID)
	if !ok {
		return grid.EditSession{}, grid.ErrUnknownRow
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.Status != grid.EditEditing && s.Status != grid.EditSaving {
			continue
		}
		if c.opts.Scope == ScopeTable || s.RowID == rowID {
			return grid.EditSession{}, grid.ErrEditInProgress
		}
	}

	s := &session{
		EditSession: grid.EditSession{
			RowID:    rowID,
			ColumnID: columnID,
			Pending:  current,
			Status:   grid.EditEditing,
		},
		original:    current,
		hasOriginal: true,
	}
	c.sessions[cellKey(rowID, columnID)] = s
	return s.EditSession, nil
}

// SetPending updates the uncommitted value of an editing session.
func (c *Coordinator) SetPending(rowID, columnID string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[cellKey(rowID, columnID)]
	if !ok || s.Status != grid.EditEditing {
		return grid.ErrNoEditSession
	}
	s.Pending = value
	s.ErrMsg = ""
	return nil
}

// Commit validates the pending value and, if it passes, applies it
// optimistically and starts the async save. On validation failure the
// session stays editing with the error message set and no save is issued.
func (c *Coordinator) Commit(ctx context.Context, rowID, columnID string) error {
	key := cellKey(rowID, columnID)

	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.Status != grid.EditEditing {
		c.mu.Unlock()
		return grid.ErrNoEditSession
	}
	pending := s.Pending
	c.mu.Unlock()

	if c.opts.Validate != nil {
		if err := c.opts.Validate(columnID, pending); err != nil {
			c.mu.Lock()
			if s, ok := c.sessions[key]; ok && s.Status == grid.EditEditing {
				s.ErrMsg = err.Error()
			}
			c.mu.Unlock()
			return &grid.ValidationError{ColumnID: columnID, Msg: err.Error()}
		}
	}

	return c.startSave(ctx, key, rowID, columnID, pending, grid.EditEditing)
}

// Retry re-attempts a failed save with the same pending value.
func (c *Coordinator) Retry(ctx context.Context, rowID, columnID string) error {
	key := cellKey(rowID, columnID)
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.Status != grid.EditFailed {
		c.mu.Unlock()
		return grid.ErrNoEditSession
	}
	pending := s.Pending
	c.mu.Unlock()
	return c.startSave(ctx, key, rowID, columnID, pending, grid.EditFailed)
}

// startSave applies the optimistic value and launches the save goroutine.
// want guards against the session changing state between the caller's check
// and the transition to saving.
func (c *Coordinator) startSave(ctx context.Context, key, rowID, columnID string, pending any, want grid.EditStatus) error {
	if err := c.opts.Set(rowID, columnID, pending); err != nil {
		c.mu.Lock()
		if s, ok := c.sessions[key]; ok && s.Status == want {
			s.ErrMsg = err.Error()
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.Status != want {
		c.mu.Unlock()
		return grid.ErrNoEditSession
	}
	s.Status = grid.EditSaving
	s.ErrMsg = ""

	c.seq[key]++
	seq := c.seq[key]
	if cancel, ok := c.cancels[key]; ok {
		cancel()
	}
	saveCtx, cancel := context.WithCancel(ctx)
	c.cancels[key] = cancel
	c.mu.Unlock()

	reqID := uuid.NewString()
	c.log.Debug("saving cell",
		zap.String("req", reqID),
		zap.String("row", rowID),
		zap.String("column", columnID))

	go c.save(saveCtx, key, seq, reqID, rowID, columnID, pending)
	return nil
}

func (c *Coordinator) save(ctx context.Context, key string, seq uint64, reqID, rowID, columnID string, value any) {
	var err error
	if c.opts.Saver != nil {
		err = c.opts.Saver(ctx, rowID, columnID, value)
	}

	c.mu.Lock()
	if c.seq[key] != seq {
		c.mu.Unlock()
		c.log.Debug("discarding stale save result", zap.String("req", reqID))
		return
	}
	delete(c.cancels, key)

	s, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return
	}

	if err != nil {
		// Roll back to the pre-edit snapshot; the session surfaces the
		// failure and stays retryable.
		original := s.original
		s.Status = grid.EditFailed
		s.ErrMsg = err.Error()
		c.mu.Unlock()

		if setErr := c.opts.Set(rowID, columnID, original); setErr != nil {
			c.log.Error("rollback failed", zap.String("req", reqID), zap.Error(setErr))
		}
		c.log.Warn("cell save rejected, rolled back",
			zap.String("req", reqID),
			zap.String("row", rowID),
			zap.String("column", columnID),
			zap.Error(err))
		if c.opts.OnChange != nil {
			c.opts.OnChange()
		}
		return
	}

	delete(c.sessions, key)
	c.mu.Unlock()
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

// Cancel abandons a session. Editing sessions simply disappear (nothing was
// applied); failed sessions were already rolled back; saving sessions have
// their in-flight save orphaned and the optimistic value reverted.
func (c *Coordinator) Cancel(rowID, columnID string) error {
	key := cellKey(rowID, columnID)

	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return grid.ErrNoEditSession
	}
	rollback := false
	var original any
	if s.Status == grid.EditSaving {
		if cancel, ok := c.cancels[key]; ok {
			cancel()
			delete(c.cancels, key)
		}
		c.seq[key]++ // orphan the in-flight save
		rollback = s.hasOriginal
		original = s.original
	}
	delete(c.sessions, key)
	c.mu.Unlock()

	if rollback {
		if err := c.opts.Set(rowID, columnID, original); err != nil {
			c.log.Error("rollback on cancel failed", zap.Error(err))
		}
	}
	return nil
}

// Session returns the snapshot for one cell, if a session exists.
func (c *Coordinator) Session(rowID, columnID string) (grid.EditSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[cellKey(rowID, columnID)]
	if !ok {
		return grid.EditSession{}, false
	}
	return s.EditSession, true
}

// Sessions returns snapshots of every live session.
func (c *Coordinator) Sessions() []grid.EditSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]grid.EditSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.EditSession)
	}
	return out
}

// Close cancels all in-flight saves.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cancel := range c.cancels {
		cancel()
		c.seq[key]++
	}
	c.cancels = make(map[string]context.CancelFunc)
}
