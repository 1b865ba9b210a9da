// Package selection tracks which row identities are selected, including the
// cross-page "all except excluded" representation. Selection is keyed purely
// by row id: rows keep their selected state while filtered out or while the
// viewport shows a different page (configurable via Options.DropOnRemoval).
package selection

import (
	"sort"

	"go.uber.org/zap"

	"tabular/internal/grid"
)

// Options configures a Manager.
type Options struct {
	// DropOnRemoval drops a row's selection when the row disappears from
	// the known row set (data refresh or deletion). Default false: selection
	// persists by id.
	DropOnRemoval bool

	// Logger receives diagnostics. Nil means zap.NewNop.
	Logger *zap.Logger
}

// Manager owns the live selection state. It is not synchronized: the engine
// serializes access alongside the rest of the table state. Snapshots handed
// out are deep copies.
type Manager struct {
	opts   Options
	state  grid.SelectionState
	anchor int // last explicit selection index, -1 when unset
	log    *zap.Logger
}

// New creates an empty explicit selection.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		opts: opts,
		state: grid.SelectionState{
			Mode:       grid.SelectionExplicit,
			IncludeIDs: make(map[string]struct{}),
		},
		anchor: -1,
		log:    log,
	}
}

// ToggleRow flips membership for id and records index as the new range
// anchor. In all-except mode toggling moves the id in and out of the
// exclude set instead.
func (m *Manager) ToggleRow(id string, index int) {
	switch m.state.Mode {
	case grid.SelectionAllExcept:
		if _, excluded := m.state.ExcludeIDs[id]; excluded {
			delete(m.state.ExcludeIDs, id)
		} else {
			m.state.ExcludeIDs[id] = struct{}{}
		}
	default:
		if _, ok := m.state.IncludeIDs[id]; ok {
			delete(m.state.IncludeIDs, id)
		} else {
			m.state.IncludeIDs[id] = struct{}{}
		}
	}
	m.anchor = index
}

// SelectRange selects every id between the current anchor and target,
// inclusive (shift-click semantics). Without an anchor it degrades to a
// plain toggle at target. The anchor is left in place so a subsequent
// shift-click extends from the same origin.
func (m *Manager) SelectRange(target int, visibleIDs []string) {
	if m.anchor < 0 {
		if target >= 0 && target < len(visibleIDs) {
			m.ToggleRow(visibleIDs[target], target)
		}
		return
	}
	lo, hi := m.anchor, target
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= len(visibleIDs) {
		hi = len(visibleIDs) - 1
	}
	for i := lo; i <= hi; i++ {
		m.selectID(visibleIDs[i])
	}
}

func (m *Manager) selectID(id string) {
	if m.state.Mode == grid.SelectionAllExcept {
		delete(m.state.ExcludeIDs, id)
		return
	}
	m.state.IncludeIDs[id] = struct{}{}
}

// SelectAllMatching switches to all-except mode over totalCount rows with an
// empty exclude set.
func (m *Manager) SelectAllMatching(totalCount int) {
	m.state = grid.SelectionState{
		Mode:       grid.SelectionAllExcept,
		ExcludeIDs: make(map[string]struct{}),
		TotalCount: totalCount,
	}
	m.anchor = -1
}

// Clear resets to an empty explicit selection.
func (m *Manager) Clear() {
	m.state = grid.SelectionState{
		Mode:       grid.SelectionExplicit,
		IncludeIDs: make(map[string]struct{}),
	}
	m.anchor = -1
}

// SetTotalCount refreshes the all-except denominator after a background
// refresh changes the matching row count. Count is always derived from the
// latest total, never cached, so a stale count cannot go negative.
func (m *Manager) SetTotalCount(n int) {
	if n < 0 {
		n = 0
	}
	m.state.TotalCount = n
}

// IsSelected reports whether id is currently selected.
func (m *Manager) IsSelected(id string) bool {
	return m.state.Selected(id)
}

// Count returns the number of selected rows.
func (m *Manager) Count() int {
	return m.state.Count()
}

// Anchor returns the current range anchor index, -1 when unset.
func (m *Manager) Anchor() int {
	return m.anchor
}

// ResetAnchor clears the range anchor. The engine calls this whenever a
// recomputation invalidates visible indices (indices are never carried
// across pipeline runs).
func (m *Manager) ResetAnchor() {
	m.anchor = -1
}

// Reconcile is called after a data refresh with the surviving row ids.
// It prunes exclude-set entries for rows that no longer exist (the
// excludeIDs-subset-of-known-ids invariant) and, when DropOnRemoval is set,
// drops explicit selections for removed rows.
func (m *Manager) Reconcile(known map[string]struct{}, totalCount int) {
	for id := range m.state.ExcludeIDs {
		if _, ok := known[id]; !ok {
			delete(m.state.ExcludeIDs, id)
		}
	}
	if m.opts.DropOnRemoval {
		for id := range m.state.IncludeIDs {
			if _, ok := known[id]; !ok {
				delete(m.state.IncludeIDs, id)
			}
		}
	}
	m.SetTotalCount(totalCount)
}

// Snapshot returns a deep copy of the selection state.
func (m *Manager) Snapshot() grid.SelectionState {
	return m.state.Clone()
}

// SelectedIDs returns the explicit selected ids in sorted order. In
// all-except mode the selection is not enumerable (it is defined against
// the full matching set) and nil is returned.
func (m *Manager) SelectedIDs() []string {
	if m.state.Mode == grid.SelectionAllExcept {
		return nil
	}
	ids := make([]string, 0, len(m.state.IncludeIDs))
	for id := range m.state.IncludeIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
