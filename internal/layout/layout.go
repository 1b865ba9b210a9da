// Package layout holds the persisted table layout state: column order,
// sizing, pinning and visibility. The engine reads it at startup and emits
// it on every change; storage is behind the Store port so the host decides
// where it lives (the shipped FileStore writes a versioned JSON file).
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SchemaVersion identifies the serialized layout format. Persisted state
// with a different version is discarded rather than misinterpreted.
const SchemaVersion = 1

// Pinning splits pinned columns by edge.
type Pinning struct {
	Left  []string `json:"left,omitempty"`
	Right []string `json:"right,omitempty"`
}

// State is the persisted layout. Maps are keyed by column id.
type State struct {
	Version          int                `json:"version"`
	ColumnOrder      []string           `json:"columnOrder,omitempty"`
	ColumnSizing     map[string]float64 `json:"columnSizing,omitempty"`
	ColumnPinning    Pinning            `json:"columnPinning"`
	ColumnVisibility map[string]bool    `json:"columnVisibility,omitempty"`
}

// New returns an empty layout at the current schema version.
func New() State {
	return State{Version: SchemaVersion}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.ColumnOrder = append([]string(nil), s.ColumnOrder...)
	out.ColumnPinning.Left = append([]string(nil), s.ColumnPinning.Left...)
	out.ColumnPinning.Right = append([]string(nil), s.ColumnPinning.Right...)
	if s.ColumnSizing != nil {
		out.ColumnSizing = make(map[string]float64, len(s.ColumnSizing))
		for k, v := range s.ColumnSizing {
			out.ColumnSizing[k] = v
		}
	}
	if s.ColumnVisibility != nil {
		out.ColumnVisibility = make(map[string]bool, len(s.ColumnVisibility))
		for k, v := range s.ColumnVisibility {
			out.ColumnVisibility[k] = v
		}
	}
	return out
}

// Visible reports whether a column is visible (visible by default).
func (s State) Visible(columnID string) bool {
	if s.ColumnVisibility == nil {
		return true
	}
	v, ok := s.ColumnVisibility[columnID]
	return !ok || v
}

// Store is the persistence port. Load returns found=false when nothing
// usable is persisted (missing file, wrong schema version).
type Store interface {
	Load() (state State, found bool, err error)
	Save(state State) error
}

// FileStore persists layout state as JSON at a fixed path.
type FileStore struct {
	Path string
}

// Load implements Store.
func (f *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("layout: read %s: %w", f.Path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("layout: parse %s: %w", f.Path, err)
	}
	if st.Version != SchemaVersion {
		// Unknown schema: start fresh instead of guessing at migration.
		return State{}, false, nil
	}
	return st, true, nil
}

// Save implements Store.
func (f *FileStore) Save(st State) error {
	st.Version = SchemaVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("layout: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("layout: mkdir: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0644); err != nil {
		return fmt.Errorf("layout: write %s: %w", f.Path, err)
	}
	return nil
}
