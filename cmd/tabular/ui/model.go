package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"tabular/internal/grid"
	"tabular/internal/grid/engine"
	"tabular/internal/source"
)

// chromeLines is the vertical space taken by the title, header and status
// bars around the row area.
const chromeLines = 4

type inputMode int

const (
	modeBrowse inputMode = iota
	modeFilter
	modeEdit
)

// snapshotMsg carries a fresh engine snapshot into the bubbletea loop.
type snapshotMsg struct {
	snap engine.Snapshot[source.Record]
}

// Model is the bubbletea model for the grid browser.
type Model struct {
	eng *engine.Engine[source.Record]
	log *zap.Logger

	snap   engine.Snapshot[source.Record]
	styles Styles

	width  int
	height int

	cursor    int // index into snap.Rows
	colCursor int // index into snap.Columns
	scroll    float64

	mode      inputMode
	input     textinput.Model
	spin      spinner.Model
	editRowID string
	editColID string
	status    string
}

// New creates the browser model around an engine.
func New(eng *engine.Engine[source.Record], log *zap.Logger) Model {
	ti := textinput.New()
	ti.CharLimit = 256
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		eng:    eng,
		log:    log,
		styles: DefaultStyles(),
		input:  ti,
		spin:   sp,
	}
}

// Run wires the engine's subscription into a bubbletea program and blocks
// until the user quits.
func Run(eng *engine.Engine[source.Record], log *zap.Logger) error {
	p := tea.NewProgram(New(eng, log), tea.WithAltScreen())
	unsub := eng.Subscribe(func(s engine.Snapshot[source.Record]) {
		p.Send(snapshotMsg{snap: s})
	})
	defer unsub()
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		func() tea.Msg { return snapshotMsg{snap: m.eng.Snapshot()} },
	)
}

// bodyHeight is the number of row lines available inside the chrome.
func (m Model) bodyHeight() int {
	h := m.height - chromeLines
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.eng.Scroll(m.scroll, float64(m.bodyHeight()))
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.clampCursor()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.mode {
		case modeFilter:
			return m.updateFilter(msg)
		case modeEdit:
			return m.updateEdit(msg)
		default:
			return m.updateBrowse(msg)
		}
	}
	return m, nil
}

func (m *Model) clampCursor() {
	if n := len(m.snap.Rows); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if n := len(m.snap.Columns); m.colCursor >= n {
		m.colCursor = n - 1
	}
	if m.colCursor < 0 {
		m.colCursor = 0
	}
}

func (m Model) currentRow() (engine.RowInfo[source.Record], bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Rows) {
		return engine.RowInfo[source.Record]{}, false
	}
	return m.snap.Rows[m.cursor], true
}

func (m Model) currentColumn() (grid.ColumnDef[source.Record], bool) {
	if m.colCursor < 0 || m.colCursor >= len(m.snap.Columns) {
		return grid.ColumnDef[source.Record]{}, false
	}
	return m.snap.Columns[m.colCursor], true
}

// sessionAt finds an edit session for a cell in the latest snapshot.
func (m Model) sessionAt(rowID, colID string) (grid.EditSession, bool) {
	for _, s := range m.snap.Edits {
		if s.RowID == rowID && s.ColumnID == colID {
			return s, true
		}
	}
	return grid.EditSession{}, false
}

// moveCursor shifts the cursor and scrolls the engine viewport so the
// cursor row stays visible.
func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	m.clampCursor()

	body := m.bodyHeight()
	if float64(m.cursor) < m.scroll {
		m.scroll = float64(m.cursor)
	}
	if float64(m.cursor) >= m.scroll+float64(body) {
		m.scroll = float64(m.cursor - body + 1)
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
	m.eng.Scroll(m.scroll, float64(body))
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "pgup":
		m.moveCursor(-m.bodyHeight())
	case "pgdown":
		m.moveCursor(m.bodyHeight())
	case "home", "g":
		m.moveCursor(-len(m.snap.Rows))
	case "end", "G":
		m.moveCursor(len(m.snap.Rows))

	case "left", "h":
		if m.colCursor > 0 {
			m.colCursor--
		}
	case "right", "l":
		if m.colCursor < len(m.snap.Columns)-1 {
			m.colCursor++
		}

	case " ":
		if row, ok := m.currentRow(); ok {
			m.eng.ToggleRow(row.ID)
		}
	case "V":
		m.eng.SelectRange(m.cursor)
	case "a":
		m.eng.SelectAllMatching()
	case "c":
		m.eng.ClearSelection()

	case "enter", "tab":
		if row, ok := m.currentRow(); ok {
			if err := m.eng.ToggleExpand(row.ID); err != nil {
				m.status = err.Error()
			}
		}
	case "x":
		if row, ok := m.currentRow(); ok {
			m.eng.InvalidateSubRows(row.ID)
		}

	case "s":
		if col, ok := m.currentColumn(); ok {
			m.eng.ToggleSort(col.ID)
		}

	case "n", "]":
		m.eng.SetPage(m.snap.PageIndex + 1)
		m.cursor = 0
	case "p", "[":
		m.eng.SetPage(m.snap.PageIndex - 1)
		m.cursor = 0

	case "r":
		m.eng.Refresh()

	case "/":
		m.mode = modeFilter
		m.input.Placeholder = "filter..."
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "e":
		return m.startEdit()

	case "esc":
		if row, ok := m.currentRow(); ok {
			if col, okc := m.currentColumn(); okc {
				if s, found := m.sessionAt(row.ID, col.ID); found && s.Status == grid.EditFailed {
					_ = m.eng.CancelEdit(row.ID, col.ID)
				}
			}
		}
	}
	return m, nil
}

// startEdit begins (or retries) an edit on the cursor cell.
func (m Model) startEdit() (tea.Model, tea.Cmd) {
	row, ok := m.currentRow()
	if !ok {
		return m, nil
	}
	col, ok := m.currentColumn()
	if !ok {
		return m, nil
	}

	if s, found := m.sessionAt(row.ID, col.ID); found && s.Status == grid.EditFailed {
		if err := m.eng.RetryEdit(row.ID, col.ID); err != nil {
			m.status = err.Error()
		}
		return m, nil
	}

	sess, err := m.eng.BeginEdit(row.ID, col.ID)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.mode = modeEdit
	m.editRowID = sess.RowID
	m.editColID = sess.ColumnID
	m.input.Placeholder = ""
	m.input.SetValue(fmt.Sprint(sess.Pending))
	m.input.CursorEnd()
	m.input.Focus()
	return m, textinput.Blink
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case "esc":
		m.mode = modeBrowse
		m.input.SetValue("")
		m.input.Blur()
		m.eng.SetGlobalFilter("")
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.eng.SetGlobalFilter(m.input.Value())
	m.cursor = 0
	return m, cmd
}

func (m Model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if err := m.eng.CommitEdit(m.editRowID, m.editColID); err != nil {
			// Validation failures keep the session editing; the message
			// shows up in the status bar and the user can keep typing.
			m.status = err.Error()
			return m, nil
		}
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case "esc":
		_ = m.eng.CancelEdit(m.editRowID, m.editColID)
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if err := m.eng.SetPending(m.editRowID, m.editColID, m.input.Value()); err != nil {
		m.status = err.Error()
	}
	return m, cmd
}
