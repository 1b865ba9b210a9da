package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tabular/internal/grid"
	"tabular/internal/grid/engine"
	"tabular/internal/grid/expand"
	"tabular/internal/source"
)

const (
	minColWidth     = 6
	defaultColWidth = 14
	indentPerLevel  = 2
)

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.viewTitle())
	sb.WriteString("\n")
	sb.WriteString(m.viewHeader())
	sb.WriteString("\n")
	sb.WriteString(m.viewRows())
	sb.WriteString(m.viewStatus())
	return sb.String()
}

func (m Model) viewTitle() string {
	title := m.styles.Title.Render("tabular")
	right := fmt.Sprintf("%d rows", m.snap.TotalCount)
	if m.snap.SelectedCount > 0 {
		right += m.styles.Selected.Render(fmt.Sprintf("  %d selected", m.snap.SelectedCount))
	}
	if m.snap.Loading {
		right += "  " + m.spin.View()
	}
	return padBetween(title, right, m.width)
}

// colWidth resolves a column's render width: user sizing first, then the
// definition width, then the default.
func (m Model) colWidth(col grid.ColumnDef[source.Record]) int {
	if w, ok := m.snap.Layout.ColumnSizing[col.ID]; ok && int(w) >= minColWidth {
		return int(w)
	}
	if col.Width >= minColWidth {
		return col.Width
	}
	return defaultColWidth
}

func (m Model) sortMarker(colID string) string {
	for _, k := range m.snap.Sort {
		if k.ColumnID != colID {
			continue
		}
		if k.Direction == grid.SortDescending {
			return " v"
		}
		return " ^"
	}
	return ""
}

func (m Model) viewHeader() string {
	var cells []string
	// Gutter for the selection and expansion markers.
	cells = append(cells, "    ")
	for i, col := range m.snap.Columns {
		label := truncPad(col.Title+m.sortMarker(col.ID), m.colWidth(col))
		style := m.styles.Header
		if i == m.colCursor {
			style = m.styles.SortedCol
		}
		cells = append(cells, style.Render(label))
	}
	return strings.Join(cells, " ")
}

func (m Model) viewRows() string {
	var sb strings.Builder
	body := m.bodyHeight()

	rng := m.snap.Range
	lines := 0
	if !rng.Empty() {
		for i := rng.StartIndex; i <= rng.EndIndex && i < len(m.snap.Rows); i++ {
			// The overscan rows above the viewport are part of the range
			// but would push the visible ones off screen.
			if float64(i) < m.scroll {
				continue
			}
			if lines >= body {
				break
			}
			sb.WriteString(m.viewRow(i))
			sb.WriteString("\n")
			lines++
		}
	}
	for ; lines < body; lines++ {
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) viewRow(i int) string {
	row := m.snap.Rows[i]

	sel := " "
	if row.Selected {
		sel = m.styles.Selected.Render("*")
	}
	marker := " "
	switch row.Expand {
	case expand.Loading:
		marker = m.spin.View()
	case expand.Expanded:
		marker = "v"
	default:
		if row.ExpandErr != "" {
			marker = m.styles.Error.Render("!")
		} else if row.Depth == 0 {
			marker = ">"
		}
	}
	gutter := fmt.Sprintf("%s %s ", sel, marker)

	cells := []string{gutter + strings.Repeat(" ", row.Depth*indentPerLevel)}
	for ci, col := range m.snap.Columns {
		w := m.colWidth(col)
		if ci == 0 && row.Depth > 0 {
			w -= row.Depth * indentPerLevel
			if w < minColWidth {
				w = minColWidth
			}
		}
		cells = append(cells, m.renderCell(row, col, w, i == m.cursor && ci == m.colCursor))
	}

	line := strings.Join(cells, " ")
	if i == m.cursor {
		return m.styles.CursorRow.Width(m.width).Render(line)
	}
	return line
}

func (m Model) renderCell(row engine.RowInfo[source.Record], col grid.ColumnDef[source.Record], width int, atCursor bool) string {
	if m.mode == modeEdit && row.ID == m.editRowID && col.ID == m.editColID {
		return m.styles.EditCell.Render(truncPad(m.input.View(), width))
	}

	var text string
	if s, ok := m.sessionAt(row.ID, col.ID); ok {
		text = fmt.Sprint(s.Pending)
		switch s.Status {
		case grid.EditSaving:
			return m.styles.Warning.Render(truncPad(text+" …", width))
		case grid.EditFailed:
			return m.styles.Error.Render(truncPad(text+" !", width))
		}
	} else if col.Accessor != nil {
		text = fmt.Sprint(col.Accessor(row.Raw))
	}

	out := truncPad(text, width)
	if atCursor {
		return m.styles.SortedCol.Render(out)
	}
	return out
}

func (m Model) viewStatus() string {
	var left string
	switch m.mode {
	case modeFilter:
		left = "/" + m.input.View()
	case modeEdit:
		left = fmt.Sprintf("editing %s.%s (enter save, esc cancel)", m.editRowID, m.editColID)
	default:
		left = "j/k move  space select  V range  a all  enter expand  e edit  / filter  s sort  q quit"
	}

	msg := m.status
	if msg == "" && m.snap.FetchErr != nil {
		msg = m.snap.FetchErr.Error() + " (r to retry)"
	}
	if msg != "" {
		left = m.styles.Error.Render(msg)
	}

	right := fmt.Sprintf("page %d/%d  %d match",
		m.snap.PageIndex+1, max(m.snap.PageCount, 1), m.snap.FilteredCount)

	return m.styles.Status.Render(padBetween(left, right, m.width))
}

// padBetween lays left and right out on one line of the given width.
func padBetween(left, right string, width int) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// truncPad fits text into exactly width cells.
func truncPad(text string, width int) string {
	if w := lipgloss.Width(text); w > width {
		r := []rune(text)
		if len(r) > width {
			r = r[:width]
		}
		return string(r)
	}
	return text + strings.Repeat(" ", width-lipgloss.Width(text))
}
