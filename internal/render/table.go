package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders static rows for the doctor and history commands.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given header cells.
func NewTable(headers ...string) *Table {
	return &Table{
		Headers: headers,
		Rows:    make([][]string, 0),
	}
}

// AddRow appends a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Table writes the table to the renderer's destination.
func (r *Renderer) Table(t *Table) {
	if out := t.View(r.styled); out != "" {
		r.out.Write([]byte(out))
	}
}

// View renders the table. Column widths fit the widest cell; each cell
// carries one space of padding on both sides.
func (t *Table) View(styled bool) string {
	if len(t.Rows) == 0 {
		return ""
	}

	colWidths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		colWidths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(colWidths) {
				if w := lipgloss.Width(cell); w > colWidths[i] {
					colWidths[i] = w
				}
			}
		}
	}
	for i := range colWidths {
		colWidths[i] += 2
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	rowStyle := lipgloss.NewStyle().Padding(0, 1)
	sepStyle := lipgloss.NewStyle().Foreground(mutedColor)

	renderCell := func(style lipgloss.Style, cell string, width int) string {
		if styled {
			return style.Width(width).Render(cell)
		}
		return " " + cell + strings.Repeat(" ", width-lipgloss.Width(cell)-1)
	}
	renderSep := func() string {
		if styled {
			return sepStyle.Render("|")
		}
		return "|"
	}

	var sb strings.Builder

	for i, h := range t.Headers {
		sb.WriteString(renderCell(headerStyle, h, colWidths[i]))
		if i < len(t.Headers)-1 {
			sb.WriteString(renderSep())
		}
	}
	sb.WriteString("\n")

	totalWidth := len(t.Headers) - 1
	for _, w := range colWidths {
		totalWidth += w
	}
	divider := strings.Repeat("-", totalWidth)
	if styled {
		divider = sepStyle.Render(divider)
	}
	sb.WriteString(divider + "\n")

	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(colWidths) {
				sb.WriteString(renderCell(rowStyle, cell, colWidths[i]))
				if i < len(row)-1 {
					sb.WriteString(renderSep())
				}
			}
		}
		sb.WriteString("\n")
	}

	return trimTrailingSpace(sb.String())
}
