package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a non-focused Bubbles table with the CLI styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{Title: c.Title, Width: c.Width}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.Foreground(ColorPrimary)
	// Nothing is selectable in CLI output; keep the first row unhighlighted.
	s.Selected = s.Cell

	t.SetStyles(s)
	return t
}

// RenderTable renders rows as a plain table for command output.
// Widths of zero are sized to the widest cell in the column.
func RenderTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	sized := make([]TableColumn, len(columns))
	copy(sized, columns)
	for i := range sized {
		if sized[i].Width > 0 {
			continue
		}
		w := lipgloss.Width(sized[i].Title)
		for _, r := range rows {
			if i < len(r) && lipgloss.Width(r[i]) > w {
				w = lipgloss.Width(r[i])
			}
		}
		sized[i].Width = w + 2
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}
	return NewTable(sized, tableRows).View()
}

// KeyValue is one line of a two-column detail block.
type KeyValue struct {
	Key   string
	Value string
}

// RenderKeyValues renders aligned "key  value" lines.
func RenderKeyValues(items []KeyValue) string {
	width := 0
	for _, kv := range items {
		if len(kv.Key) > width {
			width = len(kv.Key)
		}
	}
	keyStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	var b strings.Builder
	for _, kv := range items {
		b.WriteString(fmt.Sprintf("  %s  %s\n", keyStyle.Render(padRight(kv.Key, width)), kv.Value))
	}
	return b.String()
}

// FormatBytes renders a size like "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
