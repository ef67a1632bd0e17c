package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/meshctl/internal/service"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(ui.ColorInfo).Bold(true)
	sectionStyle = lipgloss.NewStyle().Bold(true)
)

// stateSymbol maps a service state to its symbol and tone.
func stateSymbol(s service.State) (string, ui.Tone) {
	switch s {
	case service.StateRunning:
		return ui.SymbolComplete, ui.ToneOK
	case service.StateStopped:
		return ui.SymbolPending, ui.ToneMuted
	case service.StateStarting, service.StateStopping:
		return ui.SymbolProgress, ui.ToneInfo
	default:
		return ui.SymbolSkipped, ui.ToneWarn
	}
}

// StateLabel renders a service state with its symbol, uncolored for table cells.
func StateLabel(s service.State) string {
	sym, _ := stateSymbol(s)
	return sym + " " + s.String()
}

// Render formats a report for one-shot output.
func Render(r Report) string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Services"))
	b.WriteString("\n")
	if len(r.Services) == 0 {
		b.WriteString(ui.Muted("  No services configured") + "\n")
	} else {
		rows := make([][]string, 0, len(r.Services))
		for _, s := range r.Services {
			version := s.Version
			if version == "" {
				version = "-"
			}
			rows = append(rows, []string{s.Name, StateLabel(s.State), version})
		}
		b.WriteString(ui.RenderTable([]ui.TableColumn{
			{Title: "SERVICE"}, {Title: "STATE"}, {Title: "VERSION"},
		}, rows))
		b.WriteString("\n")
		for _, s := range r.Services {
			if s.Err != nil {
				b.WriteString(ui.ToneWarn.Style().Render(fmt.Sprintf("  %s %s: %s", ui.SymbolWarning, s.Name, firstLine(s.Err.Error()))))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Backups"))
	b.WriteString("\n")
	b.WriteString(renderBackups(r))
	return b.String()
}

func renderBackups(r Report) string {
	if r.SnapshotErr != nil {
		return ui.ToneError.Style().Render("  "+ui.SymbolFail+" "+firstLine(r.SnapshotErr.Error())) + "\n"
	}
	latest, ok := r.Latest()
	if !ok {
		return ui.Muted("  No snapshots yet. Run 'meshctl backup create'.") + "\n"
	}
	return ui.RenderKeyValues([]ui.KeyValue{
		{Key: "snapshots", Value: fmt.Sprintf("%d", len(r.Snapshots))},
		{Key: "latest", Value: fmt.Sprintf("%s (%s)", latest.ID, ui.FormatBytes(latest.SizeBytes))},
		{Key: "contains", Value: strings.Join(latest.Names(), ", ")},
	})
}

// renderDashboard renders the live view.
func (m Model) renderDashboard() string {
	var b strings.Builder

	title := titleStyle.Render("meshctl status")
	var stats string
	switch {
	case !m.ready:
		stats = "collecting..."
	case m.refreshing:
		stats = "refreshing..."
	default:
		stats = fmt.Sprintf("%d/%d running | updated %s",
			m.report.Running(), len(m.report.Services), m.report.CollectedAt.Format("15:04:05"))
	}
	b.WriteString(title + ui.Muted(" | "+stats))
	b.WriteString("\n")
	if m.ready {
		badges := make([]string, 0, len(m.report.Services))
		for _, s := range m.report.Services {
			sym, tone := stateSymbol(s.State)
			badges = append(badges, ui.Badge(tone, sym, s.Name))
		}
		b.WriteString(strings.Join(badges, "  "))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.ready {
		b.WriteString(Render(m.report))
	}

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(ui.RenderKeyValues([]ui.KeyValue{
			{Key: "r", Value: "refresh now, bypassing the cache"},
			{Key: "q / esc", Value: "quit"},
			{Key: "?", Value: "toggle this help"},
		}))
	} else {
		b.WriteString(ui.Muted("r refresh · q quit · ? help"))
		b.WriteString("\n")
	}
	return b.String()
}

// firstLine keeps the headline of a structured error.
func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, ui.SymbolFail))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
