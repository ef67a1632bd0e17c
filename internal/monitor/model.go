package monitor

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// DefaultInterval is the dashboard refresh period.
const DefaultInterval = 2 * time.Second

// MinInterval keeps the dashboard from hammering the alive checks.
const MinInterval = 500 * time.Millisecond

// Model is the Bubble Tea model for the live dashboard.
type Model struct {
	collector  *Collector
	interval   time.Duration
	timeout    time.Duration
	report     Report
	ready      bool
	refreshing bool
	showHelp   bool
	quitting   bool
	width      int
}

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// reportMsg carries a finished collection.
type reportMsg Report

// NewModel creates a dashboard model refreshing every interval. Each
// collection is bounded by timeout; zero uses four intervals.
func NewModel(collector *Collector, interval, timeout time.Duration) Model {
	if interval < MinInterval {
		interval = MinInterval
	}
	if timeout <= 0 {
		timeout = 4 * interval
	}
	return Model{
		collector: collector,
		interval:  interval,
		timeout:   timeout,
	}
}

// Init starts the tick timer and triggers an initial collection.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.collectCmd())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.tickCmd(), m.collectCmd())

	case reportMsg:
		m.report = Report(msg)
		m.ready = true
		m.refreshing = false
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// Report returns the last collected report.
func (m Model) Report() Report {
	return m.report
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) collectCmd() tea.Cmd {
	c, timeout := m.collector, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return reportMsg(c.Collect(ctx))
	}
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, collector *Collector, interval time.Duration) error {
	p := tea.NewProgram(NewModel(collector, interval, 0), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
