package monitor

import tea "github.com/charmbracelet/bubbletea"

// Key bindings as constants for consistency.
const (
	KeyQuit       = "q"
	KeyQuitAlt    = "ctrl+c"
	KeyQuitEsc    = "esc"
	KeyRefresh    = "r"
	KeyToggleHelp = "?"
)

// HandleKeyMsg processes keyboard input. It reports whether the key was
// handled and the command to run.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitAlt, KeyQuitEsc:
		m.quitting = true
		return true, tea.Quit
	case KeyRefresh:
		m.collector.Invalidate()
		m.refreshing = true
		return true, m.collectCmd()
	case KeyToggleHelp:
		m.showHelp = !m.showHelp
		return true, nil
	}
	return false, nil
}
