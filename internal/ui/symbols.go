package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Operation completed
	SymbolFail     = "✗" // Operation failed
	SymbolPending  = "○" // Not running / not yet started
	SymbolProgress = "◐" // Transitioning
	SymbolComplete = "●" // Running
	SymbolSkipped  = "⊘" // Skipped or unknown
	SymbolWarning  = "!" // Needs attention
)

// Badge renders a symbol and label in the tone's color.
func Badge(t Tone, symbol, label string) string {
	return t.Style().Render(symbol + " " + label)
}
