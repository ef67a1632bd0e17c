package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication. ANSI codes keep them readable on
// the small terminals mesh nodes tend to run on.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// SpinnerColors cycle while a spinner animates.
var SpinnerColors = []lipgloss.Color{ColorInfo, ColorSecondary, ColorSuccess, ColorSecondary}

// Tone is the visual weight of a status value.
type Tone int

const (
	ToneMuted Tone = iota
	ToneOK
	ToneWarn
	ToneError
	ToneInfo
)

// Color returns the palette color for the tone.
func (t Tone) Color() lipgloss.Color {
	switch t {
	case ToneOK:
		return ColorSuccess
	case ToneWarn:
		return ColorWarning
	case ToneError:
		return ColorError
	case ToneInfo:
		return ColorInfo
	default:
		return ColorMuted
	}
}

// Style returns a foreground style for the tone.
func (t Tone) Style() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Color())
}

// Muted renders s in the muted color.
func Muted(s string) string {
	return ToneMuted.Style().Render(s)
}

// DisableColors switches all rendering to plain ASCII (--no-color, NO_COLOR).
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
