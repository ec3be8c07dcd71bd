package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders a bottom status bar with keybinding hints, the
// dispatcher being talked to and the last routed worker.
type StatusBarModel struct {
	Hints  []KeyHint
	Target string // dispatcher address
	Worker string // last worker a query was routed to
	Extra  string // transient status, e.g. "Asking Clock Agent…"
	width  int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var parts []string
	if m.Target != "" {
		parts = append(parts, m.Target)
	}
	if m.Worker != "" {
		parts = append(parts, theme.SymbolArrowR+" "+m.Worker)
	}
	right := theme.TextMuted.Render(strings.Join(parts, " "+theme.SymbolBullet+" "))
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	bar := left + strings.Repeat(" ", gap) + right
	return theme.StatusBar.Width(m.width).Render(bar)
}
