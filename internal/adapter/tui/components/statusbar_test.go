package components

import (
	"strings"
	"testing"

	"switchboard/internal/adapter/tui/theme"
)

func TestStatusBarView(t *testing.T) {
	sb := NewStatusBar()
	sb.SetWidth(80)
	sb.Hints = []KeyHint{{Key: "Enter", Desc: "Send"}}
	sb.Target = "localhost:8080"
	sb.Worker = "clock"
	sb.Extra = "Asking Clock…"

	out := sb.View()
	for _, want := range []string{"Enter", "Send", "localhost:8080", "clock", "Asking Clock…"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q:\n%s", want, out)
		}
	}
}

func TestStatusBarOmitsEmptyParts(t *testing.T) {
	sb := NewStatusBar()
	sb.SetWidth(60)
	sb.Target = "localhost:8080"
	if strings.Contains(sb.View(), theme.SymbolArrowR) {
		t.Error("worker arrow should be omitted when no worker is set")
	}
}
