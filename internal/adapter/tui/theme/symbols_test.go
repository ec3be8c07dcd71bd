package theme

import "testing"

func TestInitSymbolsASCIIOverride(t *testing.T) {
	t.Setenv("SWITCHBOARD_ASCII_SYMBOLS", "1")
	InitSymbols()
	t.Cleanup(func() {
		t.Setenv("SWITCHBOARD_ASCII_SYMBOLS", "")
		InitSymbols()
	})

	if SymbolSuccess != "[OK]" || SymbolArrowR != "->" {
		t.Errorf("got %q %q, want ASCII symbols", SymbolSuccess, SymbolArrowR)
	}
}

func TestInitSymbolsUnicodeDefault(t *testing.T) {
	t.Setenv("SWITCHBOARD_ASCII_SYMBOLS", "")
	t.Setenv("LANG", "en_US.UTF-8")
	InitSymbols()

	if SymbolSuccess != "✓" {
		t.Errorf("SymbolSuccess = %q, want ✓", SymbolSuccess)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ v, lo, hi, want int }{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
