package compiler

import (
	"strings"
	"testing"
)

func TestToDot(t *testing.T) {
	cfg := mustParseCFG(t, "6001600a5760116010565b60226010565b5000")
	out := cfg.ToDot()
	if !strings.HasPrefix(out, "digraph") {
		t.Fatalf("not a directed graph:\n%s", out)
	}
	for _, want := range []string{"PC: 0..4", "PC: 5..9", "PC: 10..15", "PC: 16..18", "JUMPI", "PUSH1 0x0a", "dotted"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dot output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "unresolved") {
		t.Fatalf("static graph rendered an unresolved jump:\n%s", out)
	}
}

func TestGraphMarksUnknownAndHighlights(t *testing.T) {
	cfg := mustParseCFG(t, "600035560000000000005b00")
	out := cfg.Graph(map[uint64]string{0: "entry"}).String()
	for _, want := range []string{"(unresolved jump)", "unresolved jump target", "diamond", "dashed", "[entry]", "bold"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dot output missing %q:\n%s", want, out)
		}
	}
	// Unreachable blocks are not drawn.
	if strings.Contains(out, "PC: 10") {
		t.Fatalf("unreachable block rendered:\n%s", out)
	}
}
