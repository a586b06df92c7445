package compiler

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestConstantFold_SHLJumpTarget(t *testing.T) {
	// PUSH1 2; PUSH1 3; SHL; JUMP => jumps to 2<<3 = 0x10.
	code := "600260031b56" + strings.Repeat("00", 10) + "5b00"
	cfg := mustParseCFG(t, code)

	entry := mustBlockAt(t, cfg, 0)
	succs := entry.Successors()
	if len(succs) != 1 || succs[0] != (Edge{Kind: EdgeJump, Target: 0x10}) {
		t.Fatalf("entry successors = %v, want jump to 0x10", succs)
	}
	mustBlockAt(t, cfg, 0x10)
	if len(cfg.UnresolvedJumps()) != 0 {
		t.Fatalf("unexpected unresolved jumps %v", cfg.UnresolvedJumps())
	}
}

func TestConstantFold_ArithmeticJumpTarget(t *testing.T) {
	// PUSH1 0x20; PUSH1 0x28; SUB; JUMP => 0x28-0x20 = 8.
	cfg := mustParseCFG(t, "602060280356" + "0000" + "5b00")
	succs := mustBlockAt(t, cfg, 0).Successors()
	if len(succs) != 1 || succs[0].Target != 8 || succs[0].Kind != EdgeJump {
		t.Fatalf("entry successors = %v, want jump to 8", succs)
	}
}

func TestFoldBinary(t *testing.T) {
	u := uint256.NewInt
	ones := new(uint256.Int).SetAllOne()
	for _, tc := range []struct {
		op   ByteCode
		a, b *uint256.Int
		want *uint256.Int
	}{
		{ADD, u(2), u(3), u(5)},
		{ADD, ones, u(1), u(0)},
		{SUB, u(10), u(3), u(7)},
		{SUB, u(0), u(1), ones},
		{MUL, u(6), u(7), u(42)},
		{DIV, u(7), u(2), u(3)},
		{DIV, u(7), u(0), u(0)},
		{MOD, u(7), u(0), u(0)},
		{EXP, u(2), u(10), u(1024)},
		{LT, u(1), u(2), u(1)},
		{GT, u(1), u(2), u(0)},
		{SLT, ones, u(0), u(1)},
		{SGT, ones, u(0), u(0)},
		{EQ, u(9), u(9), u(1)},
		{AND, u(0xff), u(0x1234), u(0x34)},
		{OR, u(0xf0), u(0x0f), u(0xff)},
		{XOR, u(0xff), u(0x0f), u(0xf0)},
		{BYTE, u(31), u(0xabcd), u(0xcd)},
		{BYTE, u(32), u(0xabcd), u(0)},
		{SHL, u(4), u(1), u(16)},
		{SHL, u(256), u(1), u(0)},
		{SHR, u(224), new(uint256.Int).Lsh(u(0xa9059cbb), 224), u(0xa9059cbb)},
		{SAR, u(300), ones, ones},
		{SIGNEXTEND, u(0), u(0xff), ones},
	} {
		got, ok := FoldBinary(tc.op, tc.a, tc.b)
		if !ok {
			t.Fatalf("%v: not folded", tc.op)
		}
		if !got.Eq(tc.want) {
			t.Fatalf("%v(%v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}

	if _, ok := FoldBinary(ADD, nil, u(1)); ok {
		t.Fatalf("folded an unknown operand")
	}
	if _, ok := FoldBinary(SSTORE, u(1), u(1)); ok {
		t.Fatalf("folded a non-arithmetic opcode")
	}
}

func TestFoldUnaryAndTernary(t *testing.T) {
	if got, _ := FoldUnary(ISZERO, uint256.NewInt(0)); !got.Eq(uint256.NewInt(1)) {
		t.Fatalf("ISZERO(0) = %v", got)
	}
	if got, _ := FoldUnary(NOT, uint256.NewInt(0)); !got.Eq(new(uint256.Int).SetAllOne()) {
		t.Fatalf("NOT(0) = %v", got)
	}
	if got, _ := FoldTernary(ADDMOD, uint256.NewInt(5), uint256.NewInt(6), uint256.NewInt(7)); !got.Eq(uint256.NewInt(4)) {
		t.Fatalf("ADDMOD(5, 6, 7) = %v", got)
	}
	if got, _ := FoldTernary(MULMOD, uint256.NewInt(5), uint256.NewInt(6), uint256.NewInt(0)); !got.IsZero() {
		t.Fatalf("MULMOD by zero = %v", got)
	}
	if !IsComparison(EQ) || IsComparison(ADD) {
		t.Fatalf("IsComparison misclassified")
	}
}
