package compiler

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestDecode(t *testing.T) {
	// PUSH1 0x80; PUSH0; CALLVALUE; PUSH2 0xff (truncated)
	instrs := Decode(mustDecodeHex(t, "60805f3461ff"))
	if len(instrs) != 4 {
		t.Fatalf("decoded %d instructions, want 4", len(instrs))
	}
	wantOffsets := []uint64{0, 2, 3, 4}
	wantOps := []ByteCode{PUSH1, PUSH0, CALLVALUE, PUSH2}
	for i, in := range instrs {
		if in.Offset != wantOffsets[i] || in.Op != wantOps[i] {
			t.Fatalf("instr %d = %v, want %v at %d", i, in, wantOps[i], wantOffsets[i])
		}
	}

	if got := instrs[0].Value(); !got.Eq(uint256.NewInt(0x80)) {
		t.Fatalf("PUSH1 value = %v", got)
	}
	if got := instrs[1].Value(); got == nil || !got.IsZero() {
		t.Fatalf("PUSH0 value = %v", got)
	}
	if instrs[2].Value() != nil {
		t.Fatalf("non-push has a value")
	}

	last := instrs[3]
	if !last.Truncated() {
		t.Fatalf("PUSH2 with one byte should be truncated")
	}
	if last.Next() != 6 {
		t.Fatalf("truncated push next = %d, want 6", last.Next())
	}
	// Missing bytes read as zero.
	if got := last.Value(); !got.Eq(uint256.NewInt(0xff00)) {
		t.Fatalf("truncated PUSH2 value = %#x, want 0xff00", got.Uint64())
	}
	if got := instrs[0].String(); got != "00000: PUSH1 0x80" {
		t.Fatalf("String() = %q", got)
	}
	if got := instrs[2].Mnemonic(); got != "CALLVALUE" {
		t.Fatalf("Mnemonic() = %q", got)
	}
}

func TestDecodeEmptyAndPushAtEnd(t *testing.T) {
	if got := Decode(nil); len(got) != 0 {
		t.Fatalf("empty code decoded to %v", got)
	}
	instrs := Decode([]byte{byte(PUSH32)})
	if len(instrs) != 1 || !instrs[0].Truncated() || len(instrs[0].Immediate) != 0 {
		t.Fatalf("bare PUSH32 decoded to %v", instrs)
	}
	if instrs[0].Next() != 1 {
		t.Fatalf("bare PUSH32 next = %d", instrs[0].Next())
	}
}

func TestOpcodeClassification(t *testing.T) {
	for _, tc := range []struct {
		op         ByteCode
		halt, ends bool
	}{
		{STOP, true, true},
		{RETURN, true, true},
		{REVERT, true, true},
		{INVALID, true, true},
		{SELFDESTRUCT, true, true},
		{JUMP, false, true},
		{JUMPI, false, true},
		{ADD, false, false},
		{JUMPDEST, false, false},
		{ByteCode(0x0c), true, true}, // undefined
	} {
		if tc.op.IsHalt() != tc.halt || tc.op.EndsBlock() != tc.ends {
			t.Fatalf("%#x: halt=%v ends=%v", byte(tc.op), tc.op.IsHalt(), tc.op.EndsBlock())
		}
	}
	if pops, pushes := CALL.StackEffect(); pops != 7 || pushes != 1 {
		t.Fatalf("CALL stack effect = %d/%d", pops, pushes)
	}
	if PUSH0.PushSize() != 0 || PUSH32.PushSize() != 32 || !PUSH0.IsPush() {
		t.Fatalf("push sizes wrong")
	}
	if !DUP16.IsDup() || !SWAP1.IsSwap() || !LOG4.IsLog() {
		t.Fatalf("dup/swap/log ranges wrong")
	}
}
