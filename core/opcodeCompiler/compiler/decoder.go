package compiler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Instruction is one decoded opcode together with its push immediate.
type Instruction struct {
	Offset    uint64
	Op        ByteCode
	Immediate []byte
}

// Next is the offset of the following instruction. For a push truncated by the
// end of code this is the code length.
func (in Instruction) Next() uint64 {
	return in.Offset + 1 + uint64(len(in.Immediate))
}

// Mnemonic returns the opcode name.
func (in Instruction) Mnemonic() string {
	return in.Op.String()
}

// Truncated reports whether the push immediate ran past the end of code.
func (in Instruction) Truncated() bool {
	return len(in.Immediate) < in.Op.PushSize()
}

// Value returns the pushed word. Missing trailing bytes of a truncated push
// read as zero, matching the EVM's code padding.
func (in Instruction) Value() *uint256.Int {
	if !in.Op.IsPush() {
		return nil
	}
	if in.Truncated() {
		return new(uint256.Int).SetBytes(common.RightPadBytes(in.Immediate, in.Op.PushSize()))
	}
	return new(uint256.Int).SetBytes(in.Immediate)
}

func (in Instruction) String() string {
	if len(in.Immediate) > 0 {
		return fmt.Sprintf("%05x: %s 0x%x", in.Offset, in.Mnemonic(), in.Immediate)
	}
	return fmt.Sprintf("%05x: %s", in.Offset, in.Mnemonic())
}

// Decode disassembles code in a single linear pass. It never fails: a push
// whose immediate runs past the end of code keeps the bytes that are present.
func Decode(code []byte) []Instruction {
	out := make([]Instruction, 0, len(code)/2+1)
	pc := 0
	for pc < len(code) {
		op := ByteCode(code[pc])
		in := Instruction{Offset: uint64(pc), Op: op}
		if size := op.PushSize(); size > 0 {
			end := pc + 1 + size
			if end > len(code) {
				end = len(code)
			}
			in.Immediate = code[pc+1 : end]
		}
		out = append(out, in)
		pc = int(in.Next())
	}
	return out
}
