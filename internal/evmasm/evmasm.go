// Package evmasm is a small label-aware EVM assembler for building test
// bytecode.
package evmasm

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

type fixup struct {
	at    int
	label string
}

// Program accumulates bytecode. Label references are emitted as PUSH2 and
// patched when the program is finalized.
type Program struct {
	code   []byte
	labels map[string]int
	fixups []fixup
}

// New returns an empty program.
func New() *Program {
	return &Program{labels: make(map[string]int)}
}

// Op appends opcodes without immediates.
func (p *Program) Op(ops ...vm.OpCode) *Program {
	for _, op := range ops {
		p.code = append(p.code, byte(op))
	}
	return p
}

// Push appends the shortest PUSHn for v. Zero is pushed as PUSH1 0 so the
// code stays valid before Shanghai.
func (p *Program) Push(v uint64) *Program {
	var buf []byte
	for x := v; x > 0; x >>= 8 {
		buf = append([]byte{byte(x)}, buf...)
	}
	if len(buf) == 0 {
		buf = []byte{0}
	}
	return p.PushBytes(buf)
}

// PushBytes appends PUSHn with b as immediate.
func (p *Program) PushBytes(b []byte) *Program {
	if len(b) == 0 || len(b) > 32 {
		panic(fmt.Sprintf("evmasm: push of %d bytes", len(b)))
	}
	p.code = append(p.code, byte(vm.PUSH1)+byte(len(b)-1))
	p.code = append(p.code, b...)
	return p
}

// PushHex appends a push of the hex-encoded immediate.
func (p *Program) PushHex(s string) *Program {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return p.PushBytes(b)
}

// PushLabel appends a PUSH2 of the label's offset.
func (p *Program) PushLabel(name string) *Program {
	p.code = append(p.code, byte(vm.PUSH2))
	p.fixups = append(p.fixups, fixup{at: len(p.code), label: name})
	p.code = append(p.code, 0, 0)
	return p
}

// Label marks the current offset and emits a JUMPDEST there.
func (p *Program) Label(name string) *Program {
	if _, dup := p.labels[name]; dup {
		panic("evmasm: duplicate label " + name)
	}
	p.labels[name] = len(p.code)
	p.code = append(p.code, byte(vm.JUMPDEST))
	return p
}

// Jump appends an unconditional jump to label.
func (p *Program) Jump(label string) *Program {
	return p.PushLabel(label).Op(vm.JUMP)
}

// JumpI appends a conditional jump to label; the condition must already be
// on the stack.
func (p *Program) JumpI(label string) *Program {
	return p.PushLabel(label).Op(vm.JUMPI)
}

// Raw appends bytes verbatim.
func (p *Program) Raw(b ...byte) *Program {
	p.code = append(p.code, b...)
	return p
}

// Pos is the current code length.
func (p *Program) Pos() int { return len(p.code) }

// Offset returns the JUMPDEST offset of a defined label.
func (p *Program) Offset(name string) uint64 {
	at, ok := p.labels[name]
	if !ok {
		panic("evmasm: undefined label " + name)
	}
	return uint64(at)
}

// Bytes resolves label references and returns the code.
func (p *Program) Bytes() []byte {
	out := append([]byte(nil), p.code...)
	for _, f := range p.fixups {
		at, ok := p.labels[f.label]
		if !ok {
			panic("evmasm: undefined label " + f.label)
		}
		out[f.at], out[f.at+1] = byte(at>>8), byte(at)
	}
	return out
}

// Hex returns the resolved code as 0x-prefixed hex.
func (p *Program) Hex() string {
	return "0x" + hex.EncodeToString(p.Bytes())
}
