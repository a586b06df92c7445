package absint

import (
	"fmt"
	"strings"
)

// Evidence records how a calldata word was used.
type Evidence uint32

const (
	// EvAddressMask: masked with 2^160-1.
	EvAddressMask Evidence = 1 << iota
	// EvCallTarget: used as the address of a CALL-family opcode.
	EvCallTarget
	// EvBoolCheck: normalized with ISZERO(ISZERO(x)) or validated against it.
	EvBoolCheck
	// EvZeroOneCompare: compared for equality with 0 or 1.
	EvZeroOneCompare
	// EvArith: used as an arithmetic operand.
	EvArith
	// EvCompare: used in an ordered comparison.
	EvCompare
	// EvPointer: used as a base for another calldata read.
	EvPointer
	// EvStored: written to storage.
	EvStored
	// EvHashed: hashed, typically as a mapping key.
	EvHashed
	// EvSmallMask: masked to fewer than 32 low bytes; see Access.MaskBits.
	EvSmallMask
	// EvHighMask: masked to leading bytes; see Access.HighBytes.
	EvHighMask
	// EvSignExtend: sign-extended; see Access.SignBytes.
	EvSignExtend
	// EvReturned: copied into return data.
	EvReturned
	// EvLength: read as the length word of a dynamic region.
	EvLength
)

var evidenceNames = []string{
	"address-mask", "call-target", "bool-check", "zero-one-compare", "arith", "compare",
	"pointer", "stored", "hashed", "small-mask", "high-mask", "sign-extend", "returned", "length",
}

func (e Evidence) String() string {
	var parts []string
	for i, name := range evidenceNames {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// AccessKind distinguishes word loads from bulk copies.
type AccessKind uint8

const (
	AccessLoad AccessKind = iota
	AccessCopy
)

// Access is one distinct calldata read.
type Access struct {
	Kind AccessKind
	// Offset is the concrete calldata offset; meaningless when Opaque.
	Offset uint64
	// Width is 32 for loads and the copied length for copies (0 if unknown).
	Width  uint64
	Opaque bool
	// Base is the access whose value was used as the pointer for this read,
	// or -1.
	Base int
	// Delta is the constant added to the base pointer when DeltaKnown.
	Delta      uint64
	DeltaKnown bool

	Evidence  Evidence
	MaskBits  uint16
	HighBytes uint8
	SignBytes uint8
	// At is the offset of the first instruction that performed the read.
	At uint64
}

// HeadSlot returns the argument slot index of a direct load at 4+32k.
func (a Access) HeadSlot() (int, bool) {
	if a.Opaque || a.Kind != AccessLoad || a.Offset < 4 || (a.Offset-4)%32 != 0 {
		return 0, false
	}
	return int((a.Offset - 4) / 32), true
}

type accessKey struct {
	kind       AccessKind
	opaque     bool
	offset     uint64
	base       int
	delta      uint64
	deltaKnown bool
}

// ExitKind classifies how a path ended.
type ExitKind uint8

const (
	ExitStop ExitKind = iota
	ExitReturn
	ExitRevert
	ExitInvalid
	ExitSelfDestruct
)

// Successful reports whether the exit commits state.
func (k ExitKind) Successful() bool {
	return k == ExitStop || k == ExitReturn || k == ExitSelfDestruct
}

// Exit describes one completed path.
type Exit struct {
	Kind ExitKind
	At   uint64
	// Guarded is set when the path required CALLVALUE to be zero.
	Guarded bool
	// Shape is the returned memory, for ExitReturn.
	Shape ReturnShape
}

// ReturnShape is the memory range a RETURN copied out.
type ReturnShape struct {
	// Known is set when offset and size folded to constants.
	Known bool
	Size  uint64
	Words []Value
	// Head is the first returned word when the offset was known but the size
	// was not.
	Head Value
}

// Key identifies the shape for agreement checks across exits.
func (s ReturnShape) Key() string {
	if !s.Known {
		return "dynamic"
	}
	return fmt.Sprintf("static:%d", s.Size)
}

// Trace is the evidence gathered for one function.
type Trace struct {
	Accesses []Access

	StorageWritten bool
	StorageRead    bool
	// ReadsEnvironment covers state and context reads other than CALLVALUE
	// and calldata.
	ReadsEnvironment bool
	// ValueTransfer is set when a CALL-family opcode may forward value.
	ValueTransfer bool
	// MutatingCall is set for opcodes that change state through another frame
	// or account: CREATE, CREATE2, DELEGATECALL, CALLCODE, SELFDESTRUCT,
	// TSTORE.
	MutatingCall bool
	ExternalCall bool
	EmitsLog     bool
	// GuardSeen is set when a branch on CALLVALUE was explored.
	GuardSeen bool

	Exits []Exit

	Steps           int
	Paths           int
	Truncated       bool
	// MayWriteState is only computed for truncated traces: a state-changing
	// opcode is statically reachable from the entry, explored or not.
	MayWriteState   bool
	LoopCutoffs     int
	UnresolvedJumps []uint64
	// ViaPrelude is set when the body was reached by running the dispatcher
	// with the function's selector. It is false when no prelude path led to
	// the entry and the body was analysed from an empty stack.
	ViaPrelude bool
}

// SuccessfulExits returns the exits that commit state.
func (t *Trace) SuccessfulExits() []Exit {
	var out []Exit
	for _, e := range t.Exits {
		if e.Kind.Successful() {
			out = append(out, e)
		}
	}
	return out
}

// Returns returns the successful RETURN exits.
func (t *Trace) Returns() []Exit {
	var out []Exit
	for _, e := range t.Exits {
		if e.Kind == ExitReturn {
			out = append(out, e)
		}
	}
	return out
}

// Root follows Base links to the head access a dynamic read hangs off.
func (t *Trace) Root(i int) int {
	for n := 0; n < len(t.Accesses) && t.Accesses[i].Base >= 0; n++ {
		i = t.Accesses[i].Base
	}
	return i
}

// Children returns the accesses whose Base is i.
func (t *Trace) Children(i int) []int {
	var out []int
	for j, a := range t.Accesses {
		if a.Base == i {
			out = append(out, j)
		}
	}
	return out
}

func (t *Trace) addUnresolvedJump(pc uint64) {
	for _, p := range t.UnresolvedJumps {
		if p == pc {
			return
		}
	}
	t.UnresolvedJumps = append(t.UnresolvedJumps, pc)
}
