package abi

import (
	"fmt"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

// DynamicRule types a slot whose value was used as a calldata offset. A
// bulk copy from the pointed region means bytes; indexed word reads past the
// length word mean an array.
type DynamicRule struct{}

func (DynamicRule) Name() string { return "dynamic" }

func (DynamicRule) Apply(tr *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if s.Access < 0 || s.Evidence&absint.EvPointer == 0 {
			continue
		}
		inf.Set(i, dynamicType(tr, s.Access, 0))
	}
}

// maxDynamicDepth bounds nested array recovery.
const maxDynamicDepth = 3

func dynamicType(tr *absint.Trace, head int, depth int) string {
	var (
		copied   bool
		elements []int
	)
	for _, c := range tr.Children(head) {
		a := tr.Accesses[c]
		switch {
		case a.Kind == absint.AccessCopy:
			copied = true
		case !a.DeltaKnown || a.Delta > 4:
			elements = append(elements, c)
		}
	}
	if copied || len(elements) == 0 {
		return "bytes"
	}
	var ev absint.Evidence
	for _, e := range elements {
		ev |= tr.Accesses[e].Evidence
	}
	switch {
	case ev&absint.EvPointer != 0 && depth < maxDynamicDepth:
		// Elements are offsets themselves: pick the first nested shape.
		for _, e := range elements {
			if tr.Accesses[e].Evidence&absint.EvPointer != 0 {
				return dynamicType(tr, e, depth+1) + "[]"
			}
		}
	case ev&(absint.EvAddressMask|absint.EvCallTarget) != 0:
		return "address[]"
	case isBoolEvidence(ev):
		return "bool[]"
	}
	return "uint256[]"
}

// AddressRule types slots masked to 160 bits or used as a call target.
type AddressRule struct{}

func (AddressRule) Name() string { return "address" }

func (AddressRule) Apply(_ *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if s.Evidence&(absint.EvAddressMask|absint.EvCallTarget) != 0 {
			inf.Set(i, "address")
		}
	}
}

// boolDisqualifiers is usage a bool argument never shows.
const boolDisqualifiers = absint.EvArith | absint.EvCompare | absint.EvSmallMask | absint.EvHighMask |
	absint.EvSignExtend | absint.EvAddressMask | absint.EvPointer | absint.EvCallTarget

func isBoolEvidence(ev absint.Evidence) bool {
	if ev&boolDisqualifiers != 0 {
		return false
	}
	if ev&absint.EvBoolCheck != 0 {
		return true
	}
	// Compared against 0/1 and nothing else.
	return ev&absint.EvZeroOneCompare != 0 && ev&^(absint.EvZeroOneCompare|absint.EvReturned) == 0
}

// BoolRule types slots normalized with a double ISZERO or only compared
// against 0 and 1.
type BoolRule struct{}

func (BoolRule) Name() string { return "bool" }

func (BoolRule) Apply(_ *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if isBoolEvidence(s.Evidence) {
			inf.Set(i, "bool")
		}
	}
}

// SignedRule types sign-extended slots as intN.
type SignedRule struct{}

func (SignedRule) Name() string { return "signed" }

func (SignedRule) Apply(_ *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if s.Evidence&absint.EvSignExtend != 0 && s.SignBytes > 0 && s.SignBytes < 32 {
			inf.Set(i, fmt.Sprintf("int%d", 8*int(s.SignBytes)))
		}
	}
}

// FixedBytesRule types slots masked to their leading bytes as bytesN.
type FixedBytesRule struct{}

func (FixedBytesRule) Name() string { return "fixed-bytes" }

func (FixedBytesRule) Apply(_ *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if s.Evidence&absint.EvHighMask != 0 && s.HighBytes > 0 && s.HighBytes < 32 {
			inf.Set(i, fmt.Sprintf("bytes%d", s.HighBytes))
		}
	}
}

// SmallUintRule types slots masked to fewer low bits as uintN.
type SmallUintRule struct{}

func (SmallUintRule) Name() string { return "small-uint" }

func (SmallUintRule) Apply(_ *absint.Trace, inf *Inference) {
	for i, s := range inf.Slots {
		if s.Evidence&absint.EvSmallMask != 0 && s.MaskBits > 0 && s.MaskBits < 256 {
			inf.Set(i, fmt.Sprintf("uint%d", s.MaskBits))
		}
	}
}

// OutputRule derives return types from the memory returned on successful
// exits. Exits that disagree on the shape are settled by majority, first
// seen on ties.
type OutputRule struct{}

func (OutputRule) Name() string { return "output" }

func (OutputRule) Apply(tr *absint.Trace, inf *Inference) {
	rets := tr.Returns()
	if len(rets) == 0 {
		return
	}
	counts := make(map[string]int)
	var order []string
	first := make(map[string]absint.ReturnShape)
	for _, e := range rets {
		k := e.Shape.Key()
		if counts[k] == 0 {
			order = append(order, k)
			first[k] = e.Shape
		}
		counts[k]++
	}
	best := order[0]
	for _, k := range order[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	if len(order) > 1 {
		inf.diag(DiagAmbiguousOutputShape, rets[0].At,
			fmt.Sprintf("%d return shapes, chose %s", len(order), best))
	}
	inf.Outputs = outputTypes(first[best])
}

func outputTypes(shape absint.ReturnShape) []string {
	if !shape.Known {
		return []string{"bytes"}
	}
	if shape.Size == 0 {
		return []string{}
	}
	if shape.Size%32 != 0 {
		return []string{"bytes"}
	}
	if typ, ok := encodedDynamic(shape); ok {
		return []string{typ}
	}
	out := make([]string, len(shape.Words))
	for i, w := range shape.Words {
		switch {
		case w.Has(absint.FlagBool):
			out[i] = "bool"
		case w.Has(absint.FlagAddress):
			out[i] = "address"
		case w.Bits > 0 && w.Bits < 256:
			out[i] = fmt.Sprintf("uint%d", w.Bits)
		default:
			out[i] = "uint256"
		}
	}
	return out
}

// encodedDynamic recognizes a fully known abi-encoded bytes or string
// return: offset 0x20, a length word, then the padded payload.
func encodedDynamic(shape absint.ReturnShape) (string, bool) {
	w := shape.Words
	if len(w) < 2 {
		return "", false
	}
	off, ok1 := w[0].Uint64()
	n, ok2 := w[1].Uint64()
	if !ok1 || !ok2 || off != 0x20 || shape.Size != 64+(n+31)/32*32 {
		return "", false
	}
	payload := make([]byte, 0, n)
	for _, word := range w[2:] {
		if !word.IsConcrete() {
			return "bytes", true
		}
		b := word.U.Bytes32()
		payload = append(payload, b[:]...)
	}
	if uint64(len(payload)) < n {
		return "bytes", true
	}
	for _, c := range payload[:n] {
		if c < 0x20 || c > 0x7e {
			return "bytes", true
		}
	}
	return "string", true
}

// MutabilityRule sets constant, payable and the state mutability. A
// function is constant unless it writes storage or makes a state-changing
// call. A truncated trace is not constant when a state-changing opcode is
// statically reachable from the entry. It is payable when some successful exit was reached without
// requiring a zero call value.
type MutabilityRule struct{}

func (MutabilityRule) Name() string { return "mutability" }

func (MutabilityRule) Apply(tr *absint.Trace, inf *Inference) {
	inf.Constant = !tr.StorageWritten && !tr.MutatingCall
	if tr.Truncated && tr.MayWriteState {
		inf.Constant = false
	}
	succ := tr.SuccessfulExits()
	if len(succ) == 0 {
		inf.Payable = !tr.GuardSeen
	} else {
		for _, e := range succ {
			if !e.Guarded {
				inf.Payable = true
				break
			}
		}
	}
	inf.StateMutability = StateMutability(inf.Constant, inf.Payable, tr.ReadsEnvironment || tr.StorageRead)
}

// DiagnosticsRule reports exploration limits and unresolved jumps.
type DiagnosticsRule struct{}

func (DiagnosticsRule) Name() string { return "diagnostics" }

func (DiagnosticsRule) Apply(tr *absint.Trace, inf *Inference) {
	if tr.Truncated {
		inf.diag(DiagTruncatedExploration, 0,
			fmt.Sprintf("stopped after %d steps over %d paths", tr.Steps, tr.Paths))
	}
	for _, pc := range tr.UnresolvedJumps {
		inf.diag(DiagUnresolvedJump, pc, "")
	}
}
