package abi

import (
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

// Inference is the interface recovered for one function body.
type Inference struct {
	Inputs          []string
	Outputs         []string
	Constant        bool
	Payable         bool
	StateMutability string
	Diagnostics     []Diagnostic

	// Slots holds the merged head-slot evidence the input rules read.
	Slots []Slot
	// decided marks inputs a rule has already typed.
	decided []bool
}

// Slot is the evidence gathered for one 32-byte argument head word.
type Slot struct {
	// Access indexes the trace access that loaded the slot, or -1 when the
	// slot is only implied by a later one.
	Access    int
	Evidence  absint.Evidence
	MaskBits  uint16
	HighBytes uint8
	SignBytes uint8
}

// Set types input i unless an earlier rule already did.
func (inf *Inference) Set(i int, typ string) {
	if i < 0 || i >= len(inf.Inputs) || inf.decided[i] {
		return
	}
	inf.Inputs[i] = typ
	inf.decided[i] = true
}

// Decided reports whether input i has been typed by a rule.
func (inf *Inference) Decided(i int) bool { return inf.decided[i] }

func (inf *Inference) diag(kind DiagKind, offset uint64, msg string) {
	inf.Diagnostics = append(inf.Diagnostics, Diagnostic{Kind: kind, Offset: offset, Message: msg})
}

// Rule is one independent classifier over a trace. Rules run in order and
// each types only what earlier rules left undecided.
type Rule interface {
	Name() string
	Apply(tr *absint.Trace, inf *Inference)
}

// Inferencer runs a rule set.
type Inferencer struct {
	rules []Rule
}

// NewInferencer returns an inferencer over rules, or over DefaultRules when
// none are given.
func NewInferencer(rules ...Rule) *Inferencer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Inferencer{rules: rules}
}

// DefaultRules is the standard classifier set. Dynamic and address evidence
// outrank the narrower integer and bool patterns; untyped slots stay
// uint256.
func DefaultRules() []Rule {
	return []Rule{
		DynamicRule{},
		AddressRule{},
		BoolRule{},
		SignedRule{},
		FixedBytesRule{},
		SmallUintRule{},
		OutputRule{},
		MutabilityRule{},
		DiagnosticsRule{},
	}
}

var defaultInferencer = NewInferencer()

// Infer classifies tr with the default rules.
func Infer(tr *absint.Trace) Inference {
	return defaultInferencer.Infer(tr)
}

// Infer sizes the argument list from the trace and lets every rule refine
// it. Every field has a value even for an empty or truncated trace.
func (in *Inferencer) Infer(tr *absint.Trace) Inference {
	slots := collectSlots(tr)
	inf := Inference{
		Inputs:  make([]string, len(slots)),
		Outputs: []string{},
		Slots:   slots,
		decided: make([]bool, len(slots)),
	}
	for i := range inf.Inputs {
		inf.Inputs[i] = "uint256"
	}
	for _, r := range in.rules {
		r.Apply(tr, &inf)
	}
	if inf.StateMutability == "" {
		inf.StateMutability = StateMutability(inf.Constant, inf.Payable, true)
	}
	return inf
}

// collectSlots derives the argument head from the highest fixed calldata
// offset read past the selector.
func collectSlots(tr *absint.Trace) []Slot {
	var end uint64
	for _, a := range tr.Accesses {
		if a.Opaque || a.Offset < 4 {
			continue
		}
		width := a.Width
		if a.Kind == absint.AccessLoad {
			width = 32
		}
		if e := a.Offset + width; e > end {
			end = e
		}
	}
	if end <= 4 {
		return nil
	}
	slots := make([]Slot, (end-4+31)/32)
	for i := range slots {
		slots[i].Access = -1
	}
	for i, a := range tr.Accesses {
		k, ok := a.HeadSlot()
		if !ok || k >= len(slots) {
			continue
		}
		s := &slots[k]
		if s.Access < 0 {
			s.Access = i
		}
		s.Evidence |= a.Evidence
		s.MaskBits = narrowest16(s.MaskBits, a.MaskBits)
		s.HighBytes = narrowest8(s.HighBytes, a.HighBytes)
		s.SignBytes = narrowest8(s.SignBytes, a.SignBytes)
	}
	return slots
}

func narrowest16(a, b uint16) uint16 {
	if a == 0 || (b != 0 && b < a) {
		return b
	}
	return a
}

func narrowest8(a, b uint8) uint8 {
	if a == 0 || (b != 0 && b < a) {
		return b
	}
	return a
}
