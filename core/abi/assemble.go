package abi

import (
	"fmt"
	"strings"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
)

// Assemble zips the dispatch table with the per-entry inferences into the
// final interface. infs is parallel to table.Entries; names maps selectors
// to resolved signatures and may be nil. Functions keep the order of their
// dispatch comparisons.
func Assemble(table *compiler.DispatchTable, infs []Inference, names map[[4]byte]string) *DecompiledABI {
	out := &DecompiledABI{Functions: make([]FunctionABI, 0, len(table.Entries))}
	for i, e := range table.Entries {
		var inf Inference
		if i < len(infs) {
			inf = infs[i]
		}
		for _, d := range table.Duplicates {
			if d.Selector == e.Selector {
				inf.Diagnostics = append(inf.Diagnostics, Diagnostic{
					Kind:    DiagDuplicateSelector,
					Offset:  d.CompareAt,
					Message: fmt.Sprintf("second dispatch to %#x ignored", d.Target),
				})
			}
		}
		out.Functions = append(out.Functions, function(e.Selector, inf, names[e.Selector]))
	}
	for _, u := range table.Unrecognized {
		out.Diagnostics = append(out.Diagnostics, Diagnostic{
			Kind:    DiagUnrecognizedDispatch,
			Offset:  u.CompareAt,
			Message: u.Reason,
		})
	}
	return out
}

func function(selector [4]byte, inf Inference, signature string) FunctionABI {
	f := FunctionABI{
		Name:            Placeholder(selector),
		Selector:        selector,
		Inputs:          params(inf.Inputs, "arg"),
		Outputs:         params(inf.Outputs, ""),
		Constant:        inf.Constant,
		Payable:         inf.Payable,
		StateMutability: inf.StateMutability,
		Diagnostics:     inf.Diagnostics,
	}
	if f.StateMutability == "" {
		f.StateMutability = StateMutability(f.Constant, f.Payable, true)
	}
	if name := SignatureName(signature); name != "" {
		f.Name = name
		f.Resolved = true
	}
	return f
}

// SignatureName returns the function name of a text signature such as
// "transfer(address,uint256)".
func SignatureName(signature string) string {
	if i := strings.IndexByte(signature, '('); i >= 0 {
		signature = signature[:i]
	}
	return strings.TrimSpace(signature)
}

// SpecialFrom builds the fallback or receive entry from its inference.
func SpecialFrom(inf Inference) *Special {
	mut := inf.StateMutability
	if mut == MutabilityPure || mut == MutabilityView {
		// The JSON ABI only allows payable or nonpayable here.
		mut = MutabilityNonPayable
	}
	if inf.Payable {
		mut = MutabilityPayable
	}
	return &Special{Payable: inf.Payable, StateMutability: mut}
}

func params(typs []string, prefix string) []Param {
	out := make([]Param, len(typs))
	for i, t := range typs {
		out[i] = Param{Type: t, Position: i, InternalType: t}
		if prefix != "" {
			out[i].Name = fmt.Sprintf("%s%d", prefix, i)
		}
	}
	return out
}
