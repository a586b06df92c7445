// Package abi holds the recovered contract interface: the per-function
// records, the rules that infer them from execution traces and the
// assembler that orders them.
package abi

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UnresolvedPrefix starts the placeholder name of a function whose selector
// was not resolved.
const UnresolvedPrefix = "Unresolved_"

// Placeholder returns the default name for a selector.
func Placeholder(selector [4]byte) string {
	return fmt.Sprintf("%s%x", UnresolvedPrefix, selector[:])
}

// State mutability values of the JSON ABI.
const (
	MutabilityPure       = "pure"
	MutabilityView       = "view"
	MutabilityNonPayable = "nonpayable"
	MutabilityPayable    = "payable"
)

// DiagKind classifies a non-fatal finding.
type DiagKind string

const (
	DiagUnresolvedJump          DiagKind = "UnresolvedJump"
	DiagTruncatedExploration    DiagKind = "TruncatedExploration"
	DiagUnrecognizedDispatch    DiagKind = "UnrecognizedDispatchEntry"
	DiagAmbiguousOutputShape    DiagKind = "AmbiguousOutputShape"
	DiagDuplicateSelector       DiagKind = "DuplicateSelector"
	DiagResolverTimeout         DiagKind = "ResolverTimeout"
	DiagResolverUnavailable     DiagKind = "ResolverUnavailable"
	DiagUnreachableFunctionBody DiagKind = "UnreachableFunctionBody"
)

// Diagnostic is a non-fatal finding attached to a function or the whole ABI.
type Diagnostic struct {
	Kind    DiagKind `json:"kind" msgpack:"kind"`
	Offset  uint64   `json:"offset,omitempty" msgpack:"offset,omitempty"`
	Message string   `json:"message,omitempty" msgpack:"message,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Message == "" {
		return fmt.Sprintf("%s@%#x", d.Kind, d.Offset)
	}
	return fmt.Sprintf("%s@%#x: %s", d.Kind, d.Offset, d.Message)
}

// Param is one input or output of a function, event or error.
type Param struct {
	Name         string `json:"name" msgpack:"name"`
	Type         string `json:"type" msgpack:"type"`
	Position     int    `json:"position" msgpack:"position"`
	InternalType string `json:"internalType,omitempty" msgpack:"internal_type,omitempty"`
	Indexed      bool   `json:"indexed,omitempty" msgpack:"indexed,omitempty"`
}

// FunctionABI is one externally callable function.
type FunctionABI struct {
	Name            string       `msgpack:"name"`
	Selector        [4]byte      `msgpack:"selector"`
	Inputs          []Param      `msgpack:"inputs"`
	Outputs         []Param      `msgpack:"outputs"`
	Constant        bool         `msgpack:"constant"`
	Payable         bool         `msgpack:"payable"`
	StateMutability string       `msgpack:"state_mutability"`
	Resolved        bool         `msgpack:"resolved"`
	Diagnostics     []Diagnostic `msgpack:"diagnostics,omitempty"`
}

// SelectorHex renders the selector as 0x-prefixed hex.
func (f *FunctionABI) SelectorHex() string {
	return hexutil.Encode(f.Selector[:])
}

// InputTypes returns the input type strings in order.
func (f *FunctionABI) InputTypes() []string { return types(f.Inputs) }

// OutputTypes returns the output type strings in order.
func (f *FunctionABI) OutputTypes() []string { return types(f.Outputs) }

// Signature renders name(type,...).
func (f *FunctionABI) Signature() string {
	return f.Name + "(" + strings.Join(f.InputTypes(), ",") + ")"
}

func types(ps []Param) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Type
	}
	return out
}

// Event is a log declaration imported from a JSON ABI.
type Event struct {
	Name      string   `msgpack:"name"`
	Inputs    []Param  `msgpack:"inputs"`
	Anonymous bool     `msgpack:"anonymous"`
	Topic     [32]byte `msgpack:"topic"`
}

// Signature renders name(type,...).
func (e *Event) Signature() string {
	return e.Name + "(" + strings.Join(types(e.Inputs), ",") + ")"
}

// Error is a custom error declaration imported from a JSON ABI.
type Error struct {
	Name     string  `msgpack:"name"`
	Inputs   []Param `msgpack:"inputs"`
	Selector [4]byte `msgpack:"selector"`
}

// Signature renders name(type,...).
func (e *Error) Signature() string {
	return e.Name + "(" + strings.Join(types(e.Inputs), ",") + ")"
}

// Special describes the fallback, receive or constructor entry.
type Special struct {
	Inputs          []Param `msgpack:"inputs,omitempty"`
	Payable         bool    `msgpack:"payable"`
	StateMutability string  `msgpack:"state_mutability"`
}

// DecompiledABI is the recovered interface of one contract.
type DecompiledABI struct {
	// Functions are ordered by the offset of their dispatch comparison.
	Functions   []FunctionABI `msgpack:"functions"`
	Events      []Event       `msgpack:"events,omitempty"`
	Errors      []Error       `msgpack:"errors,omitempty"`
	Constructor *Special      `msgpack:"constructor,omitempty"`
	Fallback    *Special      `msgpack:"fallback,omitempty"`
	Receive     *Special      `msgpack:"receive,omitempty"`
	// Compiler is the version found in the metadata trailer, if any.
	Compiler    string       `msgpack:"compiler,omitempty"`
	Diagnostics []Diagnostic `msgpack:"diagnostics,omitempty"`
}

// Degraded reports whether any part of d was produced under an exhausted
// exploration bound or a failed name lookup. Such results depend on timing
// and limits rather than on the bytecode alone.
func (d *DecompiledABI) Degraded() bool {
	if hasDegraded(d.Diagnostics) {
		return true
	}
	for i := range d.Functions {
		if hasDegraded(d.Functions[i].Diagnostics) {
			return true
		}
	}
	return false
}

func hasDegraded(ds []Diagnostic) bool {
	for _, diag := range ds {
		switch diag.Kind {
		case DiagTruncatedExploration, DiagResolverTimeout, DiagResolverUnavailable:
			return true
		}
	}
	return false
}

// Lookup finds a function by name or by 0x-prefixed selector hex.
func (d *DecompiledABI) Lookup(key string) (*FunctionABI, bool) {
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		b, err := hexutil.Decode(key)
		if err == nil && len(b) == 4 {
			for i := range d.Functions {
				if string(d.Functions[i].Selector[:]) == string(b) {
					return &d.Functions[i], true
				}
			}
			return nil, false
		}
	}
	for i := range d.Functions {
		if d.Functions[i].Name == key {
			return &d.Functions[i], true
		}
	}
	return nil, false
}

// Selectors returns the function selectors in order.
func (d *DecompiledABI) Selectors() [][4]byte {
	out := make([][4]byte, len(d.Functions))
	for i, f := range d.Functions {
		out[i] = f.Selector
	}
	return out
}

// StateMutability derives the JSON ABI mutability from the flags and whether
// the function reads chain state or context.
func StateMutability(constant, payable, readsState bool) string {
	switch {
	case payable:
		return MutabilityPayable
	case constant && !readsState:
		return MutabilityPure
	case constant:
		return MutabilityView
	default:
		return MutabilityNonPayable
	}
}
