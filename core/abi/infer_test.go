package abi_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

func load(offset uint64, ev absint.Evidence) absint.Access {
	return absint.Access{Kind: absint.AccessLoad, Offset: offset, Width: 32, Base: -1, Evidence: ev}
}

func child(base int, delta uint64, kind absint.AccessKind, ev absint.Evidence) absint.Access {
	return absint.Access{Kind: kind, Opaque: true, Base: base, Delta: delta, DeltaKnown: true, Evidence: ev}
}

func returning(words ...absint.Value) absint.Exit {
	return absint.Exit{
		Kind:  absint.ExitReturn,
		Shape: absint.ReturnShape{Known: true, Size: uint64(32 * len(words)), Words: words},
	}
}

func TestInferInputTypes(t *testing.T) {
	a := load(4, absint.EvAddressMask)
	small := load(0x24, absint.EvSmallMask)
	small.MaskBits = 8
	signed := load(0x44, absint.EvSignExtend)
	signed.SignBytes = 16
	fixed := load(0x64, absint.EvHighMask)
	fixed.HighBytes = 4
	flag := load(0x84, absint.EvBoolCheck)
	plain := load(0xa4, absint.EvArith|absint.EvCompare)

	inf := abi.Infer(&absint.Trace{Accesses: []absint.Access{a, small, signed, fixed, flag, plain}})
	require.Equal(t, []string{"address", "uint8", "int128", "bytes4", "bool", "uint256"}, inf.Inputs)
}

func TestInferArgumentCountFromHighestRead(t *testing.T) {
	// Only the third slot is read; the first two are implied.
	inf := abi.Infer(&absint.Trace{Accesses: []absint.Access{load(0x44, 0)}})
	require.Equal(t, []string{"uint256", "uint256", "uint256"}, inf.Inputs)

	inf = abi.Infer(&absint.Trace{})
	require.Empty(t, inf.Inputs)
	require.NotNil(t, inf.Outputs)
}

func TestInferAddressOutranksBool(t *testing.T) {
	inf := abi.Infer(&absint.Trace{Accesses: []absint.Access{
		load(4, absint.EvAddressMask|absint.EvBoolCheck),
		load(0x24, absint.EvBoolCheck|absint.EvArith),
		load(0x44, absint.EvZeroOneCompare),
	}})
	require.Equal(t, []string{"address", "uint256", "bool"}, inf.Inputs)
}

func TestInferDynamicInputs(t *testing.T) {
	tr := &absint.Trace{Accesses: []absint.Access{
		load(4, absint.EvPointer),
		child(0, 4, absint.AccessLoad, absint.EvLength),
		child(0, 36, absint.AccessCopy, 0),
		load(0x24, absint.EvPointer),
		child(3, 4, absint.AccessLoad, absint.EvLength),
		{Kind: absint.AccessLoad, Opaque: true, Base: 3, Evidence: absint.EvAddressMask},
		load(0x44, absint.EvPointer),
		child(6, 4, absint.AccessLoad, absint.EvLength),
	}}
	inf := abi.Infer(tr)
	require.Equal(t, []string{"bytes", "address[]", "bytes"}, inf.Inputs)
}

func TestInferOutputs(t *testing.T) {
	boolWord := absint.ConcreteUint64(1)
	boolWord.Flags |= absint.FlagBool
	addrWord := absint.Unknown()
	addrWord.Flags |= absint.FlagAddress

	smallWord := absint.Unknown()
	smallWord.Bits = 8

	inf := abi.Infer(&absint.Trace{Exits: []absint.Exit{returning(boolWord, addrWord, absint.Unknown(), smallWord)}})
	require.Equal(t, []string{"bool", "address", "uint256", "uint8"}, inf.Outputs)

	// An unknown size is opaque bytes.
	inf = abi.Infer(&absint.Trace{Exits: []absint.Exit{{Kind: absint.ExitReturn}}})
	require.Equal(t, []string{"bytes"}, inf.Outputs)

	// Only STOP: no outputs.
	inf = abi.Infer(&absint.Trace{Exits: []absint.Exit{{Kind: absint.ExitStop}}})
	require.Empty(t, inf.Outputs)
}

func TestInferStringOutput(t *testing.T) {
	var payload [32]byte
	copy(payload[:], "Wrapped Ether")
	word := absint.Concrete(new(uint256.Int).SetBytes32(payload[:]))
	inf := abi.Infer(&absint.Trace{Exits: []absint.Exit{
		returning(absint.ConcreteUint64(0x20), absint.ConcreteUint64(13), word),
	}})
	require.Equal(t, []string{"string"}, inf.Outputs)

	inf = abi.Infer(&absint.Trace{Exits: []absint.Exit{
		returning(absint.ConcreteUint64(0x20), absint.ConcreteUint64(13), absint.Unknown()),
	}})
	require.Equal(t, []string{"bytes"}, inf.Outputs)
}

func TestInferAmbiguousOutputShape(t *testing.T) {
	tr := &absint.Trace{Exits: []absint.Exit{
		returning(absint.Unknown()),
		returning(absint.Unknown(), absint.Unknown()),
		returning(absint.Unknown(), absint.Unknown()),
		// Reverts never count.
		{Kind: absint.ExitRevert, Shape: absint.ReturnShape{Known: true, Size: 96}},
	}}
	inf := abi.Infer(tr)
	require.Equal(t, []string{"uint256", "uint256"}, inf.Outputs)
	require.Len(t, inf.Diagnostics, 1)
	require.Equal(t, abi.DiagAmbiguousOutputShape, inf.Diagnostics[0].Kind)
}

func TestInferMutability(t *testing.T) {
	for _, tc := range []struct {
		name     string
		trace    absint.Trace
		constant bool
		payable  bool
		mut      string
	}{
		{
			name:     "pure",
			trace:    absint.Trace{GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			constant: true,
			mut:      abi.MutabilityPure,
		},
		{
			name:     "view",
			trace:    absint.Trace{StorageRead: true, GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			constant: true,
			mut:      abi.MutabilityView,
		},
		{
			name:  "nonpayable",
			trace: absint.Trace{StorageWritten: true, GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			mut:   abi.MutabilityNonPayable,
		},
		{
			name:    "payable",
			trace:   absint.Trace{StorageWritten: true, Exits: []absint.Exit{{Kind: absint.ExitStop}}},
			payable: true,
			mut:     abi.MutabilityPayable,
		},
		{
			name:  "delegatecall",
			trace: absint.Trace{MutatingCall: true, GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			mut:   abi.MutabilityNonPayable,
		},
		{
			name:  "truncated before a reachable write",
			trace: absint.Trace{Truncated: true, MayWriteState: true, GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			mut:   abi.MutabilityNonPayable,
		},
		{
			name:     "truncated without a reachable write",
			trace:    absint.Trace{Truncated: true, StorageRead: true, GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitStop, Guarded: true}}},
			constant: true,
			mut:      abi.MutabilityView,
		},
		{
			name:     "no successful exit behind a guard",
			trace:    absint.Trace{GuardSeen: true, Exits: []absint.Exit{{Kind: absint.ExitRevert}}},
			constant: true,
			mut:      abi.MutabilityPure,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inf := abi.Infer(&tc.trace)
			require.Equal(t, tc.constant, inf.Constant)
			require.Equal(t, tc.payable, inf.Payable)
			require.Equal(t, tc.mut, inf.StateMutability)
		})
	}
}

func TestInferDiagnostics(t *testing.T) {
	inf := abi.Infer(&absint.Trace{Truncated: true, UnresolvedJumps: []uint64{0x42}})
	kinds := make([]abi.DiagKind, len(inf.Diagnostics))
	for i, d := range inf.Diagnostics {
		kinds[i] = d.Kind
	}
	require.Equal(t, []abi.DiagKind{abi.DiagTruncatedExploration, abi.DiagUnresolvedJump}, kinds)
	require.EqualValues(t, 0x42, inf.Diagnostics[1].Offset)
}

type forceRule struct{ typ string }

func (forceRule) Name() string { return "force" }

func (r forceRule) Apply(_ *absint.Trace, inf *abi.Inference) {
	for i := range inf.Inputs {
		inf.Set(i, r.typ)
	}
}

func TestInferencerFirstRuleWins(t *testing.T) {
	tr := &absint.Trace{Accesses: []absint.Access{load(4, absint.EvAddressMask)}}

	rules := append([]abi.Rule{forceRule{typ: "bytes32"}}, abi.DefaultRules()...)
	inf := abi.NewInferencer(rules...).Infer(tr)
	require.Equal(t, []string{"bytes32"}, inf.Inputs)
	require.True(t, inf.Decided(0))

	inf = abi.NewInferencer(append(abi.DefaultRules(), forceRule{typ: "bytes32"})...).Infer(tr)
	require.Equal(t, []string{"address"}, inf.Inputs)
}
