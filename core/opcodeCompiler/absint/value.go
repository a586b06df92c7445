package absint

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Kind tags an abstract value.
type Kind uint8

const (
	// KindUnknown halts folding along the path that produced it.
	KindUnknown Kind = iota
	// KindConcrete is a known 256-bit word.
	KindConcrete
	// KindCalldata is a word derived from a recorded calldata access.
	KindCalldata
)

func (k Kind) String() string {
	switch k {
	case KindConcrete:
		return "concrete"
	case KindCalldata:
		return "calldata"
	default:
		return "unknown"
	}
}

// Flags carry usage facts that survive folding.
type Flags uint16

const (
	// FlagBool marks the 0/1 result of a comparison or ISZERO.
	FlagBool Flags = 1 << iota
	// FlagAddress marks a word masked to 160 bits or read from an
	// address-valued opcode.
	FlagAddress
	// FlagCallValue marks CALLVALUE and ISZERO chains over it.
	FlagCallValue
	// FlagSelectorWord marks CALLDATALOAD(0) when the selector is known; U
	// holds the selector in its top four bytes.
	FlagSelectorWord
	// FlagCalldataSize marks CALLDATASIZE.
	FlagCalldataSize
)

// CalldataRef ties a value to the calldata access it was loaded from.
type CalldataRef struct {
	Access int
	// Delta is the constant added to the loaded word.
	Delta uint64
	// Exact is false once a non-constant was added.
	Exact bool
}

// Value is an abstract stack or memory word.
type Value struct {
	Kind  Kind
	U     uint256.Int
	Ref   CalldataRef
	Flags Flags
	// Neg counts ISZERO applications since the value was produced.
	Neg uint8
	// Bits is the width a non-calldata word was masked to, zero if never.
	Bits uint16
}

// Unknown returns a value with no information.
func Unknown() Value { return Value{} }

// Concrete returns a known word.
func Concrete(u *uint256.Int) Value {
	v := Value{Kind: KindConcrete}
	if u != nil {
		v.U.Set(u)
	}
	return v
}

// ConcreteUint64 returns a known word.
func ConcreteUint64(x uint64) Value {
	v := Value{Kind: KindConcrete}
	v.U.SetUint64(x)
	return v
}

func fromCalldata(access int) Value {
	return Value{Kind: KindCalldata, Ref: CalldataRef{Access: access, Exact: true}}
}

// IsConcrete reports whether the word is known.
func (v Value) IsConcrete() bool { return v.Kind == KindConcrete }

// Uint64 returns the word when it is concrete and fits in 64 bits.
func (v Value) Uint64() (uint64, bool) {
	if v.Kind != KindConcrete || !v.U.IsUint64() {
		return 0, false
	}
	return v.U.Uint64(), true
}

// Has reports whether all of f are set.
func (v Value) Has(f Flags) bool { return v.Flags&f == f }

func (v Value) String() string {
	switch v.Kind {
	case KindConcrete:
		return v.U.Hex()
	case KindCalldata:
		return fmt.Sprintf("cd#%d+%d", v.Ref.Access, v.Ref.Delta)
	default:
		return "?"
	}
}

// equal compares values for path-merging purposes.
func (v Value) equal(o Value) bool {
	if v.Kind != o.Kind || v.Flags != o.Flags || v.Neg != o.Neg {
		return false
	}
	switch v.Kind {
	case KindConcrete:
		return v.U.Eq(&o.U)
	case KindCalldata:
		return v.Ref == o.Ref
	}
	return true
}
