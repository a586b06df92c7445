package compiler

import (
	"github.com/holiman/uint256"
)

// FoldUnary evaluates a one-operand opcode over a constant.
func FoldUnary(op ByteCode, a *uint256.Int) (*uint256.Int, bool) {
	if a == nil {
		return nil, false
	}
	out := new(uint256.Int)
	switch op {
	case NOT:
		out.Not(a)
	case ISZERO:
		if a.IsZero() {
			out.SetOne()
		}
	default:
		return nil, false
	}
	return out, true
}

// FoldBinary evaluates a two-operand opcode over constants. a is the top of
// the stack, so SUB folds to a-b and SHL shifts b left by a.
func FoldBinary(op ByteCode, a, b *uint256.Int) (*uint256.Int, bool) {
	if a == nil || b == nil {
		return nil, false
	}
	out := new(uint256.Int)
	switch op {
	case ADD:
		out.Add(a, b)
	case MUL:
		out.Mul(a, b)
	case SUB:
		out.Sub(a, b)
	case DIV:
		out.Div(a, b)
	case SDIV:
		out.SDiv(a, b)
	case MOD:
		out.Mod(a, b)
	case SMOD:
		out.SMod(a, b)
	case EXP:
		out.Exp(a, b)
	case SIGNEXTEND:
		out.ExtendSign(b, a)
	case LT:
		setBool(out, a.Lt(b))
	case GT:
		setBool(out, a.Gt(b))
	case SLT:
		setBool(out, a.Slt(b))
	case SGT:
		setBool(out, a.Sgt(b))
	case EQ:
		setBool(out, a.Eq(b))
	case AND:
		out.And(a, b)
	case OR:
		out.Or(a, b)
	case XOR:
		out.Xor(a, b)
	case BYTE:
		// BYTE(n, x): nth byte of x, 0 = most significant.
		if n, overflow := a.Uint64WithOverflow(); !overflow && n < 32 {
			b32 := b.Bytes32()
			out.SetUint64(uint64(b32[n]))
		}
	case SHL:
		if shift, overflow := a.Uint64WithOverflow(); !overflow && shift < 256 {
			out.Lsh(b, uint(shift))
		}
	case SHR:
		if shift, overflow := a.Uint64WithOverflow(); !overflow && shift < 256 {
			out.Rsh(b, uint(shift))
		}
	case SAR:
		shift, overflow := a.Uint64WithOverflow()
		if overflow || shift >= 256 {
			if b.Sign() < 0 {
				out.SetAllOne()
			}
		} else {
			out.SRsh(b, uint(shift))
		}
	default:
		return nil, false
	}
	return out, true
}

// FoldTernary evaluates ADDMOD and MULMOD. A zero modulus yields zero.
func FoldTernary(op ByteCode, a, b, c *uint256.Int) (*uint256.Int, bool) {
	if a == nil || b == nil || c == nil {
		return nil, false
	}
	out := new(uint256.Int)
	switch op {
	case ADDMOD:
		if !c.IsZero() {
			out.AddMod(a, b, c)
		}
	case MULMOD:
		if !c.IsZero() {
			out.MulMod(a, b, c)
		}
	default:
		return nil, false
	}
	return out, true
}

// IsComparison reports whether op produces a 0/1 result.
func IsComparison(op ByteCode) bool {
	switch op {
	case LT, GT, SLT, SGT, EQ, ISZERO:
		return true
	}
	return false
}

func setBool(out *uint256.Int, v bool) {
	if v {
		out.SetOne()
	} else {
		out.Clear()
	}
}
