package absint

import (
	"github.com/holiman/uint256"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
)

var (
	addressMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
	allOnes     = new(uint256.Int).SetAllOne()
)

// transfer applies the abstract rule of a non-control-flow opcode. It
// returns the value to push, if any.
func (it *interpreter) transfer(s *state, in compiler.Instruction) (Value, bool) {
	op := in.Op
	switch op {
	case compiler.POP:
		s.pop()
		return Value{}, false
	case compiler.JUMPDEST:
		return Value{}, false
	case compiler.PC:
		return ConcreteUint64(in.Offset), true

	case compiler.ISZERO:
		return it.isZero(s.pop()), true
	case compiler.NOT:
		a := s.pop()
		if a.IsConcrete() {
			r, _ := compiler.FoldUnary(op, &a.U)
			return Concrete(r), true
		}
		it.note(a, EvArith)
		return Unknown(), true
	case compiler.ADDMOD, compiler.MULMOD:
		a, b, c := s.pop(), s.pop(), s.pop()
		if a.IsConcrete() && b.IsConcrete() && c.IsConcrete() {
			r, _ := compiler.FoldTernary(op, &a.U, &b.U, &c.U)
			return Concrete(r), true
		}
		it.note(a, EvArith)
		it.note(b, EvArith)
		it.note(c, EvArith)
		return Unknown(), true
	case compiler.KECCAK256:
		return it.keccak(s, s.pop(), s.pop()), true

	case compiler.CALLVALUE:
		if s.valueZero {
			v := ConcreteUint64(0)
			v.Flags = FlagCallValue
			return v, true
		}
		return Value{Flags: FlagCallValue}, true
	case compiler.CALLDATASIZE:
		if it.req.EmptyCalldata {
			v := ConcreteUint64(0)
			v.Flags = FlagCalldataSize
			return v, true
		}
		return Value{Flags: FlagCalldataSize}, true
	case compiler.CALLDATALOAD:
		return it.calldataLoad(s, s.pop(), in.Offset), true
	case compiler.CALLDATACOPY:
		dest, off, size := s.pop(), s.pop(), s.pop()
		it.calldataCopy(s, dest, off, size, in.Offset)
		return Value{}, false
	case compiler.CODESIZE:
		return ConcreteUint64(uint64(len(it.cfg.Code()))), true
	case compiler.CODECOPY:
		dest, off, size := s.pop(), s.pop(), s.pop()
		it.codeCopy(s, dest, off, size)
		return Value{}, false
	case compiler.RETURNDATACOPY:
		dest, _, size := s.pop(), s.pop(), s.pop()
		it.clobber(s, dest, size)
		return Value{}, false
	case compiler.EXTCODECOPY:
		_, dest, _, size := s.pop(), s.pop(), s.pop(), s.pop()
		it.envRead(s)
		it.clobber(s, dest, size)
		return Value{}, false

	case compiler.ADDRESS, compiler.ORIGIN, compiler.CALLER, compiler.COINBASE:
		it.envRead(s)
		return Value{Flags: FlagAddress}, true
	case compiler.BALANCE, compiler.EXTCODESIZE, compiler.EXTCODEHASH, compiler.BLOCKHASH, compiler.BLOBHASH:
		s.pop()
		it.envRead(s)
		return Unknown(), true
	case compiler.GASPRICE, compiler.TIMESTAMP, compiler.NUMBER, compiler.PREVRANDAO, compiler.GASLIMIT,
		compiler.CHAINID, compiler.SELFBALANCE, compiler.BASEFEE, compiler.BLOBBASEFEE:
		it.envRead(s)
		return Unknown(), true

	case compiler.MLOAD:
		addr, ok := memAddr(s.pop())
		if !ok {
			return Unknown(), true
		}
		return s.mem.Load(addr), true
	case compiler.MSTORE:
		addr, v := s.pop(), s.pop()
		if a, ok := memAddr(addr); ok {
			s.mem.Store(a, v)
		} else {
			s.mem = NewMemory()
		}
		return Value{}, false
	case compiler.MSTORE8:
		addr, _ := s.pop(), s.pop()
		if a, ok := memAddr(addr); ok {
			s.mem.Store8(a)
		} else {
			s.mem = NewMemory()
		}
		return Value{}, false
	case compiler.MCOPY:
		dest, src, size := s.pop(), s.pop(), s.pop()
		it.memCopy(s, dest, src, size)
		return Value{}, false

	case compiler.SLOAD:
		slot := s.pop()
		if s.inBody {
			it.trace.StorageRead = true
			it.trace.ReadsEnvironment = true
		}
		return s.store.Load(slot), true
	case compiler.SSTORE:
		slot, v := s.pop(), s.pop()
		if s.inBody {
			it.trace.StorageWritten = true
			it.note(v, EvStored)
		}
		s.store.Store(slot, v)
		return Value{}, false
	case compiler.TLOAD:
		s.pop()
		it.envRead(s)
		return Unknown(), true
	case compiler.TSTORE:
		s.popN(2)
		if s.inBody {
			it.trace.MutatingCall = true
		}
		return Value{}, false

	case compiler.CREATE, compiler.CREATE2:
		n := 3
		if op == compiler.CREATE2 {
			n = 4
		}
		args := s.popN(n)
		if s.inBody {
			it.trace.MutatingCall = true
			it.trace.ExternalCall = true
			if !isZero(args[0]) {
				it.trace.ValueTransfer = true
			}
		}
		return Value{Flags: FlagAddress}, true
	case compiler.CALL, compiler.CALLCODE, compiler.DELEGATECALL, compiler.STATICCALL:
		return it.call(s, op), true
	}

	if op.IsLog() {
		s.popN(2 + int(op-compiler.LOG0))
		if s.inBody {
			it.trace.EmitsLog = true
		}
		return Value{}, false
	}

	pops, pushes := op.StackEffect()
	switch {
	case pops == 2 && pushes == 1:
		a, b := s.pop(), s.pop()
		return it.binary(op, a, b), true
	default:
		s.popN(pops)
		return Unknown(), pushes > 0
	}
}

func (it *interpreter) envRead(s *state) {
	if s.inBody {
		it.trace.ReadsEnvironment = true
	}
}

func isZero(v Value) bool { return v.IsConcrete() && v.U.IsZero() }

// note attaches usage evidence to the calldata access v was loaded from.
func (it *interpreter) note(v Value, ev Evidence) {
	if v.Kind != KindCalldata || v.Ref.Access >= len(it.trace.Accesses) {
		return
	}
	it.trace.Accesses[v.Ref.Access].Evidence |= ev
}

func (it *interpreter) access(a Access) int {
	key := accessKey{
		kind:       a.Kind,
		opaque:     a.Opaque,
		offset:     a.Offset,
		base:       a.Base,
		delta:      a.Delta,
		deltaKnown: a.DeltaKnown,
	}
	if idx, ok := it.index[key]; ok {
		return idx
	}
	idx := len(it.trace.Accesses)
	it.trace.Accesses = append(it.trace.Accesses, a)
	it.index[key] = idx
	return idx
}

func (it *interpreter) calldataLoad(s *state, off Value, at uint64) Value {
	if it.req.EmptyCalldata {
		return ConcreteUint64(0)
	}
	if o, ok := off.Uint64(); ok {
		if o == 0 && it.req.HasSelector {
			return it.selectorWord
		}
		if !s.inBody {
			return Unknown()
		}
		return fromCalldata(it.access(Access{Kind: AccessLoad, Offset: o, Width: 32, Base: -1, At: at}))
	}
	if !s.inBody {
		return Unknown()
	}
	a := Access{Kind: AccessLoad, Width: 32, Opaque: true, Base: -1, At: at}
	if off.Kind == KindCalldata {
		a.Base = off.Ref.Access
		a.Delta = off.Ref.Delta
		a.DeltaKnown = off.Ref.Exact
		it.note(off, EvPointer)
	}
	return fromCalldata(it.access(a))
}

func (it *interpreter) calldataCopy(s *state, dest, off, size Value, at uint64) {
	if s.inBody && !it.req.EmptyCalldata {
		a := Access{Kind: AccessCopy, Base: -1, At: at}
		if n, ok := size.Uint64(); ok {
			a.Width = n
		}
		switch {
		case off.IsConcrete():
			a.Offset, _ = off.Uint64()
		case off.Kind == KindCalldata:
			a.Opaque = true
			a.Base = off.Ref.Access
			a.Delta = off.Ref.Delta
			a.DeltaKnown = off.Ref.Exact
			it.note(off, EvPointer)
		default:
			a.Opaque = true
		}
		it.note(size, EvLength)
		it.access(a)
	}
	it.clobber(s, dest, size)
}

func (it *interpreter) codeCopy(s *state, dest, off, size Value) {
	d, okD := memAddr(dest)
	o, okO := off.Uint64()
	n, okN := memAddr(size)
	if !okD || !okO || !okN || n > 32*maxTrackedCopy {
		it.clobber(s, dest, size)
		return
	}
	code := it.cfg.Code()
	data := make([]byte, n)
	if o < uint64(len(code)) {
		copy(data, code[o:])
	}
	s.mem.CopyBytes(d, data)
}

func (it *interpreter) memCopy(s *state, dest, src, size Value) {
	d, okD := memAddr(dest)
	o, okO := memAddr(src)
	n, okN := memAddr(size)
	if !okD || !okO || !okN {
		it.clobber(s, dest, size)
		return
	}
	words := s.mem.Region(o, n)
	s.mem.Invalidate(satSub(d, 31), d+n)
	if n%32 == 0 {
		for i, w := range words {
			s.mem.Store(d+uint64(32*i), w)
		}
	}
}

// clobber forgets the memory a write of unknown content touches.
func (it *interpreter) clobber(s *state, dest, size Value) {
	d, okD := memAddr(dest)
	n, okN := memAddr(size)
	if !okD || !okN {
		s.mem = NewMemory()
		return
	}
	s.mem.Invalidate(satSub(d, 31), d+n)
}

func (it *interpreter) keccak(s *state, off, size Value) Value {
	o, okO := memAddr(off)
	n, okN := memAddr(size)
	if !okO || !okN {
		return Unknown()
	}
	if s.inBody {
		for _, w := range s.mem.Region(o, n) {
			it.note(w, EvHashed)
		}
	}
	v, _ := s.mem.Hash(o, n)
	return v
}

func (it *interpreter) call(s *state, op compiler.ByteCode) Value {
	s.pop() // gas
	addr := s.pop()
	value := ConcreteUint64(0)
	if op == compiler.CALL || op == compiler.CALLCODE {
		value = s.pop()
	}
	s.popN(2) // input region
	outOff, outSize := s.pop(), s.pop()

	if s.inBody {
		it.trace.ExternalCall = true
		it.trace.ReadsEnvironment = true
		it.note(addr, EvCallTarget)
		if !isZero(value) {
			it.trace.ValueTransfer = true
		}
		if op == compiler.DELEGATECALL || op == compiler.CALLCODE {
			it.trace.MutatingCall = true
		}
	}
	it.clobber(s, outOff, outSize)
	return Value{Flags: FlagBool}
}

func (it *interpreter) isZero(a Value) Value {
	if a.IsConcrete() {
		r, _ := compiler.FoldUnary(compiler.ISZERO, &a.U)
		v := Concrete(r)
		v.Flags = FlagBool
		return v
	}
	switch {
	case a.Has(FlagCalldataSize) && it.req.HasSelector:
		v := ConcreteUint64(0)
		v.Flags = FlagBool
		return v
	case a.Kind == KindCalldata:
		r := a
		r.Flags |= FlagBool
		if r.Neg < 2 {
			r.Neg++
		}
		if r.Neg == 2 {
			it.note(r, EvBoolCheck)
		}
		return r
	case a.Has(FlagCallValue):
		return Value{Flags: FlagCallValue | FlagBool, Neg: (a.Neg + 1) % 2}
	}
	return Value{Flags: FlagBool}
}

// binary applies a two-operand opcode; a is the top of the stack.
func (it *interpreter) binary(op compiler.ByteCode, a, b Value) Value {
	if a.IsConcrete() && b.IsConcrete() {
		if r, ok := compiler.FoldBinary(op, &a.U, &b.U); ok {
			v := Concrete(r)
			switch {
			case compiler.IsComparison(op):
				v.Flags = FlagBool
			case op == compiler.AND && (a.U.Eq(addressMask) || b.U.Eq(addressMask)):
				v.Flags = FlagAddress
			}
			return v
		}
	}
	switch op {
	case compiler.AND:
		return it.and(a, b)
	case compiler.EQ:
		it.eq(a, b)
		return Value{Flags: FlagBool}
	case compiler.ADD:
		return it.add(a, b)
	case compiler.LT, compiler.GT, compiler.SLT, compiler.SGT:
		if it.req.HasSelector && calldataSizeBelowSelector(op, a, b) {
			v := ConcreteUint64(0)
			v.Flags = FlagBool
			return v
		}
		it.note(a, EvCompare)
		it.note(b, EvCompare)
		return Value{Flags: FlagBool}
	case compiler.SIGNEXTEND:
		if n, ok := a.Uint64(); ok && n < 31 && b.Kind == KindCalldata {
			it.signExtend(b, uint8(n+1))
			return b
		}
	case compiler.OR:
		if isZero(a) {
			return b
		}
		if isZero(b) {
			return a
		}
	}
	it.note(a, EvArith)
	it.note(b, EvArith)
	return Unknown()
}

// calldataSizeBelowSelector folds "CALLDATASIZE < c" for c <= 4, which is
// false whenever a selector is present.
func calldataSizeBelowSelector(op compiler.ByteCode, a, b Value) bool {
	small := func(v Value) bool {
		n, ok := v.Uint64()
		return ok && n <= 4
	}
	switch op {
	case compiler.LT:
		return a.Has(FlagCalldataSize) && !a.IsConcrete() && small(b)
	case compiler.GT:
		return b.Has(FlagCalldataSize) && !b.IsConcrete() && small(a)
	}
	return false
}

func (it *interpreter) and(a, b Value) Value {
	mask, v := a, b
	if !mask.IsConcrete() {
		mask, v = b, a
	}
	if !mask.IsConcrete() {
		it.note(a, EvArith)
		it.note(b, EvArith)
		return Value{Flags: (a.Flags | b.Flags) & FlagBool}
	}
	if mask.U.Eq(allOnes) {
		return v
	}
	if mask.U.Eq(addressMask) {
		if v.Kind == KindCalldata {
			it.note(v, EvAddressMask)
			r := v
			r.Flags = (r.Flags | FlagAddress) &^ FlagBool
			return r
		}
		return Value{Flags: FlagAddress}
	}
	if v.Kind != KindCalldata {
		r := Value{Flags: v.Flags & (FlagBool | FlagAddress), Bits: v.Bits}
		if bits, ok := lowMask(&mask.U); ok && (r.Bits == 0 || uint16(bits) < r.Bits) {
			r.Bits = uint16(bits)
		}
		return r
	}
	if bits, ok := lowMask(&mask.U); ok {
		acc := &it.trace.Accesses[v.Ref.Access]
		acc.Evidence |= EvSmallMask
		if acc.MaskBits == 0 || uint16(bits) < acc.MaskBits {
			acc.MaskBits = uint16(bits)
		}
		return v
	}
	if n, ok := highMask(&mask.U); ok {
		acc := &it.trace.Accesses[v.Ref.Access]
		acc.Evidence |= EvHighMask
		if acc.HighBytes == 0 || n < acc.HighBytes {
			acc.HighBytes = n
		}
		return v
	}
	it.note(v, EvArith)
	return Unknown()
}

func (it *interpreter) signExtend(v Value, n uint8) {
	acc := &it.trace.Accesses[v.Ref.Access]
	acc.Evidence |= EvSignExtend
	if acc.SignBytes == 0 || n < acc.SignBytes {
		acc.SignBytes = n
	}
}

// lowMask reports whether m is 2^bits-1 for a whole number of bytes.
func lowMask(m *uint256.Int) (int, bool) {
	bits := m.BitLen()
	if bits == 0 || bits%8 != 0 || bits == 256 {
		return 0, false
	}
	next := new(uint256.Int).AddUint64(m, 1)
	if next.BitLen() != bits+1 || new(uint256.Int).And(next, m).Sign() != 0 {
		return 0, false
	}
	return bits, true
}

// highMask reports whether m keeps exactly the n leading bytes.
func highMask(m *uint256.Int) (uint8, bool) {
	if m.IsZero() || m.BitLen() != 256 {
		return 0, false
	}
	inv := new(uint256.Int).Not(m)
	bits, ok := lowMask(inv)
	if !ok {
		return 0, false
	}
	return uint8(32 - bits/8), true
}

func (it *interpreter) eq(a, b Value) {
	switch {
	case a.Kind == KindCalldata && b.Kind == KindCalldata && a.Ref.Access == b.Ref.Access:
		if a.Neg == 2 || b.Neg == 2 {
			it.note(a, EvBoolCheck)
		}
	case a.Kind == KindCalldata && zeroOrOne(b):
		it.note(a, EvZeroOneCompare)
	case b.Kind == KindCalldata && zeroOrOne(a):
		it.note(b, EvZeroOneCompare)
	}
}

func zeroOrOne(v Value) bool {
	n, ok := v.Uint64()
	return ok && n <= 1
}

func (it *interpreter) add(a, b Value) Value {
	c, v := a, b
	if !c.IsConcrete() {
		c, v = b, a
	}
	if v.Kind == KindCalldata {
		if n, ok := c.Uint64(); ok && c.IsConcrete() {
			r := v
			r.Ref.Delta += n
			r.Flags = 0
			r.Neg = 0
			return r
		}
		if c.Kind != KindCalldata {
			// Pointer plus an unknown index keeps its base but loses the
			// exact offset.
			it.note(v, EvArith)
			r := v
			r.Ref.Exact = false
			r.Flags = 0
			r.Neg = 0
			return r
		}
	}
	it.note(a, EvArith)
	it.note(b, EvArith)
	return Unknown()
}
