package compiler

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// maxDispatchSteps bounds the instructions simulated while walking the
// selector comparison chain.
const maxDispatchSteps = 1 << 16

var (
	selectorShift = uint256.NewInt(224)
	selectorDiv   = new(uint256.Int).Lsh(uint256.NewInt(1), 224)
	selectorMask  = uint256.NewInt(0xffffffff)
)

// SelectorEntry maps one dispatch comparison to the handler it jumps to.
type SelectorEntry struct {
	Selector [4]byte
	// Target is the start offset of the handler's entry block.
	Target uint64
	// CompareBlock is the start of the block holding the comparison.
	CompareBlock uint64
	// CompareAt is the offset of the EQ or XOR instruction.
	CompareAt uint64
	// ValueGuarded is set when the dispatcher only reaches Target after
	// checking that CALLVALUE is zero.
	ValueGuarded bool
}

// SelectorHex renders the selector as 0x-prefixed hex.
func (e SelectorEntry) SelectorHex() string {
	return fmt.Sprintf("0x%x", e.Selector[:])
}

// UnrecognizedEntry is a selector comparison whose constant or target could
// not be resolved.
type UnrecognizedEntry struct {
	CompareAt uint64
	Reason    string
}

// DispatchTable is the recovered selector routing of a contract.
type DispatchTable struct {
	// Entries are ordered by comparison offset.
	Entries []SelectorEntry
	// Duplicates holds later comparisons against an already seen selector.
	Duplicates   []SelectorEntry
	Unrecognized []UnrecognizedEntry
	// Fallback is where calls matching no selector continue, when found.
	Fallback    uint64
	HasFallback bool
	// Receive is the branch taken for empty calldata, when present.
	Receive    uint64
	HasReceive bool
	// Truncated is set when the walk hit its step bound.
	Truncated bool
}

// Lookup returns the entry for selector.
func (t *DispatchTable) Lookup(selector [4]byte) (SelectorEntry, bool) {
	for _, e := range t.Entries {
		if e.Selector == selector {
			return e, true
		}
	}
	return SelectorEntry{}, false
}

type dispTag uint8

const (
	tagNone dispTag = iota
	tagWord0
	tagSelector
	tagSelectorEq
	tagSelectorCmp
	tagCallValue
	tagCallDataSize
	tagCallDataSizeCmp
)

// dval is a stack value seen by the dispatcher walk.
type dval struct {
	c   *uint256.Int
	tag dispTag
	// neg is set after an odd number of ISZERO applications to a tagged value.
	neg bool
	// sel is the constant compared against for tagSelectorEq.
	sel *uint256.Int
	at  uint64
}

type dispState struct {
	pc           uint64
	stack        []dval
	guarded      bool
	valueNonZero bool
	cdsZero      bool
	fromDispatch bool
	// pending is the first block after the walk left the comparison chain
	// on this path.
	pending    uint64
	hasPending bool
}

type dispKey struct {
	pc      uint64
	depth   int
	guarded bool
	nonZero bool
	cdsZero bool
}

type dispatchWalker struct {
	cfg       *CFG
	table     *DispatchTable
	steps     int
	found     []SelectorEntry
	seen      map[uint64]int
	fallbacks []uint64
	receives  []uint64
}

// ExtractDispatch walks the selector comparison chain from entry and maps each
// literal selector to its handler block. It follows only comparisons against
// the selector, calldata size and call value; any other branch ends the walk
// on that path.
func ExtractDispatch(cfg *CFG) *DispatchTable {
	w := &dispatchWalker{
		cfg:   cfg,
		table: &DispatchTable{},
		seen:  make(map[uint64]int),
	}
	if cfg.BlockAt(cfg.Entry()) != nil {
		w.run()
	}
	w.finish()
	return w.table
}

func (w *dispatchWalker) run() {
	visited := make(map[dispKey]bool)
	work := []*dispState{{pc: w.cfg.Entry(), fromDispatch: true}}
	for len(work) > 0 {
		st := work[len(work)-1]
		work = work[:len(work)-1]
		key := dispKey{st.pc, len(st.stack), st.guarded, st.valueNonZero, st.cdsZero}
		if visited[key] {
			continue
		}
		visited[key] = true
		next, ok := w.step(st)
		if !ok {
			w.table.Truncated = true
			return
		}
		// Push in reverse so the first successor is explored first.
		for i := len(next) - 1; i >= 0; i-- {
			work = append(work, next[i])
		}
	}
}

// step executes one block and returns the states to continue with. It
// returns false when the step bound is exceeded.
func (w *dispatchWalker) step(st *dispState) ([]*dispState, bool) {
	b := w.cfg.BlockAt(st.pc)
	if b == nil {
		return nil, true
	}
	stack := st.stack
	pop := func() dval {
		if len(stack) == 0 {
			return dval{}
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	peek := func(n int) dval {
		if n >= len(stack) {
			return dval{}
		}
		return stack[len(stack)-1-n]
	}

	isDispatch := false
	pending, hasPending := st.pending, st.hasPending
	settle := func() {
		switch {
		case isDispatch:
			hasPending = false
		case !hasPending && st.fromDispatch && !st.valueNonZero:
			pending, hasPending = b.Start(), true
		}
	}
	end := func() {
		if !hasPending {
			return
		}
		if st.cdsZero {
			w.receives = append(w.receives, pending)
		} else {
			w.fallbacks = append(w.fallbacks, pending)
		}
	}
	fork := func(pc uint64, guarded, nonZero, cdsZero bool) *dispState {
		return &dispState{
			pc:           pc,
			stack:        append([]dval(nil), stack...),
			guarded:      guarded,
			valueNonZero: nonZero,
			cdsZero:      cdsZero,
			fromDispatch: isDispatch,
			pending:      pending,
			hasPending:   hasPending && !nonZero,
		}
	}

	for _, in := range b.instrs {
		w.steps++
		if w.steps > maxDispatchSteps {
			return nil, false
		}
		op := in.Op
		switch {
		case op == PUSH0:
			stack = append(stack, dval{c: new(uint256.Int)})
		case op.IsPush():
			stack = append(stack, dval{c: in.Value()})
		case op.IsDup():
			stack = append(stack, peek(int(op-DUP1)))
		case op.IsSwap():
			n := int(op-SWAP1) + 1
			for len(stack) < n+1 {
				stack = append([]dval{{}}, stack...)
			}
			top := len(stack) - 1
			stack[top], stack[top-n] = stack[top-n], stack[top]
		case op == PC:
			stack = append(stack, dval{c: uint256.NewInt(in.Offset)})
		case op == CALLVALUE:
			if st.guarded {
				stack = append(stack, dval{c: new(uint256.Int), tag: tagCallValue})
			} else {
				stack = append(stack, dval{tag: tagCallValue})
			}
		case op == CALLDATASIZE:
			stack = append(stack, dval{tag: tagCallDataSize})
		case op == CALLDATALOAD:
			off := pop()
			if off.c != nil && off.c.IsZero() {
				stack = append(stack, dval{tag: tagWord0})
			} else {
				stack = append(stack, dval{})
			}
		case op == ISZERO:
			v := pop()
			if v.tag != tagNone && v.tag != tagWord0 && v.tag != tagSelector {
				v.neg = !v.neg
				if v.c != nil {
					v.c, _ = FoldUnary(ISZERO, v.c)
				}
				stack = append(stack, v)
			} else {
				r, _ := FoldUnary(ISZERO, v.c)
				stack = append(stack, dval{c: r})
			}
		case op == JUMP:
			target := pop()
			settle()
			if target.c == nil || !target.c.IsUint64() || !w.cfg.IsJumpDest(target.c.Uint64()) {
				end()
				return nil, true
			}
			return []*dispState{fork(target.c.Uint64(), st.guarded, st.valueNonZero, st.cdsZero)}, true
		case op == JUMPI:
			target, cond := pop(), pop()
			isDispatch = cond.tag != tagNone && cond.tag != tagWord0 && cond.tag != tagSelector
			settle()
			next := w.branch(st, b, in, target, cond, fork)
			if len(next) == 0 {
				end()
			}
			return next, true
		case op.IsHalt():
			settle()
			end()
			return nil, true
		case op == SHR || op == DIV || op == AND || op == EQ || op == XOR ||
			op == LT || op == GT || op == SLT || op == SGT:
			a, c := pop(), pop()
			stack = append(stack, combine(op, a, c, in.Offset))
		default:
			pops, pushes := op.StackEffect()
			args := make([]*uint256.Int, pops)
			for i := 0; i < pops; i++ {
				args[i] = pop().c
			}
			var folded *uint256.Int
			switch {
			case pushes == 1 && pops == 1:
				folded, _ = FoldUnary(op, args[0])
			case pushes == 1 && pops == 2:
				folded, _ = FoldBinary(op, args[0], args[1])
			case pushes == 1 && pops == 3:
				folded, _ = FoldTernary(op, args[0], args[1], args[2])
			}
			for i := 0; i < pushes; i++ {
				stack = append(stack, dval{c: folded})
			}
		}
	}
	// Fell through into the next block.
	settle()
	if w.cfg.BlockAt(b.End()) == nil {
		end()
		return nil, true
	}
	return []*dispState{fork(b.End(), st.guarded, st.valueNonZero, st.cdsZero)}, true
}

// branch decides how a JUMPI inside the dispatch region continues.
func (w *dispatchWalker) branch(st *dispState, b *BasicBlock, in Instruction, target, cond dval,
	fork func(uint64, bool, bool, bool) *dispState) []*dispState {

	fallthroughPC := in.Next()
	hasFallthrough := w.cfg.BlockAt(fallthroughPC) != nil
	targetPC, targetOK := uint64(0), false
	if target.c != nil && target.c.IsUint64() && w.cfg.IsJumpDest(target.c.Uint64()) {
		targetPC, targetOK = target.c.Uint64(), true
	}

	both := func(jumpGuard, jumpNonZero, jumpCds, ftGuard, ftNonZero, ftCds bool) []*dispState {
		var out []*dispState
		if targetOK {
			out = append(out, fork(targetPC, jumpGuard, jumpNonZero, jumpCds))
		}
		if hasFallthrough {
			out = append(out, fork(fallthroughPC, ftGuard, ftNonZero, ftCds))
		}
		return out
	}

	switch cond.tag {
	case tagSelectorEq:
		matchPC, matchOK := targetPC, targetOK
		missPC, missOK := fallthroughPC, hasFallthrough
		if cond.neg {
			matchPC, matchOK, missPC, missOK = fallthroughPC, hasFallthrough, targetPC, targetOK
		}
		w.record(st, b, cond, matchPC, matchOK)
		if !missOK {
			return nil
		}
		return []*dispState{fork(missPC, st.guarded, st.valueNonZero, st.cdsZero)}
	case tagSelectorCmp, tagCallDataSizeCmp:
		return both(st.guarded, st.valueNonZero, st.cdsZero, st.guarded, st.valueNonZero, st.cdsZero)
	case tagCallDataSize:
		// Truthy condition means non-empty calldata.
		jumpEmpty := cond.neg
		return both(st.guarded, st.valueNonZero, jumpEmpty, st.guarded, st.valueNonZero, !jumpEmpty)
	case tagCallValue:
		if cond.c != nil {
			break
		}
		// Truthy condition means a nonzero value was sent.
		jumpZero := cond.neg
		return both(jumpZero || st.guarded, !jumpZero, st.cdsZero, !jumpZero || st.guarded, jumpZero, st.cdsZero)
	}
	if cond.c != nil {
		if cond.c.IsZero() {
			if hasFallthrough {
				return []*dispState{fork(fallthroughPC, st.guarded, st.valueNonZero, st.cdsZero)}
			}
			return nil
		}
		if targetOK {
			return []*dispState{fork(targetPC, st.guarded, st.valueNonZero, st.cdsZero)}
		}
	}
	return nil
}

func (w *dispatchWalker) record(st *dispState, b *BasicBlock, cond dval, target uint64, targetOK bool) {
	if cond.sel == nil || !cond.sel.IsUint64() || cond.sel.Uint64() > 0xffffffff {
		w.table.Unrecognized = append(w.table.Unrecognized, UnrecognizedEntry{
			CompareAt: cond.at,
			Reason:    "selector constant not resolved",
		})
		return
	}
	if !targetOK {
		w.table.Unrecognized = append(w.table.Unrecognized, UnrecognizedEntry{
			CompareAt: cond.at,
			Reason:    "jump target not resolved",
		})
		return
	}
	var sel [4]byte
	v := cond.sel.Uint64()
	sel[0], sel[1], sel[2], sel[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	entry := SelectorEntry{
		Selector:     sel,
		Target:       target,
		CompareBlock: b.Start(),
		CompareAt:    cond.at,
		ValueGuarded: st.guarded,
	}
	if i, ok := w.seen[cond.at]; ok {
		// Same comparison reached along another path: guarded only if
		// guarded on every path.
		w.found[i].ValueGuarded = w.found[i].ValueGuarded && entry.ValueGuarded
		return
	}
	w.seen[cond.at] = len(w.found)
	w.found = append(w.found, entry)
}

func (w *dispatchWalker) finish() {
	sort.SliceStable(w.found, func(i, j int) bool {
		if w.found[i].CompareBlock != w.found[j].CompareBlock {
			return w.found[i].CompareBlock < w.found[j].CompareBlock
		}
		return w.found[i].CompareAt < w.found[j].CompareAt
	})
	bySel := make(map[[4]byte]bool, len(w.found))
	for _, e := range w.found {
		if bySel[e.Selector] {
			w.table.Duplicates = append(w.table.Duplicates, e)
			continue
		}
		bySel[e.Selector] = true
		w.table.Entries = append(w.table.Entries, e)
	}
	sort.SliceStable(w.table.Unrecognized, func(i, j int) bool {
		return w.table.Unrecognized[i].CompareAt < w.table.Unrecognized[j].CompareAt
	})
	if pc, ok := lowest(w.fallbacks); ok {
		w.table.Fallback, w.table.HasFallback = pc, true
	}
	if pc, ok := lowest(w.receives); ok {
		w.table.Receive, w.table.HasReceive = pc, true
	}
}

func lowest(pcs []uint64) (uint64, bool) {
	if len(pcs) == 0 {
		return 0, false
	}
	m := pcs[0]
	for _, pc := range pcs[1:] {
		if pc < m {
			m = pc
		}
	}
	return m, true
}

// combine applies a binary opcode and tracks selector extraction idioms:
// SHR(224, word0), DIV(word0, 2^224) and AND(selector, 0xffffffff). A XOR
// against the selector is an inequality test, as vyper emits it.
func combine(op ByteCode, a, b dval, at uint64) dval {
	switch op {
	case SHR:
		if b.tag == tagWord0 && a.c != nil && a.c.Eq(selectorShift) {
			return dval{tag: tagSelector}
		}
	case DIV:
		if a.tag == tagWord0 && b.c != nil && b.c.Eq(selectorDiv) {
			return dval{tag: tagSelector}
		}
	case AND:
		if a.tag == tagSelector && b.c != nil && b.c.Eq(selectorMask) {
			return a
		}
		if b.tag == tagSelector && a.c != nil && a.c.Eq(selectorMask) {
			return b
		}
	case EQ:
		switch {
		case a.tag == tagSelector:
			return dval{tag: tagSelectorEq, sel: b.c, at: at}
		case b.tag == tagSelector:
			return dval{tag: tagSelectorEq, sel: a.c, at: at}
		case a.tag == tagCallDataSize && !a.neg && b.c != nil && b.c.IsZero():
			return dval{tag: tagCallDataSize, neg: true}
		case b.tag == tagCallDataSize && !b.neg && a.c != nil && a.c.IsZero():
			return dval{tag: tagCallDataSize, neg: true}
		}
	case XOR:
		switch {
		case a.tag == tagSelector:
			return dval{tag: tagSelectorEq, sel: b.c, at: at, neg: true}
		case b.tag == tagSelector:
			return dval{tag: tagSelectorEq, sel: a.c, at: at, neg: true}
		}
	}
	if IsComparison(op) {
		switch {
		case a.tag == tagSelector || b.tag == tagSelector:
			return dval{tag: tagSelectorCmp}
		case a.tag == tagCallDataSize || b.tag == tagCallDataSize:
			return dval{tag: tagCallDataSizeCmp}
		}
	}
	r, _ := FoldBinary(op, a.c, b.c)
	return dval{c: r}
}
