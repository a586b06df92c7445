package compiler

import (
	"sort"

	"github.com/holiman/uint256"
)

const (
	// backfillBudget bounds how many predecessor levels are searched when a
	// jump target arrives on the block's entry stack.
	backfillBudget = 8
	// maxBackfillRounds bounds the resolve/rediscover fixpoint.
	maxBackfillRounds = 16
	// maxJumpTargets caps the targets a single entry-stack jump may fan out to.
	maxJumpTargets = 64
)

// CFG is the control-flow graph of one contract. Blocks are keyed by their
// start offset, so revisiting a block during traversal is a map lookup.
type CFG struct {
	rawCode   []byte
	instrs    []Instruction
	entry     uint64
	blocks    map[uint64]*BasicBlock
	jumpDests bitmap
	order     []uint64
	unknown   []uint64
}

// BuildCFG decodes code and recovers its control-flow graph.
func BuildCFG(code []byte) *CFG {
	c := Build(Decode(code))
	c.rawCode = code
	return c
}

// Build partitions decoded instructions into basic blocks and links the ones
// reachable from offset 0. Jumps whose target cannot be folded get an
// EdgeUnknown successor instead of failing the build.
func Build(instrs []Instruction) *CFG {
	c := &CFG{
		instrs: instrs,
		blocks: make(map[uint64]*BasicBlock),
	}
	c.preScanBlocks()
	if len(c.blocks) == 0 {
		return c
	}
	c.discover([]uint64{c.entry})
	c.backfill()
	c.finalize()
	return c
}

// preScanBlocks splits the instruction stream. Block starts are offset 0,
// JUMPDESTs, and instructions immediately following terminators or branches.
func (c *CFG) preScanBlocks() {
	if len(c.instrs) == 0 {
		return
	}
	starts := make([]int, 0, len(c.instrs)/8+1)
	for i, in := range c.instrs {
		switch {
		case i == 0:
			starts = append(starts, i)
		case in.Op == JUMPDEST:
			starts = append(starts, i)
		case c.instrs[i-1].Op.EndsBlock():
			starts = append(starts, i)
		}
		if in.Op == JUMPDEST {
			c.jumpDests.set1(in.Offset)
		}
	}
	for n, s := range starts {
		end := len(c.instrs)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		bb := newBasicBlock(uint(n), c.instrs[s:end])
		bb.summary = summarize(bb)
		c.blocks[bb.Start()] = bb
	}
}

// discover runs the reachability worklist from the given starts.
func (c *CFG) discover(queue []uint64) {
	for len(queue) > 0 {
		pc := queue[0]
		queue = queue[1:]
		b, ok := c.blocks[pc]
		if !ok || b.reachable {
			continue
		}
		b.reachable = true
		c.linkStatic(b)
		for _, e := range b.succs {
			if e.Kind == EdgeUnknown {
				continue
			}
			child := c.blocks[e.Target]
			child.addParent(b)
			b.children = append(b.children, child)
			if !child.reachable {
				queue = append(queue, e.Target)
			}
		}
	}
}

// linkStatic fills the successor edges that do not depend on predecessors.
func (c *CFG) linkStatic(b *BasicBlock) {
	term := b.Terminator()
	switch {
	case term.Op.IsJump():
		if t := b.summary.target; t.c != nil && t.c.IsUint64() && c.IsJumpDest(t.c.Uint64()) {
			b.succs = append(b.succs, Edge{Kind: EdgeJump, Target: t.c.Uint64()})
		} else {
			b.unresolvedJump = true
			b.succs = append(b.succs, Edge{Kind: EdgeUnknown})
		}
		if term.Op == JUMPI {
			if _, ok := c.blocks[term.Next()]; ok {
				b.succs = append(b.succs, Edge{Kind: EdgeFallthrough, Target: term.Next()})
			}
		}
	case term.Op.IsHalt():
	default:
		if _, ok := c.blocks[term.Next()]; ok {
			b.succs = append(b.succs, Edge{Kind: EdgeFallthrough, Target: term.Next()})
		}
	}
}

// backfill resolves jumps whose target is pushed by a predecessor, the
// return-address idiom of internal calls. Newly reached blocks can add
// predecessors to earlier jumps, so this iterates to a bounded fixpoint.
func (c *CFG) backfill() {
	for round := 0; round < maxBackfillRounds; round++ {
		var fresh []uint64
		for _, pc := range c.reachableStarts() {
			b := c.blocks[pc]
			if b.summary.target.entry < 0 || !b.Terminator().Op.IsJump() {
				continue
			}
			targets, ok := c.entryJumpTargets(b)
			if !ok {
				continue
			}
			added := false
			for _, t := range targets {
				e := Edge{Kind: EdgeJump, Target: t}
				if b.hasEdge(e) {
					continue
				}
				b.succs = append(b.succs, e)
				added = true
				child := c.blocks[t]
				child.addParent(b)
				b.children = append(b.children, child)
				if !child.reachable {
					fresh = append(fresh, t)
				}
			}
			if added || b.unresolvedJump {
				b.unresolvedJump = false
				b.dropUnknownEdge()
			}
		}
		if len(fresh) == 0 {
			return
		}
		c.discover(fresh)
	}
}

func (b *BasicBlock) dropUnknownEdge() {
	kept := b.succs[:0]
	for _, e := range b.succs {
		if e.Kind != EdgeUnknown {
			kept = append(kept, e)
		}
	}
	// Jump edges before the fallthrough.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Kind == EdgeJump && kept[j].Kind != EdgeJump
	})
	b.succs = kept
}

// entryJumpTargets evaluates the entry-stack slot holding b's jump target in
// every predecessor. It fails if any path yields a non-constant.
func (c *CFG) entryJumpTargets(b *BasicBlock) ([]uint64, bool) {
	set := make(map[uint64]struct{})
	if !c.collectSlot(b, b.summary.target.entry, backfillBudget, set) {
		return nil, false
	}
	out := make([]uint64, 0, len(set))
	for t := range set {
		if c.IsJumpDest(t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, true
}

func (c *CFG) collectSlot(b *BasicBlock, k int, budget int, out map[uint64]struct{}) bool {
	if budget <= 0 || len(b.parents) == 0 {
		return false
	}
	for _, p := range b.parents {
		v := p.summary.slot(k)
		switch {
		case v.c != nil:
			if !v.c.IsUint64() {
				return false
			}
			out[v.c.Uint64()] = struct{}{}
			if len(out) > maxJumpTargets {
				return false
			}
		case v.entry >= 0:
			if !c.collectSlot(p, v.entry, budget-1, out) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (c *CFG) reachableStarts() []uint64 {
	out := make([]uint64, 0, len(c.blocks))
	for pc, b := range c.blocks {
		if b.reachable {
			out = append(out, pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *CFG) finalize() {
	c.order = c.reachableStarts()
	c.unknown = c.unknown[:0]
	for _, pc := range c.order {
		b := c.blocks[pc]
		if b.unresolvedJump {
			c.unknown = append(c.unknown, b.LastPC())
		}
		sort.Slice(b.parents, func(i, j int) bool { return b.parents[i].Start() < b.parents[j].Start() })
	}
}

// Entry is the offset execution starts at.
func (c *CFG) Entry() uint64 { return c.entry }

// Code returns the bytecode the graph was built from, if known.
func (c *CFG) Code() []byte { return c.rawCode }

// Instructions returns every decoded instruction, reachable or not.
func (c *CFG) Instructions() []Instruction { return c.instrs }

// Blocks returns the blocks reachable from entry ordered by start offset.
func (c *CFG) Blocks() []*BasicBlock {
	out := make([]*BasicBlock, len(c.order))
	for i, pc := range c.order {
		out[i] = c.blocks[pc]
	}
	return out
}

// Block returns the reachable block starting at pc.
func (c *CFG) Block(pc uint64) *BasicBlock {
	if b, ok := c.blocks[pc]; ok && b.reachable {
		return b
	}
	return nil
}

// BlockAt returns the block starting at pc from the linear partition, whether
// or not it was reached from entry. Analyses that resolve more jumps than the
// static pass use it to continue into blocks the graph did not link.
func (c *CFG) BlockAt(pc uint64) *BasicBlock {
	return c.blocks[pc]
}

// IsJumpDest reports whether pc holds a JUMPDEST opcode (not push data).
func (c *CFG) IsJumpDest(pc uint64) bool {
	return c.jumpDests.isBitSet(pc)
}

// UnresolvedJumps returns the offsets of reachable jumps with unknown targets.
func (c *CFG) UnresolvedJumps() []uint64 {
	return append([]uint64(nil), c.unknown...)
}

// symVal is a value tracked while summarizing one block: a constant, a
// reference to the block's entry stack (0 = top), or unknown.
type symVal struct {
	c     *uint256.Int
	entry int
}

func unknownSym() symVal { return symVal{entry: -1} }

type blockSummary struct {
	exit     []symVal
	consumed int
	target   symVal
}

// slot returns the k-th exit stack item from the top.
func (s *blockSummary) slot(k int) symVal {
	if k < len(s.exit) {
		return s.exit[len(s.exit)-1-k]
	}
	return symVal{entry: k - len(s.exit) + s.consumed}
}

// summarize folds constants through the block and records where its jump
// target comes from and what it leaves on the stack.
func summarize(b *BasicBlock) *blockSummary {
	s := &blockSummary{target: unknownSym()}
	var stack []symVal
	need := func(n int) {
		for len(stack) < n {
			stack = append([]symVal{{entry: s.consumed}}, stack...)
			s.consumed++
		}
	}
	pop := func() symVal {
		need(1)
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	for _, in := range b.instrs {
		op := in.Op
		switch {
		case op.IsPush():
			if op == PUSH0 {
				stack = append(stack, symVal{c: new(uint256.Int), entry: -1})
			} else {
				stack = append(stack, symVal{c: in.Value(), entry: -1})
			}
		case op.IsDup():
			n := int(op-DUP1) + 1
			need(n)
			stack = append(stack, stack[len(stack)-n])
		case op.IsSwap():
			n := int(op-SWAP1) + 1
			need(n + 1)
			top := len(stack) - 1
			stack[top], stack[top-n] = stack[top-n], stack[top]
		case op == PC:
			stack = append(stack, symVal{c: uint256.NewInt(in.Offset), entry: -1})
		case op == JUMP:
			s.target = pop()
		case op == JUMPI:
			s.target = pop()
			pop()
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
				if folded != nil {
					stack = append(stack, symVal{c: folded, entry: -1})
				} else {
					stack = append(stack, unknownSym())
				}
			}
		}
	}
	s.exit = stack
	return s
}
