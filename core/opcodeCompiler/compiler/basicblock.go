package compiler

// EdgeKind tags a control-flow edge.
type EdgeKind uint8

const (
	// EdgeFallthrough continues at the instruction after the block.
	EdgeFallthrough EdgeKind = iota
	// EdgeJump is a JUMP/JUMPI whose target was resolved.
	EdgeJump
	// EdgeUnknown is a jump whose target could not be determined statically.
	EdgeUnknown
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFallthrough:
		return "fallthrough"
	case EdgeJump:
		return "jump"
	default:
		return "unknown"
	}
}

// Edge is a successor reference. Target is meaningless for EdgeUnknown.
type Edge struct {
	Kind   EdgeKind
	Target uint64
}

// bitmap is a bit map which maps basicblock in to a bit
type bitmap []byte

func (bits *bitmap) ensure(pos uint64) {
	need := int(pos/8) + 1
	if need <= len(*bits) {
		return
	}
	*bits = append(*bits, make([]byte, need-len(*bits))...)
}

func (bits *bitmap) set1(pos uint64) {
	bits.ensure(pos)
	(*bits)[pos/8] |= 1 << (pos % 8)
}

func (bits *bitmap) isBitSet(pos uint64) bool {
	idx := int(pos / 8)
	if idx >= len(*bits) {
		return false
	}
	return (((*bits)[idx] >> (pos % 8)) & 1) == 1
}

// BasicBlock is a maximal straight-line run of instructions. Its start offset
// is its identity within a CFG.
type BasicBlock struct {
	blockNum      uint
	instrs        []Instruction
	succs         []Edge
	parentsBitmap *bitmap
	parents       []*BasicBlock
	children      []*BasicBlock
	// unresolvedJump marks a JUMP/JUMPI whose target did not fold to a constant.
	unresolvedJump bool
	reachable      bool
	summary        *blockSummary
}

func newBasicBlock(blockNum uint, instrs []Instruction) *BasicBlock {
	return &BasicBlock{
		blockNum:      blockNum,
		instrs:        instrs,
		parentsBitmap: &bitmap{},
	}
}

// BlockNum is the block's index in prescan order.
func (b *BasicBlock) BlockNum() uint { return b.blockNum }

// Start is the offset of the first instruction.
func (b *BasicBlock) Start() uint64 { return b.instrs[0].Offset }

// LastPC is the offset of the last instruction.
func (b *BasicBlock) LastPC() uint64 { return b.instrs[len(b.instrs)-1].Offset }

// End is the offset just past the block.
func (b *BasicBlock) End() uint64 { return b.instrs[len(b.instrs)-1].Next() }

// Instructions returns the block's instructions in order.
func (b *BasicBlock) Instructions() []Instruction { return b.instrs }

// Terminator returns the last instruction.
func (b *BasicBlock) Terminator() Instruction { return b.instrs[len(b.instrs)-1] }

// Successors returns the outgoing edges. JUMPI blocks list jump edges before
// the fallthrough.
func (b *BasicBlock) Successors() []Edge { return b.succs }

// Parents returns the reachable predecessors.
func (b *BasicBlock) Parents() []*BasicBlock { return b.parents }

// Children returns the resolved successors.
func (b *BasicBlock) Children() []*BasicBlock { return b.children }

// UnresolvedJump reports whether the block ends in a jump with an unknown target.
func (b *BasicBlock) UnresolvedJump() bool { return b.unresolvedJump }

// Size is the number of instructions.
func (b *BasicBlock) Size() int { return len(b.instrs) }

func (b *BasicBlock) hasEdge(e Edge) bool {
	for _, s := range b.succs {
		if s == e {
			return true
		}
	}
	return false
}

func (b *BasicBlock) addParent(parent *BasicBlock) {
	if b.parentsBitmap.isBitSet(uint64(parent.blockNum)) {
		return
	}
	b.parentsBitmap.set1(uint64(parent.blockNum))
	b.parents = append(b.parents, parent)
}
