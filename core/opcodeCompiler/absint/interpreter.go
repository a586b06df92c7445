package absint

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
)

// stackLimit is the EVM operand stack depth.
const stackLimit = 1024

// ctxCheckInterval is how many steps run between context polls.
const ctxCheckInterval = 1024

// memLimit bounds addresses the abstract memory tracks. Larger concrete
// offsets would exhaust gas on chain and are treated as unknown.
const memLimit = 1 << 32

// Bounds limits the exploration of one function.
type Bounds struct {
	// MaxSteps caps executed instructions across all paths.
	MaxSteps int `yaml:"max_steps"`
	// MaxPaths caps the number of explored paths.
	MaxPaths int `yaml:"max_paths"`
	// MaxBlockVisits caps how often one path may enter the same block.
	MaxBlockVisits int `yaml:"max_block_visits"`
}

// DefaultBounds returns the exploration limits used when none are configured.
func DefaultBounds() Bounds {
	return Bounds{MaxSteps: 100_000, MaxPaths: 256, MaxBlockVisits: 4}
}

// Normalize replaces non-positive fields with their defaults.
func (b Bounds) Normalize() Bounds {
	d := DefaultBounds()
	if b.MaxSteps <= 0 {
		b.MaxSteps = d.MaxSteps
	}
	if b.MaxPaths <= 0 {
		b.MaxPaths = d.MaxPaths
	}
	if b.MaxBlockVisits <= 0 {
		b.MaxBlockVisits = d.MaxBlockVisits
	}
	return b
}

// Request describes the function to analyse.
type Request struct {
	// Entry is the first block of the function body.
	Entry uint64
	// Selector is the calldata prefix the dispatcher routes to Entry.
	Selector    [4]byte
	HasSelector bool
	// EmptyCalldata analyses a plain value transfer.
	EmptyCalldata bool
	// ValueGuarded tells a body-only run that the dispatcher already required
	// CALLVALUE to be zero.
	ValueGuarded bool
}

// freeMemoryPrologue is the solc "mstore(0x40, 0x80)" preamble.
var freeMemoryPrologue = []byte{0x60, 0x80, 0x60, 0x40, 0x52}

// Analyze explores the function at req.Entry within bounds and returns the
// gathered evidence. It never fails: exhausted bounds or a cancelled ctx mark
// the trace Truncated.
//
// When a selector (or empty calldata) is given, execution starts at the
// contract entry with that calldata so the dispatcher and any shared prelude
// run concretely. Evidence is only collected once a path reaches req.Entry.
// If none does, the body is analysed on its own.
func Analyze(ctx context.Context, cfg *compiler.CFG, req Request, bounds Bounds) *Trace {
	bounds = bounds.Normalize()
	if (req.HasSelector || req.EmptyCalldata) && req.Entry != cfg.Entry() {
		it := newInterpreter(ctx, cfg, req, bounds)
		it.push(it.initial(cfg.Entry(), false))
		it.run()
		if it.trace.ViaPrelude {
			return it.finish(req)
		}
		log.Debug("Prelude did not reach function body", "entry", req.Entry, "steps", it.trace.Steps)
	}
	it := newInterpreter(ctx, cfg, req, bounds)
	it.trace.GuardSeen = req.ValueGuarded
	st := it.initial(req.Entry, true)
	st.valueZero = req.ValueGuarded
	if bytes.HasPrefix(cfg.Code(), freeMemoryPrologue) {
		st.mem.Store(0x40, ConcreteUint64(0x80))
	}
	it.push(st)
	it.run()
	return it.finish(req)
}

// finish fills in the static write check for truncated traces.
func (it *interpreter) finish(req Request) *Trace {
	if it.trace.Truncated {
		it.trace.MayWriteState = mayWriteState(it.cfg, req.Entry)
	}
	return it.trace
}

type state struct {
	pc     uint64
	stack  []Value
	mem    *Memory
	store  *Storage
	visits map[uint64]int

	// valueZero and valueNonZero record a constraint on CALLVALUE taken on
	// this path.
	valueZero    bool
	valueNonZero bool
	inBody       bool
}

func (s *state) fork(pc uint64) *state {
	out := &state{
		pc:           pc,
		stack:        append(make([]Value, 0, len(s.stack)+8), s.stack...),
		mem:          s.mem.Clone(),
		store:        s.store.Clone(),
		visits:       make(map[uint64]int, len(s.visits)),
		valueZero:    s.valueZero,
		valueNonZero: s.valueNonZero,
		inBody:       s.inBody,
	}
	for k, v := range s.visits {
		out.visits[k] = v
	}
	return out
}

func (s *state) pop() Value {
	if len(s.stack) == 0 {
		// Below the function's own frame: values left by the caller.
		return Unknown()
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

func (s *state) popN(n int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = s.pop()
	}
	return out
}

// push reports false on stack overflow.
func (s *state) push(v Value) bool {
	if len(s.stack) >= stackLimit {
		return false
	}
	s.stack = append(s.stack, v)
	return true
}

// ensure pads the bottom of the stack with unknowns so that at least n
// items are present.
func (s *state) ensure(n int) {
	if missing := n - len(s.stack); missing > 0 {
		pad := make([]Value, missing, missing+len(s.stack))
		s.stack = append(pad, s.stack...)
	}
}

type interpreter struct {
	ctx    context.Context
	cfg    *compiler.CFG
	req    Request
	bounds Bounds
	trace  *Trace
	index  map[accessKey]int
	work   []*state

	selectorWord Value
	stopped      bool
}

func newInterpreter(ctx context.Context, cfg *compiler.CFG, req Request, bounds Bounds) *interpreter {
	it := &interpreter{
		ctx:    ctx,
		cfg:    cfg,
		req:    req,
		bounds: bounds,
		trace:  &Trace{},
		index:  make(map[accessKey]int),
	}
	if req.HasSelector {
		word := make([]byte, 32)
		copy(word, req.Selector[:])
		it.selectorWord = Concrete(new(uint256.Int).SetBytes(word))
		it.selectorWord.Flags = FlagSelectorWord
	}
	return it
}

func (it *interpreter) initial(pc uint64, inBody bool) *state {
	it.trace.Paths = 1
	return &state{
		pc:     pc,
		stack:  make([]Value, 0, 64),
		mem:    NewMemory(),
		store:  NewStorage(),
		visits: make(map[uint64]int),
		inBody: inBody,
	}
}

func (it *interpreter) push(s *state) { it.work = append(it.work, s) }

func (it *interpreter) run() {
	for len(it.work) > 0 && !it.stopped {
		s := it.work[len(it.work)-1]
		it.work = it.work[:len(it.work)-1]
		it.exec(s)
	}
	if len(it.work) > 0 {
		it.trace.Truncated = true
	}
}

// step charges one instruction and reports whether exploration may go on.
func (it *interpreter) step() bool {
	if it.stopped {
		return false
	}
	it.trace.Steps++
	if it.trace.Steps > it.bounds.MaxSteps {
		it.trace.Truncated = true
		it.stopped = true
		return false
	}
	if it.trace.Steps%ctxCheckInterval == 0 && it.ctx.Err() != nil {
		it.trace.Truncated = true
		it.stopped = true
		return false
	}
	return true
}

// exec runs one path block by block until it exits or forks.
func (it *interpreter) exec(s *state) {
	for {
		if s.pc == it.req.Entry && !s.inBody {
			s.inBody = true
			it.trace.ViaPrelude = true
			if s.valueZero {
				it.trace.GuardSeen = true
			}
		}
		b := it.cfg.BlockAt(s.pc)
		if b == nil {
			if s.pc >= uint64(len(it.cfg.Code())) {
				// Running off the end of code is an implicit STOP.
				it.exit(s, Exit{Kind: ExitStop, At: s.pc})
			} else {
				it.exit(s, Exit{Kind: ExitInvalid, At: s.pc})
			}
			return
		}
		s.visits[s.pc]++
		if s.visits[s.pc] > it.bounds.MaxBlockVisits {
			it.trace.LoopCutoffs++
			return
		}
		for _, in := range b.Instructions() {
			if !it.step() {
				return
			}
			if !it.exec1(s, b, in) {
				return
			}
		}
		s.pc = b.End()
	}
}

// exec1 applies one instruction. It returns false when the path ended or
// was replaced by its forks.
func (it *interpreter) exec1(s *state, b *compiler.BasicBlock, in compiler.Instruction) bool {
	op := in.Op
	switch {
	case op.IsPush():
		return it.pushOrFail(s, Concrete(in.Value()), in)
	case op == compiler.PUSH0:
		return it.pushOrFail(s, ConcreteUint64(0), in)
	case op.IsDup():
		n := int(op-compiler.DUP1) + 1
		s.ensure(n)
		return it.pushOrFail(s, s.stack[len(s.stack)-n], in)
	case op.IsSwap():
		n := int(op-compiler.SWAP1) + 1
		s.ensure(n + 1)
		top := len(s.stack) - 1
		s.stack[top], s.stack[top-n] = s.stack[top-n], s.stack[top]
		return true
	case op == compiler.JUMP:
		it.jump(s, b, s.pop(), in)
		return false
	case op == compiler.JUMPI:
		target, cond := s.pop(), s.pop()
		it.jumpi(s, b, target, cond, in)
		return false
	case op == compiler.STOP:
		it.exit(s, Exit{Kind: ExitStop, At: in.Offset})
		return false
	case op == compiler.RETURN:
		off, size := s.pop(), s.pop()
		it.exit(s, Exit{Kind: ExitReturn, At: in.Offset, Shape: it.returnShape(s, off, size)})
		return false
	case op == compiler.REVERT:
		s.popN(2)
		it.exit(s, Exit{Kind: ExitRevert, At: in.Offset})
		return false
	case op == compiler.SELFDESTRUCT:
		s.pop()
		if s.inBody {
			it.trace.MutatingCall = true
			it.trace.ValueTransfer = true
		}
		it.exit(s, Exit{Kind: ExitSelfDestruct, At: in.Offset})
		return false
	case op == compiler.INVALID || !op.IsDefined():
		it.exit(s, Exit{Kind: ExitInvalid, At: in.Offset})
		return false
	}
	v, push := it.transfer(s, in)
	if !push {
		return true
	}
	return it.pushOrFail(s, v, in)
}

func (it *interpreter) pushOrFail(s *state, v Value, in compiler.Instruction) bool {
	if s.push(v) {
		return true
	}
	it.exit(s, Exit{Kind: ExitInvalid, At: in.Offset})
	return false
}

func (it *interpreter) exit(s *state, e Exit) {
	if !s.inBody {
		return
	}
	e.Guarded = s.valueZero
	it.trace.Exits = append(it.trace.Exits, e)
}

// jumpTargets returns where a jump to target may land. An invalid concrete
// target yields ok=false; an unknown one falls back to the edges the CFG
// resolved for the block.
func (it *interpreter) jumpTargets(b *compiler.BasicBlock, target Value) (pcs []uint64, ok bool) {
	if pc, isConst := target.Uint64(); isConst {
		if !it.cfg.IsJumpDest(pc) {
			return nil, false
		}
		return []uint64{pc}, true
	}
	if target.IsConcrete() {
		return nil, false
	}
	for _, e := range b.Successors() {
		if e.Kind == compiler.EdgeJump {
			pcs = append(pcs, e.Target)
		}
	}
	if len(pcs) == 0 {
		it.trace.addUnresolvedJump(b.LastPC())
	}
	return pcs, true
}

func (it *interpreter) jump(s *state, b *compiler.BasicBlock, target Value, in compiler.Instruction) {
	pcs, ok := it.jumpTargets(b, target)
	if !ok {
		it.exit(s, Exit{Kind: ExitInvalid, At: in.Offset})
		return
	}
	it.branch(s, pcs)
}

func (it *interpreter) jumpi(s *state, b *compiler.BasicBlock, target, cond Value, in compiler.Instruction) {
	next := in.Next()
	if cond.IsConcrete() {
		if cond.U.IsZero() {
			it.branch(s, []uint64{next})
			return
		}
		it.jump(s, b, target, in)
		return
	}
	if cond.Has(FlagCallValue) {
		// cond is CALLVALUE under Neg ISZEROs: it is non-zero exactly when
		// the value is non-zero and Neg is even.
		even := cond.Neg%2 == 0
		if s.valueZero || s.valueNonZero {
			if s.valueNonZero == even {
				it.jump(s, b, target, in)
			} else {
				it.branch(s, []uint64{next})
			}
			return
		}
		if s.inBody {
			it.trace.GuardSeen = true
		}
		pcs, ok := it.jumpTargets(b, target)
		taken := s.fork(0)
		taken.valueNonZero, taken.valueZero = even, !even
		s.valueNonZero, s.valueZero = !even, even
		if !ok {
			it.exit(taken, Exit{Kind: ExitInvalid, At: in.Offset})
			it.branch(s, []uint64{next})
			return
		}
		it.forkTo(append(fanOut(taken, pcs), withPC(s, next)))
		return
	}
	pcs, ok := it.jumpTargets(b, target)
	if !ok {
		it.exit(s.fork(0), Exit{Kind: ExitInvalid, At: in.Offset})
		it.branch(s, []uint64{next})
		return
	}
	it.branch(s, append(pcs, next))
}

// branch continues s at each pc, the first one preferred.
func (it *interpreter) branch(s *state, pcs []uint64) {
	if len(pcs) == 0 {
		return
	}
	it.forkTo(fanOut(s, pcs))
}

func fanOut(s *state, pcs []uint64) []*state {
	out := make([]*state, len(pcs))
	for i, pc := range pcs {
		if i == len(pcs)-1 {
			out[i] = withPC(s, pc)
		} else {
			out[i] = s.fork(pc)
		}
	}
	return out
}

func withPC(s *state, pc uint64) *state {
	s.pc = pc
	return s
}

// forkTo schedules states, charging every state past the first as a new
// path. Once MaxPaths is reached only the first is kept.
func (it *interpreter) forkTo(states []*state) {
	if extra := len(states) - 1; extra > 0 {
		if it.trace.Paths+extra > it.bounds.MaxPaths {
			it.trace.Truncated = true
			states = states[:1]
		} else {
			it.trace.Paths += extra
		}
	}
	for i := len(states) - 1; i >= 0; i-- {
		it.push(states[i])
	}
}

// returnShape captures the memory a RETURN copies out.
func (it *interpreter) returnShape(s *state, off, size Value) ReturnShape {
	o, okOff := memAddr(off)
	n, okSize := memAddr(size)
	switch {
	case okOff && okSize:
		shape := ReturnShape{Known: true, Size: n}
		if n > 0 {
			shape.Words = s.mem.Region(o, n)
		}
		if s.inBody {
			for _, w := range shape.Words {
				it.note(w, EvReturned)
			}
		}
		return shape
	case okOff:
		return ReturnShape{Head: s.mem.Load(o)}
	}
	return ReturnShape{}
}

func memAddr(v Value) (uint64, bool) {
	x, ok := v.Uint64()
	if !ok || x >= memLimit {
		return 0, false
	}
	return x, true
}
