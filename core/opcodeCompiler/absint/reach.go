package absint

import "github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"

// mayWriteState reports whether any block reachable from entry contains an
// opcode that can change state. A reachable unresolved jump, or an entry the
// CFG never reached, counts as a possible write.
func mayWriteState(cfg *compiler.CFG, entry uint64) bool {
	start := cfg.Block(entry)
	if start == nil {
		return true
	}
	seen := map[uint64]bool{start.Start(): true}
	queue := []*compiler.BasicBlock{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if b.UnresolvedJump() {
			return true
		}
		for _, in := range b.Instructions() {
			if writesState(in.Op) {
				return true
			}
		}
		for _, c := range b.Children() {
			if !seen[c.Start()] {
				seen[c.Start()] = true
				queue = append(queue, c)
			}
		}
	}
	return false
}

func writesState(op compiler.ByteCode) bool {
	switch op {
	case compiler.SSTORE, compiler.TSTORE, compiler.CREATE, compiler.CREATE2,
		compiler.DELEGATECALL, compiler.CALLCODE, compiler.SELFDESTRUCT:
		return true
	}
	return false
}
