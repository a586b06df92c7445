package compiler

import (
	"encoding/hex"
	"testing"
)

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	return b
}

func mustParseCFG(t *testing.T, codeHex string) *CFG {
	t.Helper()
	return BuildCFG(mustDecodeHex(t, codeHex))
}

func mustBlockAt(t *testing.T, cfg *CFG, pc uint64) *BasicBlock {
	t.Helper()
	b := cfg.Block(pc)
	if b == nil {
		t.Fatalf("expected reachable block at pc=%d, got nil", pc)
	}
	return b
}

func childPCs(b *BasicBlock) map[uint64]bool {
	out := make(map[uint64]bool)
	for _, ch := range b.Children() {
		out[ch.Start()] = true
	}
	return out
}

func parentPCs(b *BasicBlock) map[uint64]bool {
	out := make(map[uint64]bool)
	for _, p := range b.Parents() {
		out[p.Start()] = true
	}
	return out
}

func TestCFGEdges_JUMPIHasTwoEdges(t *testing.T) {
	// PUSH1 1; PUSH1 0x0a; JUMPI;
	// fallthrough: PUSH1 0x11; PUSH1 0x10; JUMP;
	// taken:       JUMPDEST; PUSH1 0x22; PUSH1 0x10; JUMP;
	// merge:       JUMPDEST; POP; STOP
	cfg := mustParseCFG(t, "6001600a5760116010565b60226010565b5000")

	entry := mustBlockAt(t, cfg, 0)
	got := childPCs(entry)
	if len(got) != 2 || !got[5] || !got[10] {
		t.Fatalf("entry children = %v, want {5, 10}", got)
	}
	succs := entry.Successors()
	if len(succs) != 2 || succs[0] != (Edge{Kind: EdgeJump, Target: 10}) || succs[1] != (Edge{Kind: EdgeFallthrough, Target: 5}) {
		t.Fatalf("entry successors = %v", succs)
	}

	merge := mustBlockAt(t, cfg, 16)
	parents := parentPCs(merge)
	if len(parents) != 2 || !parents[5] || !parents[10] {
		t.Fatalf("merge parents = %v, want {5, 10}", parents)
	}
	if ps := merge.Parents(); ps[0].Start() != 5 || ps[1].Start() != 10 {
		t.Fatalf("parents not ordered by start offset")
	}
	if n := len(cfg.Blocks()); n != 4 {
		t.Fatalf("reachable blocks = %d, want 4", n)
	}
}

func TestCFGEdges_FallthroughSplitsAtJumpdest(t *testing.T) {
	// PUSH1 1; PUSH1 2; JUMPDEST; STOP
	cfg := mustParseCFG(t, "600160025b00")

	entry := mustBlockAt(t, cfg, 0)
	if entry.LastPC() != 2 || entry.End() != 4 {
		t.Fatalf("entry spans %d..%d, want 2..4", entry.LastPC(), entry.End())
	}
	succs := entry.Successors()
	if len(succs) != 1 || succs[0] != (Edge{Kind: EdgeFallthrough, Target: 4}) {
		t.Fatalf("entry successors = %v", succs)
	}
	dest := mustBlockAt(t, cfg, 4)
	if len(dest.Successors()) != 0 {
		t.Fatalf("STOP block has successors %v", dest.Successors())
	}
	if !parentPCs(dest)[0] {
		t.Fatalf("jumpdest block missing parent 0")
	}
}

func TestCFGEdges_JUMPTerminatesBlock(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST; STOP
	cfg := mustParseCFG(t, "6003565b00")

	entry := mustBlockAt(t, cfg, 0)
	if entry.Size() != 2 {
		t.Fatalf("entry size = %d, want 2", entry.Size())
	}
	succs := entry.Successors()
	if len(succs) != 1 || succs[0] != (Edge{Kind: EdgeJump, Target: 3}) {
		t.Fatalf("entry successors = %v", succs)
	}
	if entry.UnresolvedJump() {
		t.Fatalf("constant jump reported unresolved")
	}
}

func TestCFGEdges_JumpIntoPushDataIsUnknown(t *testing.T) {
	// PUSH1 4; JUMP; PUSH1 0x5b; STOP. Offset 4 holds 0x5b as push data.
	cfg := mustParseCFG(t, "600456605b00")

	if cfg.IsJumpDest(4) {
		t.Fatalf("push data treated as JUMPDEST")
	}
	entry := mustBlockAt(t, cfg, 0)
	if !entry.UnresolvedJump() {
		t.Fatalf("jump into push data should be unresolved")
	}
	if got := cfg.UnresolvedJumps(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("unresolved jumps = %v, want [2]", got)
	}
}

func TestCFGUnreachableBlocks(t *testing.T) {
	// STOP; JUMPDEST; STOP
	cfg := mustParseCFG(t, "005b00")
	if cfg.Block(1) != nil {
		t.Fatalf("unreachable block returned by Block")
	}
	if cfg.BlockAt(1) == nil {
		t.Fatalf("linear partition missing block at 1")
	}
	if n := len(cfg.Blocks()); n != 1 {
		t.Fatalf("reachable blocks = %d, want 1", n)
	}

	empty := BuildCFG(nil)
	if empty.BlockAt(0) != nil || len(empty.Blocks()) != 0 {
		t.Fatalf("empty code produced blocks")
	}
}
