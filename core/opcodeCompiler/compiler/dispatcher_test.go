package compiler

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/internal/evmasm"
)

func dispatchOf(code []byte) (*CFG, *DispatchTable) {
	cfg := BuildCFG(code)
	return cfg, ExtractDispatch(cfg)
}

func opAt(cfg *CFG, pc uint64) ByteCode {
	for _, in := range cfg.Instructions() {
		if in.Offset == pc {
			return in.Op
		}
	}
	return INVALID
}

func TestExtractDispatchERC20(t *testing.T) {
	c := evmasm.ERC20()
	cfg, table := dispatchOf(c.Code)

	require.Len(t, table.Entries, len(evmasm.ERC20Signatures))
	require.Empty(t, table.Duplicates)
	require.Empty(t, table.Unrecognized)
	require.False(t, table.Truncated)
	for i, sig := range evmasm.ERC20Signatures {
		e := table.Entries[i]
		require.Equal(t, evmasm.Selector(sig), e.Selector, sig)
		require.Equal(t, c.Handlers[sig], e.Target, sig)
		require.True(t, e.ValueGuarded, "contract wide CALLVALUE guard covers %s", sig)
		require.Equal(t, EQ, opAt(cfg, e.CompareAt), sig)
		require.NotNil(t, cfg.BlockAt(e.CompareBlock))
		if i > 0 {
			require.Greater(t, e.CompareAt, table.Entries[i-1].CompareAt)
		}
	}

	e, ok := table.Lookup(evmasm.Selector("balanceOf(address)"))
	require.True(t, ok)
	require.Equal(t, "0x70a08231", e.SelectorHex())
	_, ok = table.Lookup([4]byte{1, 2, 3, 4})
	require.False(t, ok)

	// The reverting fallback is found, no receive branch exists.
	require.True(t, table.HasFallback)
	require.False(t, table.HasReceive)
}

func TestExtractDispatchWETH(t *testing.T) {
	c := evmasm.WETH()
	_, table := dispatchOf(c.Code)

	require.Len(t, table.Entries, len(evmasm.WETHSignatures))
	for i, sig := range evmasm.WETHSignatures {
		require.Equal(t, evmasm.Selector(sig), table.Entries[i].Selector)
		require.Equal(t, c.Handlers[sig], table.Entries[i].Target)
		// withdraw checks CALLVALUE inside its body, not in the dispatcher.
		require.False(t, table.Entries[i].ValueGuarded, sig)
	}
	require.True(t, table.HasFallback)
}

func TestExtractDispatchSplitTable(t *testing.T) {
	sigs := []string{
		"a()", "b(uint256)", "c(address)", "d(bytes)", "e(bool)",
		"f(address,uint256)", "g()", "h(uint8)", "owner()", "name()",
	}
	c := evmasm.Dispatcher(sigs)
	_, table := dispatchOf(c.Code)

	require.Len(t, table.Entries, len(sigs))
	require.Empty(t, table.Unrecognized)
	seen := make(map[[4]byte]bool)
	for _, e := range table.Entries {
		require.False(t, seen[e.Selector], "selector %s listed twice", e.SelectorHex())
		seen[e.Selector] = true
	}
	for sig, pc := range c.Handlers {
		e, ok := table.Lookup(evmasm.Selector(sig))
		require.True(t, ok, sig)
		require.Equal(t, pc, e.Target, sig)
	}
}

func TestExtractDispatchFallbackOnly(t *testing.T) {
	_, table := dispatchOf(evmasm.FallbackOnly().Code)
	require.Empty(t, table.Entries)
	require.True(t, table.HasFallback)
	require.Equal(t, uint64(0), table.Fallback)
}

func TestExtractDispatchDuplicateSelector(t *testing.T) {
	sel := evmasm.Selector("transfer(address,uint256)")
	p := evmasm.New().
		Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR).
		Op(vm.DUP1).PushBytes(sel[:]).Op(vm.EQ).JumpI("first").
		Op(vm.DUP1).PushBytes(sel[:]).Op(vm.EQ).JumpI("second").
		Op(vm.STOP).
		Label("first").Op(vm.STOP).
		Label("second").Op(vm.STOP)
	_, table := dispatchOf(p.Bytes())

	require.Len(t, table.Entries, 1)
	require.Equal(t, p.Offset("first"), table.Entries[0].Target)
	require.Len(t, table.Duplicates, 1)
	require.Equal(t, p.Offset("second"), table.Duplicates[0].Target)
	require.Equal(t, sel, table.Duplicates[0].Selector)
}

func TestExtractDispatchUnrecognizedTarget(t *testing.T) {
	sel := evmasm.Selector("owner()")
	p := evmasm.New().
		Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR).
		Op(vm.DUP1).PushBytes(sel[:]).Op(vm.EQ).
		Push(0x24).Op(vm.CALLDATALOAD, vm.JUMPI).
		Op(vm.STOP)
	_, table := dispatchOf(p.Bytes())

	require.Empty(t, table.Entries)
	require.Len(t, table.Unrecognized, 1)
	require.Equal(t, "jump target not resolved", table.Unrecognized[0].Reason)
}

func TestExtractDispatchReceive(t *testing.T) {
	sel := evmasm.Selector("deposit()")
	p := evmasm.New().
		Op(vm.CALLDATASIZE, vm.ISZERO).JumpI("receive").
		Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR).
		Op(vm.DUP1).PushBytes(sel[:]).Op(vm.EQ).JumpI("deposit").
		Push(0).Op(vm.DUP1, vm.REVERT).
		Label("receive").Op(vm.STOP).
		Label("deposit").Op(vm.STOP)
	_, table := dispatchOf(p.Bytes())

	require.Len(t, table.Entries, 1)
	require.True(t, table.HasReceive)
	require.Equal(t, p.Offset("receive"), table.Receive)
}

// TestExtractDispatchXor covers the vyper form: XOR jumps away on a mismatch
// and falls through into the handler, ISZERO(XOR) jumps on a match.
func TestExtractDispatchXor(t *testing.T) {
	a, b := evmasm.Selector("owner()"), evmasm.Selector("setOwner(address)")
	p := evmasm.New().
		Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR).
		Op(vm.DUP1).PushBytes(a[:]).Op(vm.XOR).JumpI("next")
	ownerBody := uint64(p.Pos())
	p.Push(1).Push(0).Op(vm.MSTORE).Push(0x20).Push(0).Op(vm.RETURN).
		Label("next").Op(vm.DUP1).PushBytes(b[:]).Op(vm.XOR, vm.ISZERO).JumpI("setOwner").
		Push(0).Op(vm.DUP1, vm.REVERT).
		Label("setOwner").Op(vm.STOP)
	cfg, table := dispatchOf(p.Bytes())

	require.Empty(t, table.Unrecognized)
	require.Len(t, table.Entries, 2)
	require.Equal(t, a, table.Entries[0].Selector)
	require.Equal(t, ownerBody, table.Entries[0].Target)
	require.Equal(t, b, table.Entries[1].Selector)
	require.Equal(t, p.Offset("setOwner"), table.Entries[1].Target)
	for _, e := range table.Entries {
		require.Equal(t, XOR, opAt(cfg, e.CompareAt))
	}
}

func TestExtractDispatchEmpty(t *testing.T) {
	table := ExtractDispatch(BuildCFG(nil))
	require.Empty(t, table.Entries)
	require.False(t, table.HasFallback)
	require.False(t, table.Truncated)
}
