package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/internal/evmasm"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestDecompileCommandJSON(t *testing.T) {
	out := run(t, "decompile", "--skip-resolving", "--json", evmasm.ERC20().Hex())
	parsed, err := abi.FromJSON([]byte(out))
	require.NoError(t, err)
	require.Len(t, parsed.Functions, len(evmasm.ERC20Signatures))
	for _, f := range parsed.Functions {
		require.True(t, strings.HasPrefix(f.Name, abi.UnresolvedPrefix), f.Name)
	}
}

func TestSelectorsAndDisasmCommands(t *testing.T) {
	c := evmasm.WETH()
	out := run(t, "selectors", c.Hex())
	for _, sig := range evmasm.WETHSignatures {
		sel := evmasm.Selector(sig)
		require.Contains(t, out, hexutil.Encode(sel[:]))
	}

	out = run(t, "disasm", "--log-level", "error", "0x6001600101")
	require.Contains(t, out, "00000: PUSH1 0x01")
	require.Contains(t, out, "00004: ADD")

	out = run(t, "cfg", "6003565b00")
	require.True(t, strings.HasPrefix(out, "digraph"), out)
}
