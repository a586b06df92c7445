package main

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/cache"
	"github.com/jalbrekt85/heimdall-go/core/decompiler"
	"github.com/jalbrekt85/heimdall-go/internal/evmasm"
)

func TestReadContracts(t *testing.T) {
	in := strings.Join([]string{
		"# tokens",
		"",
		"weth, " + strings.ToUpper(evmasm.WETH().Hex()[2:]),
		evmasm.ERC20().Hex(),
	}, "\n")
	got, err := readContracts(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "weth", got[0].Label)
	require.Equal(t, evmasm.WETH().Hex(), got[0].Hex)
	require.Equal(t, "line 4", got[1].Label)
	require.Equal(t, evmasm.ERC20().Hex(), got[1].Hex)
}

func TestBuilderRun(t *testing.T) {
	c, err := cache.Open("")
	require.NoError(t, err)
	defer c.Close()

	contracts := []contract{
		{Label: "erc20", Hex: evmasm.ERC20().Hex()},
		{Label: "weth", Hex: evmasm.WETH().Hex()},
		{Label: "empty", Hex: "0x"},
	}
	var ticks atomic.Int32
	b := &builder{
		cache:    c,
		opts:     decompiler.Options{SkipResolving: true},
		workers:  2,
		timeout:  time.Minute,
		progress: func() { ticks.Add(1) },
	}
	sum, err := b.run(context.Background(), contracts)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Decompiled)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 0, sum.Skipped)
	require.Equal(t, len(evmasm.ERC20Signatures)+len(evmasm.WETHSignatures), sum.Functions)
	require.EqualValues(t, 3, ticks.Load())
	require.EqualValues(t, 2, c.Stats().Writes)

	// Cached entries are skipped and readable through the decompiler.
	sum, err = b.run(context.Background(), contracts[:2])
	require.NoError(t, err)
	require.Equal(t, 2, sum.Skipped)
	require.Equal(t, 0, sum.Decompiled)

	out, ok, err := c.Get(evmasm.ERC20().Hex(), cache.Mode{SkipResolving: true})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, out.Functions, len(evmasm.ERC20Signatures))
}
