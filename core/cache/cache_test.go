package cache_test

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/core/cache"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

var (
	resolved   = cache.Mode{}
	unresolved = cache.Mode{SkipResolving: true}
)

func sample() *abi.DecompiledABI {
	return &abi.DecompiledABI{
		Functions: []abi.FunctionABI{{
			Name:            "Unresolved_a9059cbb",
			Selector:        [4]byte{0xa9, 0x05, 0x9c, 0xbb},
			Inputs:          []abi.Param{{Name: "arg0", Type: "address", InternalType: "address"}, {Name: "arg1", Type: "uint256", Position: 1, InternalType: "uint256"}},
			Outputs:         []abi.Param{{Type: "bool", InternalType: "bool"}},
			StateMutability: abi.MutabilityNonPayable,
			Diagnostics:     []abi.Diagnostic{{Kind: abi.DiagUnresolvedJump, Offset: 0x1f}},
		}},
		Fallback: &abi.Special{Payable: true, StateMutability: abi.MutabilityPayable},
		Compiler: "0.8.19",
	}
}

func TestKey(t *testing.T) {
	sum := blake3.Sum256([]byte("6080"))
	want := hex.EncodeToString(sum[:]) + hex.EncodeToString([]byte("_resolved"))

	require.Equal(t, want, hex.EncodeToString(cache.Key("0x6080", resolved)))
	require.Equal(t, cache.Key("0x6080", resolved), cache.Key("6080", resolved))
	require.NotEqual(t, cache.Key("6080", resolved), cache.Key("6080", unresolved))
	require.Equal(t, "_unresolved", string(cache.Key("6080", unresolved)[32:]))
}

func TestKeyBounds(t *testing.T) {
	// Explicit defaults share the key of zero bounds.
	require.Equal(t, cache.Key("6080", resolved), cache.Key("6080", cache.Mode{Bounds: absint.DefaultBounds()}))

	small := cache.Mode{Bounds: absint.Bounds{MaxSteps: 5}}
	require.NotEqual(t, cache.Key("6080", resolved), cache.Key("6080", small))
	d := absint.DefaultBounds()
	require.Equal(t, fmt.Sprintf("_resolved_5_%d_%d", d.MaxPaths, d.MaxBlockVisits), string(cache.Key("6080", small)[32:]))
}

func TestCacheRoundTrip(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	got, ok, err := c.Get("0x6080", unresolved)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)

	want := sample()
	require.NoError(t, c.Put("0x6080", unresolved, want))
	require.True(t, c.Has("6080", unresolved))
	require.False(t, c.Has("6080", resolved))

	got, ok, err = c.Get("6080", unresolved)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	require.Equal(t, cache.Stats{Hits: 2, Misses: 2, Writes: 1}, c.Stats())
}

func TestCacheBatchInMemory(t *testing.T) {
	c, err := cache.Open("")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutBatch([]cache.Entry{
		{Hex: "0x01", Mode: unresolved, ABI: sample()},
		{Hex: "0x02", Mode: resolved, ABI: &abi.DecompiledABI{}},
	}))
	require.True(t, c.Has("01", unresolved))
	require.True(t, c.Has("02", resolved))
	require.EqualValues(t, 2, c.Stats().Writes)
}
