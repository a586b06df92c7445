// Package resolver maps function selectors to text signatures. Resolution
// only labels results; every failure degrades to an unresolved name.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotFound is returned when no source knows the selector.
	ErrNotFound = errors.New("selector not found")
	// ErrUnavailable is returned when a source could not be queried.
	ErrUnavailable = errors.New("resolver unavailable")
)

// Signature is a resolved text signature such as "transfer(address,uint256)".
type Signature struct {
	Selector [4]byte
	Text     string
}

// Name returns the function name part of the signature.
func (s Signature) Name() string {
	if i := strings.IndexByte(s.Text, '('); i >= 0 {
		return s.Text[:i]
	}
	return s.Text
}

// Resolver looks up one selector.
type Resolver interface {
	Resolve(ctx context.Context, selector [4]byte) (Signature, error)
}

// Selector computes the 4-byte selector of a text signature.
func Selector(text string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(text))[:4])
	return sel
}

// Matches reports whether text hashes to selector.
func Matches(text string, selector [4]byte) bool {
	return Selector(text) == selector
}

// Chain tries resolvers in order. ErrNotFound from one moves on to the
// next; the first success wins. When every resolver fails and at least one
// was unavailable, the result is ErrUnavailable.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, selector [4]byte) (Signature, error) {
	var unavailable error
	for _, r := range c {
		sig, err := r.Resolve(ctx, selector)
		if err == nil {
			return sig, nil
		}
		if ctx.Err() != nil {
			return Signature{}, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) && unavailable == nil {
			unavailable = err
		}
	}
	if unavailable != nil {
		return Signature{}, unavailable
	}
	return Signature{}, ErrNotFound
}

// Table is a fixed in-memory signature set.
type Table map[[4]byte]string

// NewTable indexes the given text signatures by selector.
func NewTable(signatures ...string) Table {
	t := make(Table, len(signatures))
	for _, s := range signatures {
		sel := Selector(s)
		if _, ok := t[sel]; !ok {
			t[sel] = s
		}
	}
	return t
}

func (t Table) Resolve(_ context.Context, selector [4]byte) (Signature, error) {
	if s, ok := t[selector]; ok {
		return Signature{Selector: selector, Text: s}, nil
	}
	return Signature{}, ErrNotFound
}

// commonSignatures covers the token and ownership interfaces most deployed
// contracts implement.
var commonSignatures = []string{
	// ERC-20
	"totalSupply()",
	"balanceOf(address)",
	"transfer(address,uint256)",
	"transferFrom(address,address,uint256)",
	"approve(address,uint256)",
	"allowance(address,address)",
	"name()",
	"symbol()",
	"decimals()",
	"increaseAllowance(address,uint256)",
	"decreaseAllowance(address,uint256)",
	"permit(address,address,uint256,uint256,uint8,bytes32,bytes32)",
	"nonces(address)",
	"DOMAIN_SEPARATOR()",
	// WETH
	"deposit()",
	"withdraw(uint256)",
	// ERC-721
	"ownerOf(uint256)",
	"safeTransferFrom(address,address,uint256)",
	"safeTransferFrom(address,address,uint256,bytes)",
	"setApprovalForAll(address,bool)",
	"getApproved(uint256)",
	"isApprovedForAll(address,address)",
	"tokenURI(uint256)",
	"supportsInterface(bytes4)",
	// Ownable
	"owner()",
	"renounceOwnership()",
	"transferOwnership(address)",
	// Misc
	"mint(address,uint256)",
	"burn(uint256)",
	"pause()",
	"unpause()",
	"paused()",
	"implementation()",
}

// Builtin returns the table of well-known signatures.
func Builtin() Table {
	return NewTable(commonSignatures...)
}
