package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Metadata is the CBOR trailer solc and vyper append to runtime code.
type Metadata struct {
	IPFS         []byte `cbor:"ipfs,omitempty"`
	Bzzr0        []byte `cbor:"bzzr0,omitempty"`
	Bzzr1        []byte `cbor:"bzzr1,omitempty"`
	Experimental bool   `cbor:"experimental,omitempty"`

	RawCompiler cbor.RawMessage `cbor:"solc,omitempty"`
	Vyper       []uint          `cbor:"vyper,omitempty"`

	// Compiler is the decoded compiler version, e.g. "0.8.19".
	Compiler string `cbor:"-"`
	// Size is the trailer length including the two length bytes.
	Size int `cbor:"-"`
}

// SplitMetadata separates a trailing CBOR metadata section from code. It
// returns the code unchanged and a nil Metadata when no trailer is found.
func SplitMetadata(code []byte) ([]byte, *Metadata) {
	if len(code) < 2 {
		return code, nil
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	if n == 0 || n+2 > len(code) {
		return code, nil
	}
	raw := code[len(code)-2-n : len(code)-2]
	md := new(Metadata)
	if err := cbor.Unmarshal(raw, md); err != nil {
		return code, nil
	}
	if md.IPFS == nil && md.Bzzr0 == nil && md.Bzzr1 == nil && md.RawCompiler == nil && md.Vyper == nil {
		return code, nil
	}
	md.Size = n + 2
	md.Compiler = md.compilerVersion()
	return code[:len(code)-md.Size], md
}

func (md *Metadata) compilerVersion() string {
	if len(md.Vyper) == 3 {
		return fmt.Sprintf("vyper %d.%d.%d", md.Vyper[0], md.Vyper[1], md.Vyper[2])
	}
	if md.RawCompiler == nil {
		return ""
	}
	// Releases encode the version as three bytes, prereleases as a string.
	var b []byte
	if err := cbor.Unmarshal(md.RawCompiler, &b); err == nil && len(b) == 3 {
		return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2])
	}
	var s string
	if err := cbor.Unmarshal(md.RawCompiler, &s); err == nil {
		return s
	}
	return ""
}
