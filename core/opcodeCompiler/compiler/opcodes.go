package compiler

import (
	"github.com/ethereum/go-ethereum/core/vm"
)

// ByteCode is a raw EVM opcode byte.
type ByteCode byte

// 0x0 range - arithmetic ops.
const (
	STOP ByteCode = iota
	ADD
	MUL
	SUB
	DIV
	SDIV
	MOD
	SMOD
	ADDMOD
	MULMOD
	EXP
	SIGNEXTEND
)

// 0x10 range - comparison ops.
const (
	LT ByteCode = iota + 0x10
	GT
	SLT
	SGT
	EQ
	ISZERO
	AND
	OR
	XOR
	NOT
	BYTE
	SHL
	SHR
	SAR
)

const KECCAK256 ByteCode = 0x20

// 0x30 range - closure state.
const (
	ADDRESS ByteCode = iota + 0x30
	BALANCE
	ORIGIN
	CALLER
	CALLVALUE
	CALLDATALOAD
	CALLDATASIZE
	CALLDATACOPY
	CODESIZE
	CODECOPY
	GASPRICE
	EXTCODESIZE
	EXTCODECOPY
	RETURNDATASIZE
	RETURNDATACOPY
	EXTCODEHASH
)

// 0x40 range - block operations.
const (
	BLOCKHASH ByteCode = iota + 0x40
	COINBASE
	TIMESTAMP
	NUMBER
	PREVRANDAO
	GASLIMIT
	CHAINID
	SELFBALANCE
	BASEFEE
	BLOBHASH
	BLOBBASEFEE
)

// 0x50 range - storage and execution.
const (
	POP ByteCode = iota + 0x50
	MLOAD
	MSTORE
	MSTORE8
	SLOAD
	SSTORE
	JUMP
	JUMPI
	PC
	MSIZE
	GAS
	JUMPDEST
	TLOAD
	TSTORE
	MCOPY
	PUSH0
)

const (
	PUSH1  ByteCode = 0x60
	PUSH2  ByteCode = 0x61
	PUSH4  ByteCode = 0x63
	PUSH20 ByteCode = 0x73
	PUSH29 ByteCode = 0x7c
	PUSH32 ByteCode = 0x7f

	DUP1   ByteCode = 0x80
	DUP16  ByteCode = 0x8f
	SWAP1  ByteCode = 0x90
	SWAP16 ByteCode = 0x9f

	LOG0 ByteCode = 0xa0
	LOG4 ByteCode = 0xa4
)

// 0xf0 range - closures.
const (
	CREATE       ByteCode = 0xf0
	CALL         ByteCode = 0xf1
	CALLCODE     ByteCode = 0xf2
	RETURN       ByteCode = 0xf3
	DELEGATECALL ByteCode = 0xf4
	CREATE2      ByteCode = 0xf5
	STATICCALL   ByteCode = 0xfa
	REVERT       ByteCode = 0xfd
	INVALID      ByteCode = 0xfe
	SELFDESTRUCT ByteCode = 0xff
)

// stackEffect is the number of items an opcode pops and pushes.
type stackEffect struct {
	pops, pushes int
	defined      bool
}

var effects [256]stackEffect

func init() {
	set := func(op ByteCode, pops, pushes int) {
		effects[op] = stackEffect{pops: pops, pushes: pushes, defined: true}
	}
	set(STOP, 0, 0)
	for op := ADD; op <= SIGNEXTEND; op++ {
		set(op, 2, 1)
	}
	set(ADDMOD, 3, 1)
	set(MULMOD, 3, 1)
	for op := LT; op <= SAR; op++ {
		set(op, 2, 1)
	}
	set(ISZERO, 1, 1)
	set(NOT, 1, 1)
	set(KECCAK256, 2, 1)

	for _, op := range []ByteCode{ADDRESS, ORIGIN, CALLER, CALLVALUE, CALLDATASIZE, CODESIZE, GASPRICE, RETURNDATASIZE} {
		set(op, 0, 1)
	}
	for _, op := range []ByteCode{BALANCE, CALLDATALOAD, EXTCODESIZE, EXTCODEHASH} {
		set(op, 1, 1)
	}
	set(CALLDATACOPY, 3, 0)
	set(CODECOPY, 3, 0)
	set(RETURNDATACOPY, 3, 0)
	set(EXTCODECOPY, 4, 0)

	set(BLOCKHASH, 1, 1)
	set(BLOBHASH, 1, 1)
	for op := COINBASE; op <= BASEFEE; op++ {
		set(op, 0, 1)
	}
	set(BLOBBASEFEE, 0, 1)

	set(POP, 1, 0)
	set(MLOAD, 1, 1)
	set(MSTORE, 2, 0)
	set(MSTORE8, 2, 0)
	set(SLOAD, 1, 1)
	set(SSTORE, 2, 0)
	set(JUMP, 1, 0)
	set(JUMPI, 2, 0)
	set(PC, 0, 1)
	set(MSIZE, 0, 1)
	set(GAS, 0, 1)
	set(JUMPDEST, 0, 0)
	set(TLOAD, 1, 1)
	set(TSTORE, 2, 0)
	set(MCOPY, 3, 0)
	set(PUSH0, 0, 1)
	for op := PUSH1; op <= PUSH32; op++ {
		set(op, 0, 1)
	}
	for i := 0; i < 16; i++ {
		set(DUP1+ByteCode(i), i+1, i+2)
		set(SWAP1+ByteCode(i), i+2, i+2)
	}
	for i := 0; i <= 4; i++ {
		set(LOG0+ByteCode(i), i+2, 0)
	}

	set(CREATE, 3, 1)
	set(CALL, 7, 1)
	set(CALLCODE, 7, 1)
	set(RETURN, 2, 0)
	set(DELEGATECALL, 6, 1)
	set(CREATE2, 4, 1)
	set(STATICCALL, 6, 1)
	set(REVERT, 2, 0)
	set(INVALID, 0, 0)
	set(SELFDESTRUCT, 1, 0)
}

// String returns the mnemonic as printed by go-ethereum.
func (op ByteCode) String() string {
	return vm.OpCode(op).String()
}

// IsDefined reports whether op is part of the instruction set.
func (op ByteCode) IsDefined() bool {
	return effects[op].defined
}

// StackEffect returns how many items op pops and pushes.
func (op ByteCode) StackEffect() (pops, pushes int) {
	e := effects[op]
	return e.pops, e.pushes
}

// IsPush reports whether op is PUSH0..PUSH32.
func (op ByteCode) IsPush() bool {
	return op >= PUSH0 && op <= PUSH32
}

// PushSize is the immediate width of a push opcode, zero for anything else.
func (op ByteCode) PushSize() int {
	if op >= PUSH1 && op <= PUSH32 {
		return int(op-PUSH1) + 1
	}
	return 0
}

// IsDup reports whether op is DUP1..DUP16.
func (op ByteCode) IsDup() bool { return op >= DUP1 && op <= DUP16 }

// IsSwap reports whether op is SWAP1..SWAP16.
func (op ByteCode) IsSwap() bool { return op >= SWAP1 && op <= SWAP16 }

// IsLog reports whether op is LOG0..LOG4.
func (op ByteCode) IsLog() bool { return op >= LOG0 && op <= LOG4 }

// IsJump reports whether op is JUMP or JUMPI.
func (op ByteCode) IsJump() bool { return op == JUMP || op == JUMPI }

// IsHalt reports whether op ends execution of the frame. Undefined opcodes
// halt exceptionally and are treated like INVALID.
func (op ByteCode) IsHalt() bool {
	switch op {
	case STOP, RETURN, REVERT, INVALID, SELFDESTRUCT:
		return true
	}
	return !op.IsDefined()
}

// EndsBlock reports whether a basic block closes after op.
func (op ByteCode) EndsBlock() bool {
	return op.IsJump() || op.IsHalt()
}
