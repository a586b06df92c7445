package evmasm

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract is assembled fixture bytecode together with the handler offset of
// each function signature it dispatches.
type Contract struct {
	Code     []byte
	Handlers map[string]uint64
}

// Hex returns the code as 0x-prefixed hex.
func (c *Contract) Hex() string { return "0x" + common.Bytes2Hex(c.Code) }

// Selector returns the 4-byte selector of a canonical signature.
func Selector(sig string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(sig))[:4])
	return out
}

var addressMask = common.FromHex("ffffffffffffffffffffffffffffffffffffffff")

// ERC20 signatures in dispatch order.
var ERC20Signatures = []string{
	"totalSupply()",
	"transfer(address,uint256)",
	"balanceOf(address)",
	"approve(address,uint256)",
	"transferFrom(address,address,uint256)",
	"allowance(address,address)",
}

const (
	slotBalances   = 0
	slotAllowances = 1
	slotSupply     = 2
	slotWETH       = 3
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// freeMemory emits the solc free memory pointer preamble.
func (p *Program) freeMemory() *Program {
	return p.Push(0x80).Push(0x40).Op(vm.MSTORE)
}

// returnWord returns the word on top of the stack, abi-encoded at the free
// memory pointer.
func (p *Program) returnWord() *Program {
	return p.Push(0x40).Op(vm.MLOAD, vm.SWAP1, vm.DUP2, vm.MSTORE).Push(0x20).Op(vm.SWAP1, vm.RETURN)
}

// returnTrue returns an abi-encoded true.
func (p *Program) returnTrue() *Program {
	return p.Push(1).Op(vm.ISZERO, vm.ISZERO).returnWord()
}

// revert0 emits revert(0, 0).
func (p *Program) revert0() *Program {
	return p.Push(0).Op(vm.DUP1, vm.REVERT)
}

// mappingSlot hashes the key on top of the stack with slot, leaving the
// storage slot of mapping[key].
func (p *Program) mappingSlot(slot uint64) *Program {
	return p.Push(0).Op(vm.MSTORE).Push(slot).Push(0x20).Op(vm.MSTORE).Push(0x40).Push(0).Op(vm.KECCAK256)
}

// nestedSlot expects [outerKey, innerKey] (inner on top) and leaves the slot
// of mapping[outerKey][innerKey].
func (p *Program) nestedSlot(slot uint64) *Program {
	return p.Op(vm.SWAP1).mappingSlot(slot).Push(0x20).Op(vm.MSTORE).
		Push(0).Op(vm.MSTORE).Push(0x40).Push(0).Op(vm.KECCAK256)
}

// loadAddress loads the calldata word at off masked to 160 bits.
func (p *Program) loadAddress(off uint64) *Program {
	return p.Push(off).Op(vm.CALLDATALOAD).PushBytes(addressMask).Op(vm.AND)
}

// argCheck reverts unless calldatasize - 4 >= n.
func (p *Program) argCheck(label string, n uint64) *Program {
	return p.Push(n).Push(4).Op(vm.CALLDATASIZE, vm.SUB, vm.SLT, vm.ISZERO).JumpI(label).revert0().Label(label)
}

// dispatch emits a linear selector chain. The selector must be on top of the
// stack; misses fall through.
func (p *Program) dispatch(sigs []string, labels []string) *Program {
	for i, sig := range sigs {
		sel := Selector(sig)
		p.Op(vm.DUP1).PushBytes(sel[:]).Op(vm.EQ).JumpI(labels[i])
	}
	return p
}

// loadSelector pushes calldataload(0) >> 224.
func (p *Program) loadSelector() *Program {
	return p.Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR)
}

// subFromSlot expects [amount, slot] and stores slot -= amount, reverting to
// fail when the balance is too low. It leaves [amount].
func (p *Program) subFromSlot(fail string) *Program {
	return p.Op(vm.DUP1, vm.SLOAD).
		Op(vm.DUP3, vm.DUP2, vm.LT).JumpI(fail).
		Op(vm.DUP3, vm.SWAP1, vm.SUB, vm.SWAP1, vm.SSTORE)
}

// addToSlot expects [amount, slot] and stores slot += amount, leaving
// [amount].
func (p *Program) addToSlot() *Program {
	return p.Op(vm.DUP1, vm.SLOAD, vm.DUP3, vm.ADD, vm.SWAP1, vm.SSTORE)
}

// ERC20 assembles a nonpayable token in the shape solc emits: a contract
// wide CALLVALUE guard, a CALLDATASIZE check and a SHR selector chain.
func ERC20() *Contract {
	labels := []string{"totalSupply", "transfer", "balanceOf", "approve", "transferFrom", "allowance"}
	p := New().freeMemory()
	p.Op(vm.CALLVALUE, vm.DUP1, vm.ISZERO).JumpI("nonpayable").revert0()
	p.Label("nonpayable").Op(vm.POP)
	p.Push(4).Op(vm.CALLDATASIZE, vm.LT).JumpI("fallback")
	p.loadSelector().dispatch(ERC20Signatures, labels)
	p.Label("fallback").revert0()

	// totalSupply() returns (uint256)
	p.Label("totalSupply").Op(vm.POP).Push(slotSupply).Op(vm.SLOAD).returnWord()

	// transfer(address to, uint256 amount) returns (bool)
	p.Label("transfer").Op(vm.POP).argCheck("transfer_args", 0x40)
	p.loadAddress(4).Push(0x24).Op(vm.CALLDATALOAD) // [to, amount]
	p.Op(vm.CALLER).mappingSlot(slotBalances).subFromSlot("transfer_fail")
	p.Op(vm.DUP2).mappingSlot(slotBalances).addToSlot()
	p.Op(vm.DUP1).Push(0x40).Op(vm.MLOAD, vm.MSTORE)
	p.Op(vm.DUP2, vm.CALLER).PushBytes(transferTopic[:]).Push(0x20).Push(0x40).Op(vm.MLOAD, vm.LOG3)
	p.Op(vm.POP, vm.POP).returnTrue()
	p.Label("transfer_fail").revert0()

	// balanceOf(address owner) returns (uint256)
	p.Label("balanceOf").Op(vm.POP).argCheck("balanceOf_args", 0x20)
	p.loadAddress(4).mappingSlot(slotBalances).Op(vm.SLOAD).returnWord()

	// approve(address spender, uint256 amount) returns (bool)
	p.Label("approve").Op(vm.POP).argCheck("approve_args", 0x40)
	p.loadAddress(4).Push(0x24).Op(vm.CALLDATALOAD) // [spender, amount]
	p.Op(vm.CALLER, vm.DUP3).nestedSlot(slotAllowances).Op(vm.SSTORE)
	p.Op(vm.POP).returnTrue()

	// transferFrom(address from, address to, uint256 amount) returns (bool)
	p.Label("transferFrom").Op(vm.POP).argCheck("transferFrom_args", 0x60)
	p.loadAddress(4).loadAddress(0x24).Push(0x44).Op(vm.CALLDATALOAD) // [from, to, amount]
	p.Op(vm.DUP3, vm.CALLER).nestedSlot(slotAllowances).subFromSlot("transferFrom_fail")
	p.Op(vm.DUP3).mappingSlot(slotBalances).subFromSlot("transferFrom_fail")
	p.Op(vm.DUP2).mappingSlot(slotBalances).addToSlot()
	p.Op(vm.POP, vm.POP, vm.POP).returnTrue()
	p.Label("transferFrom_fail").revert0()

	// allowance(address owner, address spender) returns (uint256)
	p.Label("allowance").Op(vm.POP).argCheck("allowance_args", 0x40)
	p.loadAddress(4).loadAddress(0x24).nestedSlot(slotAllowances).Op(vm.SLOAD).returnWord()

	return build(p, ERC20Signatures, labels)
}

// WETHSignatures are the functions of the wrapped native token fixture.
var WETHSignatures = []string{"deposit()", "withdraw(uint256)", "balanceOf(address)"}

// WETH assembles a wrapped native token: deposit and the fallback accept
// value, withdraw is guarded and sends value back to the caller.
func WETH() *Contract {
	labels := []string{"deposit", "withdraw", "balanceOf"}
	p := New().freeMemory()
	p.Push(4).Op(vm.CALLDATASIZE, vm.LT).JumpI("fallback")
	p.loadSelector().dispatch(WETHSignatures, labels)
	p.Label("fallback").Jump("deposit_body")

	p.Label("deposit").Op(vm.POP)
	p.Label("deposit_body")
	p.Op(vm.CALLVALUE, vm.CALLER).mappingSlot(slotWETH).addToSlot()
	p.Op(vm.CALLVALUE).Push(0x40).Op(vm.MLOAD, vm.MSTORE)
	p.Op(vm.CALLER).PushBytes(crypto.Keccak256([]byte("Deposit(address,uint256)"))).
		Push(0x20).Push(0x40).Op(vm.MLOAD, vm.LOG2)
	p.Op(vm.POP, vm.STOP)

	p.Label("withdraw").Op(vm.POP)
	p.Op(vm.CALLVALUE, vm.DUP1, vm.ISZERO).JumpI("withdraw_nonpayable").revert0()
	p.Label("withdraw_nonpayable").Op(vm.POP).argCheck("withdraw_args", 0x20)
	p.Push(4).Op(vm.CALLDATALOAD) // [wad]
	p.Op(vm.CALLER).mappingSlot(slotWETH).subFromSlot("withdraw_fail")
	p.Push(0).Op(vm.DUP1, vm.DUP1, vm.DUP1, vm.DUP5, vm.CALLER, vm.GAS, vm.CALL)
	p.Op(vm.ISZERO).JumpI("withdraw_fail").Op(vm.POP, vm.STOP)
	p.Label("withdraw_fail").revert0()

	p.Label("balanceOf").Op(vm.POP)
	p.Op(vm.CALLVALUE, vm.DUP1, vm.ISZERO).JumpI("balanceOf_nonpayable").revert0()
	p.Label("balanceOf_nonpayable").Op(vm.POP)
	p.loadAddress(4).mappingSlot(slotWETH).Op(vm.SLOAD).returnWord()

	return build(p, WETHSignatures, labels)
}

// Dispatcher assembles a contract routing each signature to a handler that
// returns its own JUMPDEST offset as a uint256. With more than four
// signatures the table is split on the median selector the way solc does.
func Dispatcher(sigs []string) *Contract {
	sorted := append([]string(nil), sigs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := Selector(sorted[i]), Selector(sorted[j])
		return string(a[:]) < string(b[:])
	})
	labels := make([]string, len(sorted))
	for i := range sorted {
		labels[i] = "fn_" + sorted[i]
	}
	p := New().freeMemory()
	p.Push(4).Op(vm.CALLDATASIZE, vm.LT).JumpI("fallback")
	p.loadSelector()
	if len(sorted) > 4 {
		mid := len(sorted) / 2
		pivot := Selector(sorted[mid])
		p.Op(vm.DUP1).PushBytes(pivot[:]).Op(vm.GT).JumpI("lower")
		p.dispatch(sorted[mid:], labels[mid:]).Jump("fallback")
		p.Label("lower").dispatch(sorted[:mid], labels[:mid])
	} else {
		p.dispatch(sorted, labels)
	}
	p.Label("fallback").revert0()
	for _, l := range labels {
		p.Label(l).Op(vm.PC).Push(1).Op(vm.SWAP1, vm.SUB).Push(0).Op(vm.MSTORE).Push(0x20).Push(0).Op(vm.RETURN)
	}
	return build(p, sorted, labels)
}

// FallbackOnly assembles a contract without a dispatcher that accepts any
// call.
func FallbackOnly() *Contract {
	p := New().freeMemory().Op(vm.CALLER).Push(0).Op(vm.SSTORE, vm.STOP)
	return &Contract{Code: p.Bytes(), Handlers: map[string]uint64{}}
}

// Looping assembles a contract whose only function spins forever, once
// unconditionally and once on a calldata-dependent branch.
func Looping() *Contract {
	sigs := []string{"spin()", "spinWhile(uint256)"}
	labels := []string{"spin", "spinWhile"}
	p := New().freeMemory()
	p.Push(4).Op(vm.CALLDATASIZE, vm.LT).JumpI("fallback")
	p.loadSelector().dispatch(sigs, labels)
	p.Label("fallback").revert0()
	p.Label("spin").Jump("spin")
	p.Label("spinWhile").Push(4).Op(vm.CALLDATALOAD).Push(1).Op(vm.ADD).Push(4).Op(vm.CALLDATALOAD, vm.GT).JumpI("spinWhile").Op(vm.STOP)
	return build(p, sigs, labels)
}

func build(p *Program, sigs, labels []string) *Contract {
	c := &Contract{Code: p.Bytes(), Handlers: make(map[string]uint64, len(sigs))}
	for i, sig := range sigs {
		c.Handlers[sig] = p.Offset(labels[i])
	}
	return c
}
