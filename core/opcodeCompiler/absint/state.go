package absint

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// maxTrackedCopy bounds how many words a single copy writes into the
// abstract memory.
const maxTrackedCopy = 256

// Memory is word-addressed abstract memory. Absent words read as Unknown;
// only exact-address loads see a stored word.
type Memory struct {
	words map[uint64]Value
}

func NewMemory() *Memory {
	return &Memory{words: make(map[uint64]Value)}
}

func (m *Memory) Clone() *Memory {
	out := &Memory{words: make(map[uint64]Value, len(m.words))}
	for k, v := range m.words {
		out.words[k] = v
	}
	return out
}

// Load returns the word stored exactly at addr.
func (m *Memory) Load(addr uint64) Value {
	if m == nil {
		return Unknown()
	}
	if v, ok := m.words[addr]; ok {
		return v
	}
	return Unknown()
}

// Store writes a word at addr and drops words it overlaps.
func (m *Memory) Store(addr uint64, v Value) {
	if m == nil {
		return
	}
	m.Invalidate(satSub(addr, 31), addr+32)
	m.words[addr] = v
}

// Store8 writes one byte. The byte is not modelled; words covering it are
// dropped.
func (m *Memory) Store8(addr uint64) {
	m.Invalidate(satSub(addr, 31), addr+1)
}

// Invalidate drops every word starting in [from, to).
func (m *Memory) Invalidate(from, to uint64) {
	if m == nil || to <= from {
		return
	}
	if to-from > uint64(len(m.words))*2 {
		for k := range m.words {
			if k >= from && k < to {
				delete(m.words, k)
			}
		}
		return
	}
	for a := from; a < to; a++ {
		delete(m.words, a)
	}
}

// Region returns the words covering [addr, addr+size) at 32-byte steps.
func (m *Memory) Region(addr, size uint64) []Value {
	n := (size + 31) / 32
	if n > maxTrackedCopy {
		n = maxTrackedCopy
	}
	out := make([]Value, n)
	for i := uint64(0); i < n; i++ {
		out[i] = m.Load(addr + 32*i)
	}
	return out
}

// CopyBytes writes concrete bytes at addr, for CODECOPY of static data.
func (m *Memory) CopyBytes(addr uint64, data []byte) {
	m.Invalidate(satSub(addr, 31), addr+uint64(len(data)))
	for i := 0; i < len(data) && i/32 < maxTrackedCopy; i += 32 {
		word := common.RightPadBytes(data[i:min(i+32, len(data))], 32)
		m.words[addr+uint64(i)] = Concrete(new(uint256.Int).SetBytes(word))
	}
}

// Hash returns keccak256 of the region when every word in it is concrete.
func (m *Memory) Hash(addr, size uint64) (Value, bool) {
	if size%32 != 0 || size == 0 || size/32 > maxTrackedCopy {
		return Unknown(), false
	}
	buf := make([]byte, 0, size)
	for i := uint64(0); i < size; i += 32 {
		w := m.Load(addr + i)
		if w.Kind != KindConcrete {
			return Unknown(), false
		}
		b := w.U.Bytes32()
		buf = append(buf, b[:]...)
	}
	return Concrete(new(uint256.Int).SetBytes(crypto.Keccak256(buf))), true
}

// Storage is abstract contract storage keyed by concrete slot.
type Storage struct {
	slots map[uint256.Int]Value
}

func NewStorage() *Storage {
	return &Storage{slots: make(map[uint256.Int]Value)}
}

func (s *Storage) Clone() *Storage {
	out := &Storage{slots: make(map[uint256.Int]Value, len(s.slots))}
	for k, v := range s.slots {
		out.slots[k] = v
	}
	return out
}

// Load returns the value written earlier on this path, or Unknown.
func (s *Storage) Load(slot Value) Value {
	if s == nil || slot.Kind != KindConcrete {
		return Unknown()
	}
	if v, ok := s.slots[slot.U]; ok {
		return v
	}
	return Unknown()
}

// Store records a write. A write to an unknown slot may alias anything, so
// it forgets every tracked slot.
func (s *Storage) Store(slot, v Value) {
	if s == nil {
		return
	}
	if slot.Kind != KindConcrete {
		clear(s.slots)
		return
	}
	s.slots[slot.U] = v
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
