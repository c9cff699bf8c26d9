// Package store implements the bounded, type-partitioned register memory
// shared by every client handler and auto-increment worker: coils, discrete
// inputs, holding registers, and input registers.
package store

import (
	"fmt"
	"sync"
)

// Bank identifies which word bank an auto-increment tick targets.
type Bank int

const (
	BankHolding Bank = iota
	BankInput
)

// ErrOutOfRange is returned when a requested address range exceeds a bank's
// configured size. It maps to Modbus exception 0x02 (Illegal Data Address)
// at the protocol engine layer.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (Data Model)
var ErrOutOfRange = fmt.Errorf("store: address range out of bounds")

// Sizes fixes the four bank sizes at construction time. Sizes are immutable
// for the lifetime of a Store.
type Sizes struct {
	Coils           int
	DiscreteInputs  int
	HoldingRegisters int
	InputRegisters  int
}

// Store is a shared, bounded, type-partitioned register memory. All
// operations are serialized by a single RWMutex (writes exclusive, reads
// shared with other reads, so each operation is atomic): no store
// operation performs blocking I/O or calls back into caller code while the
// lock is held, which bounds critical-section length regardless of bank
// size.
//
// This generalizes the teacher's map-backed MemoryStore (unbounded,
// default-zero-on-miss, no size invariant) into fixed-size slices with an
// explicit out-of-range signal, per the register-store invariants.
type Store struct {
	mu sync.RWMutex

	coils           []byte // bit-packed, 8 coils per byte
	discreteInputs  []byte // bit-packed, 8 inputs per byte
	holdingRegisters []uint16
	inputRegisters  []uint16

	sizes Sizes
}

// New constructs a Store with the given bank sizes. Every word is 0 and
// every bit is 0 initially.
func New(sizes Sizes) *Store {
	return &Store{
		coils:            make([]byte, byteLen(sizes.Coils)),
		discreteInputs:   make([]byte, byteLen(sizes.DiscreteInputs)),
		holdingRegisters: make([]uint16, sizes.HoldingRegisters),
		inputRegisters:   make([]uint16, sizes.InputRegisters),
		sizes:            sizes,
	}
}

func byteLen(bits int) int {
	return (bits + 7) / 8
}

// Sizes returns the bank sizes fixed at construction.
func (s *Store) Sizes() Sizes {
	return s.sizes
}

func inRange(start, count, size int) bool {
	if count < 0 || start < 0 {
		return false
	}
	return start+count <= size
}

// ReadCoils returns ⌈count/8⌉ bit-packed bytes for coils [start, start+count).
// Bit i of the request occupies bit i%8 of byte i/8, low bit first.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils)
func (s *Store) ReadCoils(start, count int) ([]byte, error) {
	return s.readBits(s.coils, s.sizes.Coils, start, count)
}

// ReadDiscreteInputs returns bit-packed bytes for discrete inputs.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.2 (Read Discrete Inputs)
func (s *Store) ReadDiscreteInputs(start, count int) ([]byte, error) {
	return s.readBits(s.discreteInputs, s.sizes.DiscreteInputs, start, count)
}

func (s *Store) readBits(bank []byte, size, start, count int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inRange(start, count, size) {
		return nil, ErrOutOfRange
	}

	out := make([]byte, byteLen(count))
	for i := 0; i < count; i++ {
		addr := start + i
		if bitGet(bank, addr) {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

// ReadHoldingRegisters returns big-endian bytes for holding registers
// [start, start+count).
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers)
func (s *Store) ReadHoldingRegisters(start, count int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readWords(s.holdingRegisters, s.sizes.HoldingRegisters, start, count)
}

// ReadInputRegisters returns big-endian bytes for input registers.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers)
func (s *Store) ReadInputRegisters(start, count int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readWords(s.inputRegisters, s.sizes.InputRegisters, start, count)
}

func readWords(bank []uint16, size, start, count int) ([]byte, error) {
	if !inRange(start, count, size) {
		return nil, ErrOutOfRange
	}
	out := make([]byte, count*2)
	for i := 0; i < count; i++ {
		v := bank[start+i]
		out[i*2] = byte(v >> 8)
		out[i*2+1] = byte(v)
	}
	return out, nil
}

// WriteCoil sets a single coil.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
func (s *Store) WriteCoil(addr int, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRange(addr, 1, s.sizes.Coils) {
		return ErrOutOfRange
	}
	bitSet(s.coils, addr, value)
	return nil
}

// WriteRegister sets a single holding register.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.6 (Write Single Register)
func (s *Store) WriteRegister(addr int, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRange(addr, 1, s.sizes.HoldingRegisters) {
		return ErrOutOfRange
	}
	s.holdingRegisters[addr] = value
	return nil
}

// WriteCoils writes count coils starting at start from bit-packed data.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.11 (Write Multiple Coils)
func (s *Store) WriteCoils(start, count int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRange(start, count, s.sizes.Coils) {
		return ErrOutOfRange
	}
	for i := 0; i < count; i++ {
		bit := (data[i/8] >> uint(i%8)) & 0x01
		bitSet(s.coils, start+i, bit != 0)
	}
	return nil
}

// WriteRegisters writes count holding registers starting at start from
// big-endian data.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.12 (Write Multiple Registers)
func (s *Store) WriteRegisters(start, count int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRange(start, count, s.sizes.HoldingRegisters) {
		return ErrOutOfRange
	}
	for i := 0; i < count; i++ {
		s.holdingRegisters[start+i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return nil
}

// Increment advances every address in addrs within bank by inc, wrapping to
// zero when the current value is within inc of max. Out-of-range addresses
// are silently skipped: they are internally generated by configuration, not
// client-supplied, so there is no exception path to report through.
// One call is one critical section, so a reader never observes a
// half-applied tick.
//
// new = 0 if current >= max-inc else current+inc
func (s *Store) Increment(bank Bank, addrs []int, inc, max uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target []uint16
	var size int
	switch bank {
	case BankHolding:
		target, size = s.holdingRegisters, s.sizes.HoldingRegisters
	case BankInput:
		target, size = s.inputRegisters, s.sizes.InputRegisters
	default:
		return
	}

	threshold := max - inc // inc <= max is enforced at configuration time
	for _, a := range addrs {
		if a < 0 || a >= size {
			continue
		}
		if target[a] >= threshold {
			target[a] = 0
		} else {
			target[a] += inc
		}
	}
}

// GetHoldingRegister and GetInputRegister below are single-register
// accessors outside the Modbus request path; they bypass quantity limits
// since they are not client-facing Modbus operations.

// GetHoldingRegister returns a single holding register's current value.
func (s *Store) GetHoldingRegister(addr int) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if addr < 0 || addr >= s.sizes.HoldingRegisters {
		return 0, false
	}
	return s.holdingRegisters[addr], true
}

// GetInputRegister returns a single input register's current value.
func (s *Store) GetInputRegister(addr int) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if addr < 0 || addr >= s.sizes.InputRegisters {
		return 0, false
	}
	return s.inputRegisters[addr], true
}

// SetInputRegister directly sets an input register. Used for seeding demo
// data; the wire protocol never allows clients to write input registers.
func (s *Store) SetInputRegister(addr int, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr >= 0 && addr < s.sizes.InputRegisters {
		s.inputRegisters[addr] = value
	}
}

// Snapshot returns copies of all four banks for diagnostic use
// (internal/statusapi). It never exposes the internal slices directly.
type Snapshot struct {
	Coils           []bool
	DiscreteInputs  []bool
	HoldingRegisters []uint16
	InputRegisters  []uint16
}

// Snapshot copies the full contents of all four banks under a single lock
// acquisition, so the result reflects one consistent instant.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Coils:            make([]bool, s.sizes.Coils),
		DiscreteInputs:   make([]bool, s.sizes.DiscreteInputs),
		HoldingRegisters: append([]uint16(nil), s.holdingRegisters...),
		InputRegisters:   append([]uint16(nil), s.inputRegisters...),
	}
	for i := 0; i < s.sizes.Coils; i++ {
		snap.Coils[i] = bitGet(s.coils, i)
	}
	for i := 0; i < s.sizes.DiscreteInputs; i++ {
		snap.DiscreteInputs[i] = bitGet(s.discreteInputs, i)
	}
	return snap
}

func bitGet(bank []byte, addr int) bool {
	return bank[addr/8]&(1<<uint(addr%8)) != 0
}

func bitSet(bank []byte, addr int, v bool) {
	mask := byte(1 << uint(addr%8))
	if v {
		bank[addr/8] |= mask
	} else {
		bank[addr/8] &^= mask
	}
}
