package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(Sizes{
		Coils:            20,
		DiscreteInputs:   20,
		HoldingRegisters: 10,
		InputRegisters:   10,
	})
}

func TestReadCoils_InitialZero(t *testing.T) {
	s := newTestStore()
	data, err := s.ReadCoils(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, data)
}

func TestReadCoils_OutOfRange(t *testing.T) {
	s := newTestStore()
	_, err := s.ReadCoils(15, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWriteCoils_BitPackingLSBFirst(t *testing.T) {
	s := newTestStore()
	// 10 coils, pattern per Modbus spec example: CD 01 -> 1100 1101 0000 0001
	require.NoError(t, s.WriteCoils(0, 10, []byte{0xCD, 0x01}))

	got, err := s.ReadCoils(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCD, 0x01}, got)

	// Bit 0 (coil 0) is the low bit of the first byte: 0xCD = 1100_1101, so
	// coil 0 is set, coil 1 is clear.
	c0, err := s.ReadCoils(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), c0[0])

	c1, err := s.ReadCoils(1, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), c1[0])
}

func TestWriteCoil_SingleRoundTrip(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.WriteCoil(3, true))

	got, err := s.ReadCoils(3, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), got[0])

	require.NoError(t, s.WriteCoil(3, false))
	got, err = s.ReadCoils(3, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), got[0])
}

func TestWriteCoil_OutOfRange(t *testing.T) {
	s := newTestStore()
	err := s.WriteCoil(20, true)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReadWriteHoldingRegisters_RoundTrip(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.WriteRegisters(0, 3, []byte{0x00, 0x0A, 0x00, 0x0B, 0x00, 0x0C}))

	got, err := s.ReadHoldingRegisters(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0A, 0x00, 0x0B, 0x00, 0x0C}, got)
}

func TestWriteRegister_OutOfRange(t *testing.T) {
	s := newTestStore()
	err := s.WriteRegister(10, 42)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReadInputRegisters_OutOfRange(t *testing.T) {
	s := newTestStore()
	_, err := s.ReadInputRegisters(8, 5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

// TestIncrement_WrapsToZero reproduces scenario S7: increment 5, max 12,
// the register cycles 0 -> 5 -> 10 -> 0 -> 5 -> ... (10 >= 12-5 wraps).
func TestIncrement_WrapsToZero(t *testing.T) {
	s := newTestStore()
	want := []uint16{5, 10, 0, 5, 10, 0}

	for _, w := range want {
		s.Increment(BankHolding, []int{2}, 5, 12)
		got, ok := s.GetHoldingRegister(2)
		require.True(t, ok)
		assert.Equal(t, w, got)
	}
}

func TestIncrement_InputBankIndependentOfHolding(t *testing.T) {
	s := newTestStore()
	s.Increment(BankInput, []int{0}, 1, 100)

	holding, _ := s.GetHoldingRegister(0)
	input, _ := s.GetInputRegister(0)
	assert.Equal(t, uint16(0), holding)
	assert.Equal(t, uint16(1), input)
}

func TestIncrement_SkipsOutOfRangeAddressesSilently(t *testing.T) {
	s := newTestStore()
	assert.NotPanics(t, func() {
		s.Increment(BankHolding, []int{-1, 9999}, 1, 10)
	})
}

func TestSnapshot_ReflectsWrites(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.WriteCoil(0, true))
	require.NoError(t, s.WriteRegister(0, 7))

	snap := s.Snapshot()
	assert.True(t, snap.Coils[0])
	assert.Equal(t, uint16(7), snap.HoldingRegisters[0])
	assert.Len(t, snap.Coils, 20)
	assert.Len(t, snap.HoldingRegisters, 10)
}
