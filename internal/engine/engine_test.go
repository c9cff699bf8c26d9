package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmodsim/zmodsim/internal/protocol"
	"github.com/zmodsim/zmodsim/internal/store"
)

func newTestEngine() *Engine {
	s := store.New(store.Sizes{
		Coils:            20,
		DiscreteInputs:   20,
		HoldingRegisters: 20,
		InputRegisters:   20,
	})
	return New(s, 1, DeviceIdentity{
		VendorName:         "zmodsim",
		ProductCode:        "ZM1",
		MajorMinorRevision: "1.0",
	})
}

func TestAccepts_UnitIDOrBroadcast(t *testing.T) {
	e := newTestEngine()
	assert.True(t, e.Accepts(1))
	assert.True(t, e.Accepts(0))
	assert.False(t, e.Accepts(2))
}

// TestReadHoldingRegisters_S1AllZero reproduces scenario S1: reading ten
// freshly initialized holding registers returns all zeros.
func TestReadHoldingRegisters_S1AllZero(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x0A})

	require.Equal(t, protocol.FuncReadHoldingRegisters, pdu.FunctionCode)
	assert.Equal(t, byte(20), pdu.Data[0])
	assert.Equal(t, make([]byte, 20), pdu.Data[1:])
}

func TestWriteSingleRegister_ThenReadBack(t *testing.T) {
	e := newTestEngine()
	write := e.Handle(protocol.FuncWriteSingleRegister, []byte{0x00, 0x05, 0x00, 0x2A})
	assert.Equal(t, []byte{0x00, 0x05, 0x00, 0x2A}, write.Data)

	read := e.Handle(protocol.FuncReadHoldingRegisters, []byte{0x00, 0x05, 0x00, 0x01})
	assert.Equal(t, []byte{0x02, 0x00, 0x2A}, read.Data)
}

func TestWriteSingleCoil_RejectsInvalidValue(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncWriteSingleCoil, []byte{0x00, 0x00, 0x12, 0x34})

	assert.Equal(t, byte(protocol.FuncWriteSingleCoil)|protocol.ExceptionBit, byte(pdu.FunctionCode))
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataValue)}, pdu.Data)
}

func TestWriteSingleCoil_OnOff(t *testing.T) {
	e := newTestEngine()
	on := e.Handle(protocol.FuncWriteSingleCoil, []byte{0x00, 0x03, 0xFF, 0x00})
	assert.Equal(t, []byte{0x00, 0x03, 0xFF, 0x00}, on.Data)

	read := e.Handle(protocol.FuncReadCoils, []byte{0x00, 0x03, 0x00, 0x01})
	assert.Equal(t, []byte{0x01, 0x01}, read.Data)

	off := e.Handle(protocol.FuncWriteSingleCoil, []byte{0x00, 0x03, 0x00, 0x00})
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x00}, off.Data)

	read = e.Handle(protocol.FuncReadCoils, []byte{0x00, 0x03, 0x00, 0x01})
	assert.Equal(t, []byte{0x01, 0x00}, read.Data)
}

func TestReadCoils_OutOfRangeYieldsIllegalDataAddress(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadCoils, []byte{0x00, 0x12, 0x00, 0x0A})

	assert.Equal(t, byte(protocol.FuncReadCoils)|protocol.ExceptionBit, byte(pdu.FunctionCode))
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataAddress)}, pdu.Data)
}

func TestReadHoldingRegisters_ZeroQuantityIsIllegalDataValue(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x00})

	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataValue)}, pdu.Data)
}

func TestReadHoldingRegisters_OverMaxCountIsIllegalDataValue(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x7E}) // 126 > 125
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataValue)}, pdu.Data)
}

func TestUnsupportedFunctionCode_IllegalFunction(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FunctionCode(0x08), []byte{})

	assert.Equal(t, byte(0x08)|protocol.ExceptionBit, byte(pdu.FunctionCode))
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalFunction)}, pdu.Data)
}

func TestWriteMultipleCoils_ThenReadBack(t *testing.T) {
	e := newTestEngine()
	write := e.Handle(protocol.FuncWriteMultipleCoils, []byte{0x00, 0x00, 0x00, 0x0A, 0x02, 0xCD, 0x01})
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x0A}, write.Data)

	read := e.Handle(protocol.FuncReadCoils, []byte{0x00, 0x00, 0x00, 0x0A})
	assert.Equal(t, []byte{0x02, 0xCD, 0x01}, read.Data)
}

func TestWriteMultipleCoils_BadByteCountIsIllegalDataValue(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncWriteMultipleCoils, []byte{0x00, 0x00, 0x00, 0x0A, 0x01, 0xCD})
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataValue)}, pdu.Data)
}

func TestWriteMultipleRegisters_ThenReadBack(t *testing.T) {
	e := newTestEngine()
	write := e.Handle(protocol.FuncWriteMultipleRegisters, []byte{
		0x00, 0x01, 0x00, 0x02, 0x04,
		0x00, 0x0A, 0x00, 0x0B,
	})
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x02}, write.Data)

	read := e.Handle(protocol.FuncReadHoldingRegisters, []byte{0x00, 0x01, 0x00, 0x02})
	assert.Equal(t, []byte{0x04, 0x00, 0x0A, 0x00, 0x0B}, read.Data)
}

func TestReadWriteMultipleRegisters_WriteAppliesBeforeRead(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadWriteMultipleRegisters, []byte{
		0x00, 0x01, 0x00, 0x01, // read reg 1, count 1
		0x00, 0x01, 0x00, 0x01, 0x02, 0x00, 0x63, // write reg 1 = 0x63
	})
	assert.Equal(t, []byte{0x02, 0x00, 0x63}, pdu.Data)
}

func TestReadDeviceIdentification_ReturnsBasicObjects(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadDeviceIdentification, []byte{0x0E, 0x01, 0x00})

	require.Equal(t, protocol.FuncReadDeviceIdentification, pdu.FunctionCode)
	assert.Equal(t, byte(0x0E), pdu.Data[0])
	assert.Equal(t, byte(0x01), pdu.Data[1])
}

func TestReadDeviceIdentification_BadObjectIDIsIllegalDataAddress(t *testing.T) {
	e := newTestEngine()
	pdu := e.Handle(protocol.FuncReadDeviceIdentification, []byte{0x0E, 0x01, 0xFF})
	assert.Equal(t, []byte{byte(protocol.ExceptionIllegalDataAddress)}, pdu.Data)
}
