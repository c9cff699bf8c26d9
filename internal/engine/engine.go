// Package engine implements the Modbus protocol engine: it decodes a PDU's
// function-specific payload, validates it against the wire limits and the
// register store's bounds, applies the operation, and encodes the response
// or exception PDU.
package engine

import (
	"encoding/binary"

	"github.com/zmodsim/zmodsim/internal/protocol"
	"github.com/zmodsim/zmodsim/internal/store"
)

// DeviceIdentity is the fixed set of strings served by ReadDeviceIdentification
// (function 0x2B, MEI type 0x0E). It supplements the base spec, which does not
// model device identification, with the one read-only object set every real
// Modbus TCP stack exposes for discovery tooling.
type DeviceIdentity struct {
	VendorName          string
	ProductCode         string
	MajorMinorRevision  string
	VendorURL           string
	ProductName         string
	ModelName           string
}

// objects indexes DeviceIdentity fields by their standard object id,
// in ascending order, matching Section 6.21 of the Modbus Application
// Protocol specification.
func (d DeviceIdentity) objects() []struct {
	id    byte
	value string
} {
	return []struct {
		id    byte
		value string
	}{
		{0x00, d.VendorName},
		{0x01, d.ProductCode},
		{0x02, d.MajorMinorRevision},
		{0x03, d.VendorURL},
		{0x04, d.ProductName},
		{0x05, d.ModelName},
	}
}

// Engine dispatches decoded PDUs against a register store for a single
// configured unit id.
type Engine struct {
	store  *store.Store
	unitID protocol.UnitID
	device DeviceIdentity
}

// New constructs an Engine bound to store for the given unit id.
func New(s *store.Store, unitID protocol.UnitID, device DeviceIdentity) *Engine {
	return &Engine{store: s, unitID: unitID, device: device}
}

// Accepts reports whether a request's unit id should be processed by this
// engine: either the broadcast address (0) or this engine's configured unit.
// Ref: Modbus_Messaging_Implementation_Guide_V1_0b.pdf, Section 3.1.5 (Unit Identifier)
func (e *Engine) Accepts(unitID protocol.UnitID) bool {
	return unitID == 0 || unitID == e.unitID
}

// Handle decodes and executes the PDU for fc/data and returns the response
// PDU (a normal response or an exception). Handle never returns an error;
// every failure mode maps to a Modbus exception response.
func (e *Engine) Handle(fc protocol.FunctionCode, data []byte) protocol.PDU {
	switch fc {
	case protocol.FuncReadCoils:
		return e.handleReadBits(fc, data, e.store.ReadCoils, protocol.MaxReadBitCount)
	case protocol.FuncReadDiscreteInputs:
		return e.handleReadBits(fc, data, e.store.ReadDiscreteInputs, protocol.MaxReadBitCount)
	case protocol.FuncReadHoldingRegisters:
		return e.handleReadRegisters(fc, data, e.store.ReadHoldingRegisters, protocol.MaxReadRegisterCount)
	case protocol.FuncReadInputRegisters:
		return e.handleReadRegisters(fc, data, e.store.ReadInputRegisters, protocol.MaxReadRegisterCount)
	case protocol.FuncWriteSingleCoil:
		return e.handleWriteSingleCoil(data)
	case protocol.FuncWriteSingleRegister:
		return e.handleWriteSingleRegister(data)
	case protocol.FuncWriteMultipleCoils:
		return e.handleWriteMultipleCoils(data)
	case protocol.FuncWriteMultipleRegisters:
		return e.handleWriteMultipleRegisters(data)
	case protocol.FuncReadWriteMultipleRegisters:
		return e.handleReadWriteMultipleRegisters(data)
	case protocol.FuncReadDeviceIdentification:
		return e.handleReadDeviceIdentification(data)
	default:
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalFunction)
	}
}

type bitReader func(start, count int) ([]byte, error)
type registerReader func(start, count int) ([]byte, error)

func (e *Engine) handleReadBits(fc protocol.FunctionCode, data []byte, read bitReader, maxCount int) protocol.PDU {
	if len(data) != 4 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))

	if count < 1 || count > maxCount {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	bits, err := read(start, count)
	if err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	resp := append([]byte{byte(len(bits))}, bits...)
	return protocol.PDU{FunctionCode: fc, Data: resp}
}

func (e *Engine) handleReadRegisters(fc protocol.FunctionCode, data []byte, read registerReader, maxCount int) protocol.PDU {
	if len(data) != 4 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))

	if count < 1 || count > maxCount {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	regs, err := read(start, count)
	if err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	resp := append([]byte{byte(len(regs))}, regs...)
	return protocol.PDU{FunctionCode: fc, Data: resp}
}

func (e *Engine) handleWriteSingleCoil(data []byte) protocol.PDU {
	fc := protocol.FuncWriteSingleCoil
	if len(data) != 4 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	if value != uint16(protocol.CoilOnWire) && value != uint16(protocol.CoilOffWire) {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	if err := e.store.WriteCoil(addr, value == uint16(protocol.CoilOnWire)); err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	echo := append([]byte(nil), data...)
	return protocol.PDU{FunctionCode: fc, Data: echo}
}

func (e *Engine) handleWriteSingleRegister(data []byte) protocol.PDU {
	fc := protocol.FuncWriteSingleRegister
	if len(data) != 4 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	if err := e.store.WriteRegister(addr, value); err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	echo := append([]byte(nil), data...)
	return protocol.PDU{FunctionCode: fc, Data: echo}
}

func (e *Engine) handleWriteMultipleCoils(data []byte) protocol.PDU {
	fc := protocol.FuncWriteMultipleCoils
	if len(data) < 5 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])

	if count < 1 || count > protocol.MaxWriteCoilCount || byteCount != (count+7)/8 || len(data) != 5+byteCount {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	if err := e.store.WriteCoils(start, count, data[5:]); err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	return protocol.PDU{FunctionCode: fc, Data: data[0:4]}
}

func (e *Engine) handleWriteMultipleRegisters(data []byte) protocol.PDU {
	fc := protocol.FuncWriteMultipleRegisters
	if len(data) < 5 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])

	if count < 1 || count > protocol.MaxWriteRegisterCount || byteCount != count*2 || len(data) != 5+byteCount {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	if err := e.store.WriteRegisters(start, count, data[5:]); err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	return protocol.PDU{FunctionCode: fc, Data: data[0:4]}
}

// handleReadWriteMultipleRegisters applies the write portion before the read
// portion, so a client can observe its own write in the same transaction.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17 (Read/Write Multiple Registers)
func (e *Engine) handleReadWriteMultipleRegisters(data []byte) protocol.PDU {
	fc := protocol.FuncReadWriteMultipleRegisters
	if len(data) < 9 {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	readStart := int(binary.BigEndian.Uint16(data[0:2]))
	readCount := int(binary.BigEndian.Uint16(data[2:4]))
	writeStart := int(binary.BigEndian.Uint16(data[4:6]))
	writeCount := int(binary.BigEndian.Uint16(data[6:8]))
	writeByteCount := int(data[8])

	if readCount < 1 || readCount > protocol.MaxReadRegisterCount ||
		writeCount < 1 || writeCount > protocol.MaxWriteRegisterCount ||
		writeByteCount != writeCount*2 || len(data) != 9+writeByteCount {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}

	if err := e.store.WriteRegisters(writeStart, writeCount, data[9:]); err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	regs, err := e.store.ReadHoldingRegisters(readStart, readCount)
	if err != nil {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	resp := append([]byte{byte(len(regs))}, regs...)
	return protocol.PDU{FunctionCode: fc, Data: resp}
}

const meiTypeDeviceIdentification = 0x0E

// handleReadDeviceIdentification returns every identity object from the
// requested object id through 0x05 in a single response (this server never
// needs the paging continuation mechanism since the object set is small).
// The read device id code is echoed but does not narrow the objects returned.
func (e *Engine) handleReadDeviceIdentification(data []byte) protocol.PDU {
	fc := protocol.FuncReadDeviceIdentification
	if len(data) != 3 || data[0] != meiTypeDeviceIdentification {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataValue)
	}
	readDeviceIDCode := data[1]
	objectID := data[2]

	objects := e.device.objects()
	if int(objectID) >= len(objects) {
		return protocol.ExceptionPDU(fc, protocol.ExceptionIllegalDataAddress)
	}

	resp := []byte{
		meiTypeDeviceIdentification,
		readDeviceIDCode,
		0x01, // conformity level: basic identification, stream access
		0x00, // more follows: no
		0x00, // next object id
		byte(len(objects)) - objectID,
	}
	for _, obj := range objects[objectID:] {
		resp = append(resp, obj.id, byte(len(obj.value)))
		resp = append(resp, []byte(obj.value)...)
	}

	return protocol.PDU{FunctionCode: fc, Data: resp}
}
