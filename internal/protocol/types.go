// Package protocol implements the Modbus TCP wire format: the MBAP header,
// the PDU envelope, function and exception codes, and the bit/register
// encoding rules from the Modbus Application Protocol specification.
package protocol

import "fmt"

// TransactionID identifies a request/response pair across a connection.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 1
type TransactionID uint16

// ProtocolID must be zero for Modbus TCP.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 2
type ProtocolID uint16

// UnitID addresses a slave device; 0 is the broadcast address.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 4
type UnitID byte

// FunctionCode selects the operation a PDU requests.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes)
type FunctionCode byte

// ExceptionCode is the one-byte reason carried in an exception response.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
type ExceptionCode byte

// Function codes this server supports.
const (
	FuncReadCoils                  FunctionCode = 0x01
	FuncReadDiscreteInputs         FunctionCode = 0x02
	FuncReadHoldingRegisters       FunctionCode = 0x03
	FuncReadInputRegisters         FunctionCode = 0x04
	FuncWriteSingleCoil            FunctionCode = 0x05
	FuncWriteSingleRegister        FunctionCode = 0x06
	FuncWriteMultipleCoils         FunctionCode = 0x0F
	FuncWriteMultipleRegisters     FunctionCode = 0x10
	FuncReadWriteMultipleRegisters FunctionCode = 0x17
	FuncReadDeviceIdentification   FunctionCode = 0x2B
)

// Exception codes.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Codes)
const (
	ExceptionIllegalFunction    ExceptionCode = 0x01
	ExceptionIllegalDataAddress ExceptionCode = 0x02
	ExceptionIllegalDataValue   ExceptionCode = 0x03
	ExceptionServerDeviceFailure ExceptionCode = 0x04
)

// ExceptionBit is OR-ed into the function code of an exception response.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
const ExceptionBit byte = 0x80

// TCPProtocolIdentifier is the only valid ProtocolID value for Modbus TCP.
const TCPProtocolIdentifier ProtocolID = 0x0000

// Wire limits and sizes.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4/6 (various)
const (
	MBAPHeaderLength = 7 // transaction(2) + protocol(2) + length(2) + unit(1)

	MaxReadBitCount      = 2000 // Read Coils / Read Discrete Inputs, Section 6.1/6.2
	MaxReadRegisterCount = 125  // Read Holding/Input Registers, Section 6.3/6.4
	MaxWriteCoilCount    = 1968 // Write Multiple Coils, Section 6.11
	MaxWriteRegisterCount = 123 // Write Multiple Registers, Section 6.12

	CoilOnWire  uint16 = 0xFF00 // Write Single Coil ON value
	CoilOffWire uint16 = 0x0000 // Write Single Coil OFF value
)

// String renders a function code by name, or as an exception of its base
// code when the high bit is set.
func (f FunctionCode) String() string {
	if byte(f)&ExceptionBit != 0 {
		return fmt.Sprintf("Exception(%s)", FunctionCode(byte(f)&^ExceptionBit))
	}
	switch f {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	case FuncReadDeviceIdentification:
		return "ReadDeviceIdentification"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(f))
	}
}

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "IllegalFunction"
	case ExceptionIllegalDataAddress:
		return "IllegalDataAddress"
	case ExceptionIllegalDataValue:
		return "IllegalDataValue"
	case ExceptionServerDeviceFailure:
		return "ServerDeviceFailure"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(e))
	}
}

// PDU is a function code plus its function-specific payload.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (Protocol Data Unit)
type PDU struct {
	FunctionCode FunctionCode
	Data         []byte
}

// ExceptionPDU builds the one-byte-payload PDU for an exception response.
func ExceptionPDU(fc FunctionCode, code ExceptionCode) PDU {
	return PDU{
		FunctionCode: FunctionCode(byte(fc) | ExceptionBit),
		Data:         []byte{byte(code)},
	}
}
