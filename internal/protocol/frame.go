package protocol

import (
	"encoding/binary"
)

// Header is the 7-byte MBAP header that precedes every Modbus TCP PDU.
// Ref: Modbus_Messaging_Implementation_Guide_V1_0b.pdf, Section 3.1 (MBAP Header)
type Header struct {
	TransactionID TransactionID
	ProtocolID    ProtocolID
	Length        uint16 // bytes following this field: unit id + PDU
	UnitID        UnitID
}

// ParseMBAP decodes the 7-byte MBAP header from buf. It reports false if
// buf is shorter than MBAPHeaderLength.
func ParseMBAP(buf []byte) (Header, bool) {
	if len(buf) < MBAPHeaderLength {
		return Header{}, false
	}
	return Header{
		TransactionID: TransactionID(binary.BigEndian.Uint16(buf[0:2])),
		ProtocolID:    ProtocolID(binary.BigEndian.Uint16(buf[2:4])),
		Length:        binary.BigEndian.Uint16(buf[4:6]),
		UnitID:        UnitID(buf[6]),
	}, true
}

// WriteMBAP serializes header into the first MBAPHeaderLength bytes of buf.
// buf must be at least MBAPHeaderLength bytes long.
func WriteMBAP(h Header, buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.TransactionID))
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.ProtocolID))
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
}

// EncodeFrame assembles a full MBAP+PDU byte sequence for a response whose
// transaction id and unit id echo the originating request, per
// Modbus_Application_Protocol_V1_1b3.pdf Section 4.1 ("Length" = unit id
// byte + PDU length).
func EncodeFrame(transactionID TransactionID, unitID UnitID, pdu PDU) []byte {
	length := uint16(1 + 1 + len(pdu.Data)) // unit id + function code + data
	buf := make([]byte, MBAPHeaderLength+1+len(pdu.Data))
	WriteMBAP(Header{
		TransactionID: transactionID,
		ProtocolID:    TCPProtocolIdentifier,
		Length:        length,
		UnitID:        unitID,
	}, buf)
	buf[MBAPHeaderLength] = byte(pdu.FunctionCode)
	copy(buf[MBAPHeaderLength+1:], pdu.Data)
	return buf
}
