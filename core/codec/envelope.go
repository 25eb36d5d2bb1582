package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/n8kdx/rssi-aodv/core/id"
)

// EnvelopeHeaderSize is the fixed size of the encoded Frame envelope
// before its payload: from, to, id, hop_limit, port, rx_rssi, and the
// payload length.
const EnvelopeHeaderSize = 18

var (
	// ErrShortEnvelope is returned when an encoded envelope is shorter
	// than its header or its declared payload length.
	ErrShortEnvelope = errors.New("codec: envelope shorter than declared size")
	// ErrPayloadTooLong is returned when a frame's payload does not fit
	// the envelope's 16-bit length field.
	ErrPayloadTooLong = errors.New("codec: payload exceeds envelope length field")
)

// EncodeEnvelope writes the little-endian wire form of a frame for the
// bridge transports. The rx_rssi byte travels with the frame so a radio
// bridge can report the link quality it measured on reception.
func EncodeEnvelope(f *Frame) ([]byte, error) {
	if len(f.Payload) > 0xFFFF {
		return nil, fmt.Errorf("%w (%d bytes)", ErrPayloadTooLong, len(f.Payload))
	}
	buf := make([]byte, EnvelopeHeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.From))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.To))
	binary.LittleEndian.PutUint32(buf[8:12], f.ID)
	buf[12] = f.HopLimit
	binary.LittleEndian.PutUint16(buf[13:15], f.Port)
	buf[15] = byte(f.RxRSSI)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(len(f.Payload)))
	copy(buf[EnvelopeHeaderSize:], f.Payload)
	return buf, nil
}

// DecodeEnvelope parses an encoded frame envelope. Truncated input
// returns ErrShortEnvelope; it never panics.
func DecodeEnvelope(data []byte) (*Frame, error) {
	if len(data) < EnvelopeHeaderSize {
		return nil, fmt.Errorf("envelope: %w (%d bytes)", ErrShortEnvelope, len(data))
	}
	payloadLen := int(binary.LittleEndian.Uint16(data[16:18]))
	if len(data) < EnvelopeHeaderSize+payloadLen {
		return nil, fmt.Errorf("envelope payload: %w (%d of %d bytes)",
			ErrShortEnvelope, len(data)-EnvelopeHeaderSize, payloadLen)
	}
	f := &Frame{
		From:     id.NodeID(binary.LittleEndian.Uint32(data[0:4])),
		To:       id.NodeID(binary.LittleEndian.Uint32(data[4:8])),
		ID:       binary.LittleEndian.Uint32(data[8:12]),
		HopLimit: data[12],
		Port:     binary.LittleEndian.Uint16(data[13:15]),
		RxRSSI:   int8(data[15]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, data[EnvelopeHeaderSize:EnvelopeHeaderSize+payloadLen])
	}
	return f, nil
}
