package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/n8kdx/rssi-aodv/core/id"
)

// Packet types carried in the packet_type byte of an AODV-port control
// payload (offset 19 for RREQ, offset 15 for RREP).
const (
	PacketTypeRREQ uint8 = 1
	PacketTypeRREP uint8 = 2
)

// Wire sizes for the fixed little-endian control payload layouts.
const (
	RREQSize   = 25
	RREPSize   = 21
	BeaconSize = 1
)

// ErrShortControlFrame is returned when a control payload is shorter than
// its declared fixed size. The router treats this as a MalformedFrame: log
// and drop, never propagate.
var ErrShortControlFrame = errors.New("codec: control payload shorter than declared size")

// RREQ is the route-request control payload (AODV port, packet_type = 1).
type RREQ struct {
	Source         id.NodeID
	Destination    id.NodeID
	BroadcastID    uint32
	RouteRequestID uint32
	HopCount       uint16
	RSSI           int8
	SequenceNumber uint32
}

// EncodeRREQ writes the 25-byte little-endian RREQ wire layout.
func EncodeRREQ(r *RREQ) []byte {
	buf := make([]byte, RREQSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Source))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Destination))
	binary.LittleEndian.PutUint32(buf[8:12], r.BroadcastID)
	binary.LittleEndian.PutUint32(buf[12:16], r.RouteRequestID)
	binary.LittleEndian.PutUint16(buf[16:18], r.HopCount)
	buf[18] = byte(r.RSSI)
	buf[19] = PacketTypeRREQ
	binary.LittleEndian.PutUint32(buf[20:24], r.SequenceNumber)
	return buf
}

// DecodeRREQ parses a 25-byte RREQ payload. Returns ErrShortControlFrame if
// data is too short; never panics on truncated input.
func DecodeRREQ(data []byte) (*RREQ, error) {
	if len(data) < RREQSize {
		return nil, fmt.Errorf("rreq: %w (%d bytes)", ErrShortControlFrame, len(data))
	}
	return &RREQ{
		Source:         id.NodeID(binary.LittleEndian.Uint32(data[0:4])),
		Destination:    id.NodeID(binary.LittleEndian.Uint32(data[4:8])),
		BroadcastID:    binary.LittleEndian.Uint32(data[8:12]),
		RouteRequestID: binary.LittleEndian.Uint32(data[12:16]),
		HopCount:       binary.LittleEndian.Uint16(data[16:18]),
		RSSI:           int8(data[18]),
		SequenceNumber: binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// RREP is the route-reply control payload (AODV port, packet_type = 2).
// Same shape as RREQ minus BroadcastID.
type RREP struct {
	Source         id.NodeID
	Destination    id.NodeID
	RouteRequestID uint32
	HopCount       uint16
	RSSI           int8
	SequenceNumber uint32
}

// EncodeRREP writes the 21-byte little-endian RREP wire layout.
func EncodeRREP(r *RREP) []byte {
	buf := make([]byte, RREPSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Source))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Destination))
	binary.LittleEndian.PutUint32(buf[8:12], r.RouteRequestID)
	binary.LittleEndian.PutUint16(buf[12:14], r.HopCount)
	buf[14] = byte(r.RSSI)
	buf[15] = PacketTypeRREP
	binary.LittleEndian.PutUint32(buf[16:20], r.SequenceNumber)
	return buf
}

// DecodeRREP parses a 21-byte RREP payload.
func DecodeRREP(data []byte) (*RREP, error) {
	if len(data) < RREPSize {
		return nil, fmt.Errorf("rrep: %w (%d bytes)", ErrShortControlFrame, len(data))
	}
	return &RREP{
		Source:         id.NodeID(binary.LittleEndian.Uint32(data[0:4])),
		Destination:    id.NodeID(binary.LittleEndian.Uint32(data[4:8])),
		RouteRequestID: binary.LittleEndian.Uint32(data[8:12]),
		HopCount:       binary.LittleEndian.Uint16(data[12:14]),
		RSSI:           int8(data[14]),
		SequenceNumber: binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// PacketType returns the discriminator byte (offset 19 for RREQ, offset 15
// for RREP) without fully decoding the payload, for dispatch in
// Router.handleControl before a full decode.
func PacketType(payload []byte) (uint8, bool) {
	if len(payload) < 16 {
		return 0, false
	}
	// Both layouts place packet_type directly after the 1-byte rssi field
	// that follows hop_count; RREQ has an extra leading broadcast_id/u32
	// that the RREP layout doesn't, so the offsets differ.
	if len(payload) >= RREQSize {
		if payload[19] == PacketTypeRREQ {
			return PacketTypeRREQ, true
		}
	}
	if len(payload) >= RREPSize && payload[15] == PacketTypeRREP {
		return PacketTypeRREP, true
	}
	return 0, false
}

// EncodeBeacon writes the 1-byte RSSI beacon payload.
func EncodeBeacon(rssi int8) []byte {
	return []byte{byte(rssi)}
}

// DecodeBeacon parses the 1-byte RSSI beacon payload.
func DecodeBeacon(data []byte) (int8, error) {
	if len(data) < BeaconSize {
		return 0, fmt.Errorf("beacon: %w (%d bytes)", ErrShortControlFrame, len(data))
	}
	return int8(data[0]), nil
}
