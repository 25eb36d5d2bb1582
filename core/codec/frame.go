// Package codec provides fixed-layout binary (de)serialization for the
// router's control payloads (RREQ, RREP, the RSSI beacon) and the Frame
// envelope the router reads and mutates in place.
//
// The router itself never serializes a Frame. The envelope wire form
// (EncodeEnvelope/DecodeEnvelope) and the RS232 bridge framing in this
// package are used by the transports (see transport/serial and
// transport/mqtt).
package codec

import "github.com/n8kdx/rssi-aodv/core/id"

// Port numbers are transport-level u16 port identifiers used to dispatch
// incoming frames to the right handler.
const (
	AODVPort       uint16 = 400
	RSSIBeaconPort uint16 = 300
)

// Frame is the carrier envelope delivered by the underlying packet bus.
// The router never modifies a received frame: a rebroadcast or forward is
// a new frame from the local node carrying the received HopLimit minus
// one. SubmitOutgoing assigns an ID to an outgoing frame whose ID is zero.
type Frame struct {
	From     id.NodeID
	To       id.NodeID
	ID       uint32
	HopLimit uint8
	Port     uint16
	Payload  []byte
	RxRSSI   int8
}

// Clone returns a deep copy of the frame, safe to mutate independently of
// the original. The transports clone on Send so their queues never retain
// a reference into the caller's memory.
func (f *Frame) Clone() *Frame {
	clone := *f
	if len(f.Payload) > 0 {
		clone.Payload = make([]byte, len(f.Payload))
		copy(clone.Payload, f.Payload)
	}
	return &clone
}
