// Package transport defines the contract the router consumes from its
// underlying packet bus: sending frames, cancelling a not-yet-transmitted
// rebroadcast, and reporting local link quality, identity and role.
//
// The Transport/FrameHandler/Event split carries an envelope-agnostic
// shape so serial and MQTT backends can share the same state-change and
// dispatch plumbing.
package transport

import (
	"context"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
)

// Transport is the minimal contract the router needs from the underlying
// packet bus.
type Transport interface {
	// Start begins the transport's connection and message handling. The
	// provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected reports whether the transport is currently connected.
	IsConnected() bool
	// SetFrameHandler sets the callback invoked for every received frame.
	SetFrameHandler(fn FrameHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)

	// Send enqueues frame for transmission. A transport-level failure is
	// propagated to the caller unchanged.
	Send(frame *codec.Frame) error
	// CancelPending best-effort suppresses a not-yet-transmitted
	// rebroadcast keyed by the original sender and frame id. A no-op if
	// the frame has already been transmitted.
	CancelPending(from id.NodeID, frameID uint32)

	// LocalRSSI returns the link quality of the most recent reception.
	LocalRSSI() int8
	// LocalNodeID returns this node's identity.
	LocalNodeID() id.NodeID
	// Role returns this node's configured role.
	Role() Role
}

// FrameHandler is called when a frame is received.
type FrameHandler func(frame *codec.Frame, source PacketSource)

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// PacketSource indicates which underlying link a frame arrived on.
type PacketSource int

const (
	// PacketSourceMQTT indicates the frame came from MQTT.
	PacketSourceMQTT PacketSource = iota
	// PacketSourceSerial indicates the frame came from a serial connection.
	PacketSourceSerial
	// PacketSourceLocal indicates the frame was originated by this node (TX).
	PacketSourceLocal
)

func (s PacketSource) String() string {
	switch s {
	case PacketSourceMQTT:
		return "mqtt"
	case PacketSourceSerial:
		return "serial"
	case PacketSourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
