// Package serial provides a serial transport bridging a LoRa radio.
//
// The radio bridge communicates over serial using RS232 framing with
// Fletcher-16 checksums; each frame carries one encoded mesh envelope,
// including the RSSI the radio measured on reception. Outbound frames go
// through a priority send queue so that a pending rebroadcast can still
// be cancelled when a duplicate is overheard first.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for the radio bridge.
	DefaultBaudRate = 115200

	// DefaultTxDelay is how long a relayed frame is held in the send
	// queue before transmission, giving duplicate suppression a window
	// to cancel it.
	DefaultTxDelay = 200 * time.Millisecond

	// DefaultDrainInterval is how often the send queue is checked for
	// ready frames.
	DefaultDrainInterval = 10 * time.Millisecond

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// NodeID is the local node identity.
	NodeID id.NodeID
	// Role is the local node's mesh participation level.
	Role transport.Role
	// TxDelay is how long relayed frames are held before transmission.
	// Defaults to DefaultTxDelay.
	TxDelay time.Duration
	// DrainInterval is how often the send queue drain loop runs.
	// Defaults to DefaultDrainInterval.
	DrainInterval time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial radio bridge.
type Transport struct {
	cfg   Config
	log   *slog.Logger
	queue *transport.SendQueue

	mu           sync.RWMutex
	port         goserial.Port
	connected    bool
	lastRSSI     int8
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler

	cancel    context.CancelFunc
	readDone  chan struct{}
	drainDone chan struct{}
}

// New creates a serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.TxDelay == 0 {
		cfg.TxDelay = DefaultTxDelay
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("serial"),
		queue:    transport.NewSendQueue(),
		lastRSSI: -120,
	}
}

// Start opens the serial port and begins the read and drain loops.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &goserial.Mode{
		BaudRate: t.cfg.BaudRate,
	}

	port, err := goserial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.readDone = make(chan struct{})
	t.drainDone = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.readLoop(loopCtx)
	go t.drainLoop(loopCtx)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and stops the read and drain loops.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	readDone := t.readDone
	drainDone := t.drainDone
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	if readDone != nil {
		<-readDone
	}
	if drainDone != nil {
		<-drainDone
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for incoming frames.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// LocalRSSI returns the RSSI the radio reported for the most recent
// reception, or -120 before anything has been received.
func (t *Transport) LocalRSSI() int8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRSSI
}

// LocalNodeID returns the configured local node identity.
func (t *Transport) LocalNodeID() id.NodeID {
	return t.cfg.NodeID
}

// Role returns the configured local role.
func (t *Transport) Role() transport.Role {
	return t.cfg.Role
}

// Send queues a frame for transmission. Frames relayed on behalf of
// another node are held for TxDelay at rebroadcast priority so they can
// still be cancelled; frames this node originates go out at the front of
// the queue. The queue holds a clone, so the caller's frame is not
// retained past this call.
func (t *Transport) Send(frame *codec.Frame) error {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()

	if !connected {
		return errors.New("not connected")
	}

	queued := frame.Clone()
	if frame.From != t.cfg.NodeID {
		t.queue.Push(queued, transport.PriorityRebroadcast, t.cfg.TxDelay)
	} else if frame.Port == codec.AODVPort || frame.Port == codec.RSSIBeaconPort {
		t.queue.Push(queued, transport.PriorityControl, 0)
	} else {
		t.queue.Push(queued, transport.PriorityData, 0)
	}
	return nil
}

// CancelPending removes a not-yet-transmitted frame from the send queue.
// A frame already written to the port is unaffected.
func (t *Transport) CancelPending(from id.NodeID, frameID uint32) {
	if t.queue.Cancel(from, frameID) {
		t.log.Debug("cancelled pending frame", "from", from, "id", frameID)
	}
}

// drainLoop pops ready frames from the send queue and writes them to the
// serial port.
func (t *Transport) drainLoop(ctx context.Context) {
	defer close(t.drainDone)

	ticker := time.NewTicker(t.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				frame := t.queue.Pop()
				if frame == nil {
					break
				}
				if err := t.writeFrame(frame); err != nil {
					t.log.Warn("failed to write frame", "error", err)
				}
			}
		}
	}
}

// writeFrame encodes a frame envelope into an RS232 frame and writes it
// to the serial port.
func (t *Transport) writeFrame(frame *codec.Frame) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("not connected")
	}

	data, err := codec.EncodeEnvelope(frame)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	wire, err := codec.EncodeRS232Frame(data)
	if err != nil {
		return fmt.Errorf("encoding RS232 frame: %w", err)
	}

	_, err = port.Write(wire)
	if err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}

	return nil
}

// readLoop continuously reads from the serial port and assembles RS232 frames.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.readDone)

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		assemblyBuf = append(assemblyBuf, buf[:n]...)
		assemblyBuf = t.processFrames(assemblyBuf)
	}
}

// processFrames extracts complete RS232 frames from the buffer and
// dispatches the mesh envelopes they carry. Returns any remaining bytes
// that don't form a complete frame.
func (t *Transport) processFrames(data []byte) []byte {
	for len(data) >= codec.MinFrameSize {
		rsFrame, remaining, err := codec.DecodeRS232Frame(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteFrame) {
				return data // wait for more data
			}
			// Bad frame — try to find the next magic bytes
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			// No magic found, discard everything
			return nil
		}

		data = remaining

		frame, err := codec.DecodeEnvelope(rsFrame.Payload)
		if err != nil {
			t.log.Debug("failed to parse envelope from frame", "error", err)
			continue
		}

		t.mu.Lock()
		t.lastRSSI = frame.RxRSSI
		handler := t.frameHandler
		t.mu.Unlock()

		if handler != nil {
			handler(frame, transport.PacketSourceSerial)
		}
	}

	return data
}

// findMagic searches for the RS232 magic bytes in data.
// Returns the index of the first byte of the magic, or -1 if not found.
func findMagic(data []byte) int {
	magic := [2]byte{byte(uint16(codec.BridgePacketMagic) >> 8), byte(codec.BridgePacketMagic & 0xFF)}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] {
			return i
		}
	}
	return -1
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
