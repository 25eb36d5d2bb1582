// Package mqtt provides an MQTT transport that bridges mesh segments.
//
// Frame envelopes are transmitted as base64-encoded strings over MQTT
// topics in the format "{prefix}/{meshID}". This lets geographically
// separated development or test segments exchange routing traffic over
// any standard MQTT broker without real radios; the rx_rssi carried in
// the envelope stands in for a radio measurement.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix for mesh frames.
	DefaultTopicPrefix = "rssi-aodv"

	// DefaultTxDelay is how long a relayed frame is held in the send
	// queue before publication, giving duplicate suppression a window to
	// cancel it.
	DefaultTxDelay = 200 * time.Millisecond

	// DefaultDrainInterval is how often the send queue is checked for
	// ready frames.
	DefaultDrainInterval = 10 * time.Millisecond
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "rssi-aodv").
	TopicPrefix string
	// MeshID identifies this mesh segment (e.g., "my-mesh"). The transport
	// subscribes to "{TopicPrefix}/{MeshID}" and publishes to the same topic.
	MeshID string
	// NodeID is the local node identity.
	NodeID id.NodeID
	// Role is the local node's mesh participation level.
	Role transport.Role
	// TxDelay is how long relayed frames are held before publication.
	// Defaults to DefaultTxDelay.
	TxDelay time.Duration
	// DrainInterval is how often the send queue drain loop runs.
	// Defaults to DefaultDrainInterval.
	DrainInterval time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger
	queue  *transport.SendQueue

	mu           sync.RWMutex
	connected    bool
	lastRSSI     int8
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler

	drainCancel context.CancelFunc
	drainDone   chan struct{}
}

// New creates an MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
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
		log:      cfg.Logger.WithGroup("mqtt"),
		queue:    transport.NewSendQueue(),
		lastRSSI: -120,
	}
}

// Start connects to the MQTT broker and begins listening for frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.MeshID == "" {
		return errors.New("mesh ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "rssi-aodv-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	drainCtx, cancel := context.WithCancel(ctx)
	t.drainCancel = cancel
	t.drainDone = make(chan struct{})
	go t.drainLoop(drainCtx)

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	if t.drainCancel != nil {
		t.drainCancel()
		<-t.drainDone
		t.drainCancel = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
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

// LocalRSSI returns the rx_rssi carried by the most recently received
// frame, or -120 before anything has been received.
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

// Send queues a frame for publication to the mesh topic. Frames relayed
// on behalf of another node are held for TxDelay so they can still be
// cancelled. The queue holds a clone, so the caller's frame is not
// retained past this call.
func (t *Transport) Send(frame *codec.Frame) error {
	if !t.IsConnected() {
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

// CancelPending removes a not-yet-published frame from the send queue.
// A frame already published is unaffected.
func (t *Transport) CancelPending(from id.NodeID, frameID uint32) {
	if t.queue.Cancel(from, frameID) {
		t.log.Debug("cancelled pending frame", "from", from, "id", frameID)
	}
}

// drainLoop pops ready frames from the send queue and publishes them.
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
				if err := t.publish(frame); err != nil {
					t.log.Warn("failed to publish frame", "error", err)
				}
			}
		}
	}
}

// publish encodes a frame envelope and publishes it to the mesh topic.
func (t *Transport) publish(frame *codec.Frame) error {
	data, err := codec.EncodeEnvelope(frame)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(data)

	token := t.client.Publish(t.topic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (t *Transport) topic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.MeshID
}

func (t *Transport) subscribe() {
	topic := t.topic()
	t.client.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed to mesh topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	rawData, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		t.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	frame, err := codec.DecodeEnvelope(rawData)
	if err != nil {
		t.log.Debug("failed to parse envelope", "error", err)
		return
	}

	// The node's own publications come back on the shared topic; the
	// router's seen set would drop them anyway, but skipping here keeps
	// the loopback off the handler entirely.
	if frame.From == t.cfg.NodeID {
		return
	}

	t.mu.Lock()
	t.lastRSSI = frame.RxRSSI
	handler := t.frameHandler
	t.mu.Unlock()

	if handler != nil {
		handler(frame, transport.PacketSourceMQTT)
	}
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
