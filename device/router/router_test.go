package router

import (
	"context"
	"errors"
	"testing"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/transport"
)

const me = id.NodeID(100)

// mockTransport records sends and cancellations for assertions.
type mockTransport struct {
	role    transport.Role
	sent    []*codec.Frame
	sendErr error

	cancelled []cancelCall
}

type cancelCall struct {
	from    id.NodeID
	frameID uint32
}

func (m *mockTransport) Start(ctx context.Context) error           { return nil }
func (m *mockTransport) Stop() error                               { return nil }
func (m *mockTransport) IsConnected() bool                         { return true }
func (m *mockTransport) SetFrameHandler(fn transport.FrameHandler) {}
func (m *mockTransport) SetStateHandler(fn transport.StateHandler) {}
func (m *mockTransport) LocalRSSI() int8                           { return -50 }
func (m *mockTransport) LocalNodeID() id.NodeID                    { return me }
func (m *mockTransport) Role() transport.Role                      { return m.role }

func (m *mockTransport) Send(frame *codec.Frame) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, frame)
	return nil
}

func (m *mockTransport) CancelPending(from id.NodeID, frameID uint32) {
	m.cancelled = append(m.cancelled, cancelCall{from: from, frameID: frameID})
}

func newTestRouter(role transport.Role) (*Router, *mockTransport, *clock.Manual) {
	mt := &mockTransport{role: role}
	c := clock.NewManual(0)
	return New(mt, c, Config{}), mt, c
}

func rreqFrame(from id.NodeID, frameID uint32, hopLimit uint8, q *codec.RREQ) *codec.Frame {
	return &codec.Frame{
		From:     from,
		To:       id.Broadcast,
		ID:       frameID,
		HopLimit: hopLimit,
		Port:     codec.AODVPort,
		Payload:  codec.EncodeRREQ(q),
	}
}

func TestFilterIncoming_DuplicateSuppression(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	frame := &codec.Frame{From: id.NodeID(1), ID: 42, Port: 9, HopLimit: 3}
	if r.FilterIncoming(frame) {
		t.Fatal("first sighting of an app frame should not be filtered")
	}
	r.IngestIncoming(frame)

	if !r.FilterIncoming(frame) {
		t.Error("second sighting should be filtered as a duplicate")
	}
	if len(mt.sent) != 0 {
		t.Errorf("duplicate produced %d emissions, want 0", len(mt.sent))
	}
}

func TestFilterIncoming_RoleGatedCancellation(t *testing.T) {
	cases := []struct {
		role       transport.Role
		wantCancel bool
	}{
		{transport.RoleClient, true},
		{transport.RoleClientMute, true},
		{transport.RoleRouter, false},
		{transport.RoleRouterClient, false},
		{transport.RoleRepeater, false},
	}
	for _, c := range cases {
		r, mt, _ := newTestRouter(c.role)
		frame := &codec.Frame{From: id.NodeID(1), ID: 42, Port: 9, HopLimit: 3}
		r.IngestIncoming(frame)
		r.FilterIncoming(frame)

		if got := len(mt.cancelled) > 0; got != c.wantCancel {
			t.Errorf("role %v: cancel called = %v, want %v", c.role, got, c.wantCancel)
		}
		if c.wantCancel {
			if mt.cancelled[0] != (cancelCall{from: id.NodeID(1), frameID: 42}) {
				t.Errorf("role %v: cancelled %+v, want (1, 42)", c.role, mt.cancelled[0])
			}
		}
	}
}

func TestFilterIncoming_BeaconFeedsNeighborTable(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	frame := &codec.Frame{
		From:    id.NodeID(7),
		To:      id.Broadcast,
		ID:      1,
		Port:    codec.RSSIBeaconPort,
		Payload: codec.EncodeBeacon(-62),
	}
	if !r.FilterIncoming(frame) {
		t.Fatal("beacons must be filtered (never propagated)")
	}
	if got := r.NeighborRSSI(id.NodeID(7)); got != -62 {
		t.Errorf("NeighborRSSI(7) = %d, want -62", got)
	}
	if len(mt.sent) != 0 {
		t.Errorf("beacon handling emitted %d frames, want 0", len(mt.sent))
	}
}

// An RREQ for this node, driven through the facade, produces exactly one
// RREP back to the sender.
func TestFilterIncoming_TerminalRREQ(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	beaconFrame := &codec.Frame{From: id.NodeID(1), ID: 1, Port: codec.RSSIBeaconPort, Payload: codec.EncodeBeacon(-58)}
	r.FilterIncoming(beaconFrame)

	q := &codec.RREQ{
		Source: id.NodeID(1), Destination: me, BroadcastID: 7,
		RouteRequestID: 7, HopCount: 2, RSSI: -70, SequenceNumber: 5,
	}
	if !r.FilterIncoming(rreqFrame(id.NodeID(1), 2, 5, q)) {
		t.Fatal("control frames must be filtered")
	}

	if len(mt.sent) != 1 {
		t.Fatalf("got %d emissions, want 1 RREP", len(mt.sent))
	}
	out := mt.sent[0]
	if out.To != id.NodeID(1) || out.Port != codec.AODVPort {
		t.Errorf("emission = %+v, want AODV frame to node 1", out)
	}
	rrep, err := codec.DecodeRREP(out.Payload)
	if err != nil {
		t.Fatalf("decode rrep: %v", err)
	}
	if rrep.Source != me || rrep.Destination != id.NodeID(1) || rrep.HopCount != 0 || rrep.RSSI != -58 {
		t.Errorf("rrep = %+v, want source=100 destination=1 hop_count=0 rssi=-58", rrep)
	}
}

// An RREP for another node, driven through the facade, installs a route
// and forwards along it.
func TestFilterIncoming_RREPInstallsRoute(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	p := &codec.RREP{
		Source: id.NodeID(50), Destination: id.NodeID(1), RouteRequestID: 7,
		HopCount: 2, RSSI: -65, SequenceNumber: 5,
	}
	frame := &codec.Frame{
		From: id.NodeID(50), To: me, ID: 3, HopLimit: 2,
		Port: codec.AODVPort, Payload: codec.EncodeRREP(p),
	}
	if !r.FilterIncoming(frame) {
		t.Fatal("control frames must be filtered")
	}

	route, ok := r.FindRoute(id.NodeID(1))
	if !ok {
		t.Fatal("expected a route to node 1 after RREP ingestion")
	}
	if route.NextHop != id.NodeID(50) || route.HopCount != 3 || route.RSSI != -65 {
		t.Errorf("route = %+v, want next_hop=50 hop_count=3 rssi=-65", route)
	}

	if len(mt.sent) != 1 {
		t.Fatalf("got %d emissions, want 1 forwarded RREP", len(mt.sent))
	}
	if mt.sent[0].To != id.NodeID(50) || mt.sent[0].HopLimit != 1 {
		t.Errorf("forward = %+v, want unicast to 50 with hop_limit=1", mt.sent[0])
	}
}

func TestFilterIncoming_TTLExpiredControlFrameStillFiltered(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	q := &codec.RREQ{Source: id.NodeID(1), Destination: id.NodeID(200), BroadcastID: 9, SequenceNumber: 1}
	if !r.FilterIncoming(rreqFrame(id.NodeID(1), 4, 0, q)) {
		t.Error("an AODV frame with hop_limit 0 is consumed, not surfaced")
	}
	if len(mt.sent) != 0 {
		t.Errorf("ttl-expired frame produced %d emissions, want 0", len(mt.sent))
	}
}

func TestFilterIncoming_MalformedControlFrameDropped(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleRouter)

	frame := &codec.Frame{From: id.NodeID(1), ID: 5, HopLimit: 3, Port: codec.AODVPort, Payload: []byte{1, 2, 3}}
	if !r.FilterIncoming(frame) {
		t.Error("a malformed control frame is consumed, not surfaced")
	}
	if len(mt.sent) != 0 {
		t.Errorf("malformed frame produced %d emissions, want 0", len(mt.sent))
	}
}

func TestSubmitOutgoing_SuppressesEcho(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleClient)

	frame := &codec.Frame{From: me, To: id.NodeID(9), ID: 77, Port: 9}
	if err := r.SubmitOutgoing(frame); err != nil {
		t.Fatalf("SubmitOutgoing: %v", err)
	}
	if len(mt.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(mt.sent))
	}

	echo := &codec.Frame{From: me, To: id.NodeID(9), ID: 77, Port: 9}
	if !r.FilterIncoming(echo) {
		t.Error("the node's own transmission echoing back should be filtered")
	}
}

func TestSubmitOutgoing_PropagatesTransportError(t *testing.T) {
	r, mt, _ := newTestRouter(transport.RoleClient)
	mt.sendErr = errors.New("radio busy")

	err := r.SubmitOutgoing(&codec.Frame{To: id.NodeID(9), ID: 1})
	if !errors.Is(err, mt.sendErr) {
		t.Errorf("err = %v, want the transport error unchanged", err)
	}
}

func TestManage_EmitsBeaconOnSchedule(t *testing.T) {
	r, mt, c := newTestRouter(transport.RoleRouter)

	beaconFrame := &codec.Frame{From: id.NodeID(3), ID: 1, Port: codec.RSSIBeaconPort, Payload: codec.EncodeBeacon(-44)}
	r.FilterIncoming(beaconFrame)

	r.Manage()
	if len(mt.sent) != 1 {
		t.Fatalf("got %d sends, want 1 beacon", len(mt.sent))
	}
	out := mt.sent[0]
	if out.Port != codec.RSSIBeaconPort || out.To != id.Broadcast {
		t.Errorf("beacon = %+v, want broadcast on the beacon port", out)
	}
	rssi, err := codec.DecodeBeacon(out.Payload)
	if err != nil {
		t.Fatalf("decode beacon: %v", err)
	}
	if rssi != -44 {
		t.Errorf("beacon rssi = %d, want -44 (most recent received)", rssi)
	}

	// Within the interval nothing further is emitted.
	c.Advance(500)
	r.Manage()
	if len(mt.sent) != 1 {
		t.Errorf("got %d sends, want still 1 before the interval elapses", len(mt.sent))
	}

	c.Advance(10_000)
	r.Manage()
	if len(mt.sent) != 2 {
		t.Errorf("got %d sends, want 2 after the interval elapses", len(mt.sent))
	}
}

func TestManage_MuteClientNeverBeacons(t *testing.T) {
	r, mt, c := newTestRouter(transport.RoleClientMute)

	r.Manage()
	c.Advance(30_000)
	r.Manage()
	if len(mt.sent) != 0 {
		t.Errorf("mute client emitted %d beacons, want 0", len(mt.sent))
	}
}

func TestManage_SweepsNeighbors(t *testing.T) {
	r, _, c := newTestRouter(transport.RoleRouter)

	r.FilterIncoming(&codec.Frame{From: id.NodeID(3), ID: 1, Port: codec.RSSIBeaconPort, Payload: codec.EncodeBeacon(-44)})
	c.Advance(6_000)
	r.Manage()

	if got := r.NeighborRSSI(id.NodeID(3)); got != -120 {
		t.Errorf("NeighborRSSI(3) = %d after timeout, want the unknown sentinel", got)
	}
}
