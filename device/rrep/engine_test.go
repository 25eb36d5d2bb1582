package rrep

import (
	"testing"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/device/routetable"
)

// A fresh route is installed with hop_count = r.hop_count + 1, and the
// RREP is forwarded toward the next hop when this node is not the
// terminus.
func TestHandle_InstallAndForward(t *testing.T) {
	c := clock.NewManual(1000)
	routes := routetable.New(c, routetable.Config{})
	const me = id.NodeID(999) // not the rrep's destination: forwarding case
	e := New(me, routes, Config{})

	frame := &codec.Frame{From: id.NodeID(50), HopLimit: 2}
	r := &codec.RREP{
		Source: id.NodeID(50), Destination: id.NodeID(1), RouteRequestID: 7,
		HopCount: 2, RSSI: -65, SequenceNumber: 5,
	}

	emitted := e.Handle(frame, r, false)

	route, ok := routes.Find(id.NodeID(1))
	if !ok {
		t.Fatal("expected a route to destination 1 to be installed")
	}
	if route.NextHop != id.NodeID(50) || route.HopCount != 3 || route.RSSI != -65 || route.ExpiresAt != 1000+routetable.DefaultExpiryMillis {
		t.Errorf("route = %+v, unexpected fields", route)
	}

	if len(emitted) != 1 {
		t.Fatalf("got %d emissions, want 1 (forward)", len(emitted))
	}
	out := emitted[0]
	if out.To != id.NodeID(50) || out.HopLimit != 1 {
		t.Errorf("out = %+v, want to=50 hop_limit=1", out)
	}
	fwd, err := codec.DecodeRREP(out.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fwd.HopCount != 1 {
		t.Errorf("forwarded hop_count = %d, want 1 (decremented)", fwd.HopCount)
	}
}

func TestHandle_TerminalStopsAtDestination(t *testing.T) {
	c := clock.NewManual(0)
	routes := routetable.New(c, routetable.Config{})
	const me = id.NodeID(1)
	e := New(me, routes, Config{})

	frame := &codec.Frame{From: id.NodeID(50), HopLimit: 2}
	r := &codec.RREP{
		Source: id.NodeID(50), Destination: me, RouteRequestID: 7,
		HopCount: 2, RSSI: -65, SequenceNumber: 5,
	}

	emitted := e.Handle(frame, r, false)
	if len(emitted) != 0 {
		t.Errorf("got %d emissions, want 0 when this node is the rrep's destination", len(emitted))
	}
	// The table update still runs before the terminal check.
	if _, ok := routes.Find(me); !ok {
		t.Error("route update should run even when the rrep terminates here")
	}
}

// A replacement chain at the engine level: better RSSI wins, equal RSSI
// with fewer hops wins, worse RSSI loses.
func TestHandle_MetricReplacementSequence(t *testing.T) {
	c := clock.NewManual(0)
	routes := routetable.New(c, routetable.Config{})
	const me = id.NodeID(9) // terminal: no forwarding noise in this test
	e := New(me, routes, Config{})

	routes.Offer(id.NodeID(9), id.NodeID(4), -80, 2, false)

	e.Handle(&codec.Frame{From: id.NodeID(5), HopLimit: 1},
		&codec.RREP{Source: id.NodeID(5), Destination: me, HopCount: 3, RSSI: -70}, false)
	route, _ := routes.Find(me)
	if route.NextHop != id.NodeID(5) {
		t.Errorf("after first replace, next_hop = %v, want 5", route.NextHop)
	}

	e.Handle(&codec.Frame{From: id.NodeID(6), HopLimit: 1},
		&codec.RREP{Source: id.NodeID(6), Destination: me, HopCount: 2, RSSI: -70}, false)
	route, _ = routes.Find(me)
	if route.NextHop != id.NodeID(6) {
		t.Errorf("after second replace (equal rssi, fewer hops), next_hop = %v, want 6", route.NextHop)
	}

	e.Handle(&codec.Frame{From: id.NodeID(7), HopLimit: 1},
		&codec.RREP{Source: id.NodeID(7), Destination: me, HopCount: 1, RSSI: -75}, false)
	route, _ = routes.Find(me)
	if route.NextHop != id.NodeID(6) {
		t.Errorf("worse rssi candidate should not replace, next_hop = %v, want unchanged 6", route.NextHop)
	}
}

func TestHandle_ExhaustedHopLimitSuppressesForward(t *testing.T) {
	c := clock.NewManual(0)
	routes := routetable.New(c, routetable.Config{})
	const me = id.NodeID(999)
	e := New(me, routes, Config{})

	// Sanity: Offer always installs something, so to exercise the
	// no-route path we'd need Find to fail right after Offer, which it
	// never does for the rrep's own destination. This test instead
	// confirms hop_limit==0 suppresses forwarding even though the route
	// exists.
	frame := &codec.Frame{From: id.NodeID(50), HopLimit: 0}
	r := &codec.RREP{Source: id.NodeID(50), Destination: id.NodeID(1), HopCount: 2, RSSI: -65}

	emitted := e.Handle(frame, r, false)
	if len(emitted) != 0 {
		t.Errorf("got %d emissions, want 0 when hop_limit is exhausted", len(emitted))
	}
}
