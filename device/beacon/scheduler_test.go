package beacon

import (
	"testing"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
)

func TestManage_FiresImmediatelyOnFirstCall(t *testing.T) {
	s := New(id.NodeID(1), Config{IntervalMillis: 10_000})
	frame := s.Manage(0, -70)
	if frame == nil {
		t.Fatal("expected a beacon on the first Manage call")
	}
	if frame.To != id.Broadcast || frame.Port != codec.RSSIBeaconPort {
		t.Errorf("frame = %+v, want broadcast on the beacon port", frame)
	}
	rssi, err := codec.DecodeBeacon(frame.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rssi != -70 {
		t.Errorf("rssi = %d, want -70", rssi)
	}
}

func TestManage_WaitsForInterval(t *testing.T) {
	s := New(id.NodeID(1), Config{IntervalMillis: 10_000})
	s.Manage(0, -70)

	if frame := s.Manage(5_000, -70); frame != nil {
		t.Error("expected no beacon before the interval elapses")
	}
	if frame := s.Manage(10_000, -70); frame == nil {
		t.Error("expected a beacon once the interval elapses")
	}
}
