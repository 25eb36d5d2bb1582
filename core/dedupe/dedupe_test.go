package dedupe

import (
	"testing"

	"github.com/n8kdx/rssi-aodv/core/clock"
)

func TestSeen_NewID(t *testing.T) {
	s := New(clock.NewManual(0), 1000)
	if s.Seen(7) {
		t.Error("Seen(7) on a fresh set should return false")
	}
}

func TestSeen_Duplicate(t *testing.T) {
	s := New(clock.NewManual(0), 1000)
	s.Seen(7)
	if !s.Seen(7) {
		t.Error("Seen(7) a second time should return true")
	}
}

func TestSeen_EvictsAfterRetention(t *testing.T) {
	c := clock.NewManual(0)
	s := New(c, 1000)

	s.Seen(7)
	c.Advance(999)
	if !s.Contains(7) {
		t.Error("entry should still be present just under the retention window")
	}
	c.Advance(2)
	if s.Contains(7) {
		t.Error("entry should have been evicted past the retention window")
	}
	// Once evicted, it's a fresh ID again.
	if s.Seen(7) {
		t.Error("Seen(7) after eviction should return false")
	}
}

func TestInsert_Idempotent(t *testing.T) {
	s := New(clock.NewManual(0), 1000)
	s.Insert(1)
	s.Insert(1)
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestLen(t *testing.T) {
	s := New(clock.NewManual(0), 1000)
	s.Seen(1)
	s.Seen(2)
	s.Seen(1)
	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}
