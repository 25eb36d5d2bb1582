// Package dedupe tracks recently-seen 32-bit identifiers with age-based
// eviction — the router's duplicate suppression primitive.
//
// Two independent sets exist at the call site, both built from this same
// Set type: one keyed by frame.ID (envelope level, used by the router
// facade's FilterIncoming) and one keyed by RREQ broadcast_id
// (discovery level, used by the RREQ engine). Entries are evicted once
// they are older than the configured retention window, not by a fixed
// capacity alone, so a quiet network never wrongly suppresses a frame
// that merely reused a slot.
package dedupe

import "github.com/n8kdx/rssi-aodv/core/clock"

// Set is a duplicate-suppression set of uint32 identifiers (frame IDs or
// RREQ broadcast IDs). Insertion is idempotent; Seen is the combined
// "has this been observed, and if not, record it" operation the router
// needs at every call site.
type Set struct {
	clk       clock.Clock
	retention uint32 // milliseconds
	seenAt    map[uint32]uint32
}

// New creates a Set that evicts entries older than retentionMillis.
func New(clk clock.Clock, retentionMillis uint32) *Set {
	return &Set{
		clk:       clk,
		retention: retentionMillis,
		seenAt:    make(map[uint32]uint32),
	}
}

// Contains reports whether id is currently tracked as seen, without
// inserting it. Expired entries are swept first so a stale hit never
// survives past its retention window.
func (s *Set) Contains(id uint32) bool {
	s.sweep()
	_, ok := s.seenAt[id]
	return ok
}

// Seen reports whether id has already been recorded. If not, it records
// id at the current time and returns false. This is the propagate-gate
// idiom: "drop if seen, else insert and proceed."
func (s *Set) Seen(id uint32) bool {
	s.sweep()
	if _, ok := s.seenAt[id]; ok {
		return true
	}
	s.seenAt[id] = s.clk.NowMillis()
	return false
}

// Insert unconditionally records id as seen at the current time,
// idempotently. Re-inserting an already-seen id does not refresh its
// timestamp: the suppression window is fixed, not sliding.
func (s *Set) Insert(id uint32) {
	s.sweep()
	if _, ok := s.seenAt[id]; ok {
		return
	}
	s.seenAt[id] = s.clk.NowMillis()
}

// Len returns the number of currently-tracked (non-expired) entries.
func (s *Set) Len() int {
	s.sweep()
	return len(s.seenAt)
}

// sweep evicts entries older than the retention window.
func (s *Set) sweep() {
	now := s.clk.NowMillis()
	for id, at := range s.seenAt {
		if clock.Elapsed(now, at, s.retention) {
			delete(s.seenAt, id)
		}
	}
}
