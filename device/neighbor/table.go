// Package neighbor maintains the router's one-hop neighbor table, built
// from received RSSI beacons. It is a standalone data structure with no
// dependency on the router: a mutex-protected map with config-driven
// defaults and a scoped logger.
package neighbor

import (
	"log/slog"
	"sync"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/id"
)

// RSSIUnknown is the sentinel returned for a node with no recorded RSSI.
const RSSIUnknown int8 = -120

// DefaultTimeoutMillis is the default neighbor entry lifetime after its
// last beacon.
const DefaultTimeoutMillis uint32 = 5_000

// Entry is one neighbor table row.
type Entry struct {
	RSSI     int8
	LastSeen uint32
	HopCount uint16 // always 1 for a direct neighbor
}

// Config configures a Table.
type Config struct {
	// TimeoutMillis is how long a neighbor entry survives after its last
	// beacon. Default: DefaultTimeoutMillis (5000ms).
	TimeoutMillis uint32

	// Logger for neighbor table events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Table is a thread-safe map of NodeID to its most recently observed
// neighbor entry.
type Table struct {
	cfg Config
	log *slog.Logger
	clk clock.Clock

	mu      sync.RWMutex
	entries map[id.NodeID]*Entry
}

// New creates a neighbor Table with the given clock and configuration.
func New(clk clock.Clock, cfg Config) *Table {
	if cfg.TimeoutMillis == 0 {
		cfg.TimeoutMillis = DefaultTimeoutMillis
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		cfg:     cfg,
		log:     logger.WithGroup("neighbor"),
		clk:     clk,
		entries: make(map[id.NodeID]*Entry),
	}
}

// OnBeacon records a beacon observed from a neighbor, overwriting its RSSI
// and refresh timestamp if it already exists, or inserting a fresh
// hop-count-1 entry if it doesn't. It then sweeps expired entries.
func (t *Table) OnBeacon(from id.NodeID, rssi int8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.NowMillis()
	if e, ok := t.entries[from]; ok {
		e.RSSI = rssi
		e.LastSeen = now
	} else {
		t.entries[from] = &Entry{RSSI: rssi, LastSeen: now, HopCount: 1}
		t.log.Debug("new neighbor", "node", from, "rssi", rssi)
	}
	t.sweepLocked()
}

// RSSIFor returns the stored RSSI for n, or RSSIUnknown if n is not a
// current neighbor.
func (t *Table) RSSIFor(n id.NodeID) int8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[n]; ok {
		return e.RSSI
	}
	return RSSIUnknown
}

// MostRecentRSSI returns the RSSI of the most recently refreshed neighbor
// entry, or RSSIUnknown when the table is empty. This is the value carried
// in outgoing beacons: the link quality of the node's latest reception,
// not its own transmit power.
func (t *Table) MostRecentRSSI() int8 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rssi := RSSIUnknown
	var newest uint32
	found := false
	for _, e := range t.entries {
		if !found || e.LastSeen >= newest {
			rssi = e.RSSI
			newest = e.LastSeen
			found = true
		}
	}
	return rssi
}

// Get returns the neighbor entry for n and whether it exists.
func (t *Table) Get(n id.NodeID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[n]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of current (non-expired as of the last sweep)
// neighbor entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Sweep evicts entries whose last beacon is older than the configured
// timeout. OnBeacon already sweeps after every update; this is exposed so
// the router's Manage tick can also
// trigger eviction on a quiet link with no recent beacons.
func (t *Table) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
}

func (t *Table) sweepLocked() {
	now := t.clk.NowMillis()
	for n, e := range t.entries {
		if clock.Elapsed(now, e.LastSeen, t.cfg.TimeoutMillis) {
			delete(t.entries, n)
		}
	}
}
