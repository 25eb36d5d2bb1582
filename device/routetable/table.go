// Package routetable maintains the router's destination routing table,
// installed and refreshed by RREP ingestion and route-discovery side
// effects in the RREQ engine.
//
// Like the neighbor table, it is a mutex-protected map with
// config-driven defaults and a scoped logger.
package routetable

import (
	"log/slog"
	"sync"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/id"
)

// DefaultExpiryMillis is the default route lifetime after a route is
// installed or refreshed.
const DefaultExpiryMillis uint32 = 30_000

// Route is one routing table row.
type Route struct {
	NextHop   id.NodeID
	RSSI      int8
	HopCount  uint16
	ExpiresAt uint32
}

// Config configures a Table.
type Config struct {
	// ExpiryMillis is how long a route survives after install/refresh.
	// Default: DefaultExpiryMillis (30000ms).
	ExpiryMillis uint32

	// Logger for route table events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Table is a thread-safe map of destination NodeID to its best known
// Route.
type Table struct {
	cfg Config
	log *slog.Logger
	clk clock.Clock

	mu     sync.RWMutex
	routes map[id.NodeID]*Route
}

// New creates a routing Table with the given clock and configuration.
func New(clk clock.Clock, cfg Config) *Table {
	if cfg.ExpiryMillis == 0 {
		cfg.ExpiryMillis = DefaultExpiryMillis
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		cfg:    cfg,
		log:    logger.WithGroup("routetable"),
		clk:    clk,
		routes: make(map[id.NodeID]*Route),
	}
}

// Better reports whether candidate (rssiA, hopA) replaces incumbent
// (rssiB, hopB) under the RSSI-biased metric: A replaces B iff
// A.rssi > B.rssi, or A.rssi == B.rssi and A.hop_count < B.hop_count.
func Better(rssiA int8, hopA uint16, rssiB int8, hopB uint16) bool {
	if rssiA > rssiB {
		return true
	}
	if rssiA == rssiB && hopA < hopB {
		return true
	}
	return false
}

// Find returns the non-expired route to dest. An entry whose expiry has
// passed is removed and reported as absent.
func (t *Table) Find(dest id.NodeID) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[dest]
	if !ok {
		return Route{}, false
	}
	now := t.clk.NowMillis()
	if int32(now-r.ExpiresAt) > 0 {
		delete(t.routes, dest)
		return Route{}, false
	}
	return *r, true
}

// Offer installs a fresh route to dest if none exists, or replaces the
// existing one if the candidate wins under the RSSI-biased metric. The
// expiry is refreshed to now + ExpiryMillis whether or not a replacement
// occurred: a losing candidate still proves the destination is alive.
//
// invalidate forces an unconditional replacement, bypassing the metric
// comparison, for when a route must be torn down and rebuilt.
//
// Returns true if the stored route changed (installed or replaced).
func (t *Table) Offer(dest, nextHop id.NodeID, rssi int8, hopCount uint16, invalidate bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.NowMillis()
	expiresAt := now + t.cfg.ExpiryMillis

	existing, ok := t.routes[dest]
	if !ok {
		t.routes[dest] = &Route{NextHop: nextHop, RSSI: rssi, HopCount: hopCount, ExpiresAt: expiresAt}
		t.log.Debug("route installed", "dest", dest, "next_hop", nextHop, "rssi", rssi, "hop_count", hopCount)
		return true
	}

	replace := invalidate || Better(rssi, hopCount, existing.RSSI, existing.HopCount)
	existing.ExpiresAt = expiresAt
	if !replace {
		return false
	}
	existing.NextHop = nextHop
	existing.RSSI = rssi
	existing.HopCount = hopCount
	t.log.Debug("route replaced", "dest", dest, "next_hop", nextHop, "rssi", rssi, "hop_count", hopCount)
	return true
}

// Len returns the number of currently-stored (not necessarily unexpired)
// routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Sweep evicts all routes whose expiry has passed. The RREQ engine runs
// this at the end of every request that reaches its propagate step.
func (t *Table) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.NowMillis()
	for dest, r := range t.routes {
		if int32(now-r.ExpiresAt) > 0 {
			delete(t.routes, dest)
		}
	}
}
