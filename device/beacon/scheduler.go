// Package beacon implements the periodic RSSI beacon: a single function
// plus a timestamp field, invoked cooperatively from the router's Manage
// tick rather than owning a timer goroutine of its own.
package beacon

import (
	"log/slog"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
)

// DefaultIntervalMillis is the default beacon period (BEACON_INTERVAL).
const DefaultIntervalMillis uint32 = 10_000

// Config configures a Scheduler.
type Config struct {
	// IntervalMillis is the beacon period. Default: DefaultIntervalMillis.
	IntervalMillis uint32

	// Logger for beacon events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Scheduler tracks when the next beacon is due.
type Scheduler struct {
	me  id.NodeID
	cfg Config
	log *slog.Logger

	nextBeaconAt uint32
}

// New creates a beacon Scheduler for local node me. The first call to
// Manage always fires, since nextBeaconAt starts at zero.
func New(me id.NodeID, cfg Config) *Scheduler {
	if cfg.IntervalMillis == 0 {
		cfg.IntervalMillis = DefaultIntervalMillis
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{me: me, cfg: cfg, log: logger.WithGroup("beacon")}
}

// Manage checks whether a beacon is due at now and, if so, returns the
// frame to broadcast and sets nextBeaconAt to now + IntervalMillis.
// localRSSI is the RSSI of the most recently received frame as held by
// the neighbor table, not this node's own transmit power.
func (s *Scheduler) Manage(now uint32, localRSSI int8) *codec.Frame {
	if s.nextBeaconAt != 0 && int32(now-s.nextBeaconAt) < 0 {
		return nil
	}
	s.nextBeaconAt = now + s.cfg.IntervalMillis
	s.log.Debug("beacon due", "rssi", localRSSI, "next", s.nextBeaconAt)
	return &codec.Frame{
		From:    s.me,
		To:      id.Broadcast,
		Port:    codec.RSSIBeaconPort,
		Payload: codec.EncodeBeacon(localRSSI),
	}
}
