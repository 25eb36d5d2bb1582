// Package router provides the routing facade for an RSSI-weighted AODV
// mesh node. It sits between the transport (serial radio bridge, MQTT
// segment bridge) and the application layer, deciding for every frame
// whether to accept, suppress, forward, or originate. It owns the
// neighbor and routing tables and the duplicate-suppression sets, and
// dispatches control traffic to the RREQ/RREP engines by port number.
//
// The router is designed to be driven from a single loop that interleaves
// FilterIncoming, IngestIncoming, and Manage. The entry points serialize
// on an internal mutex so a transport reader goroutine and a timer
// goroutine can also drive it directly.
package router

import (
	"log/slog"
	"sync"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/dedupe"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/device/beacon"
	"github.com/n8kdx/rssi-aodv/device/metrics"
	"github.com/n8kdx/rssi-aodv/device/neighbor"
	"github.com/n8kdx/rssi-aodv/device/routetable"
	"github.com/n8kdx/rssi-aodv/device/rrep"
	"github.com/n8kdx/rssi-aodv/device/rreq"
	"github.com/n8kdx/rssi-aodv/transport"
)

// DefaultDupRetentionMillis is the default retention window for the
// envelope-level and discovery-level seen sets. Sized well above four
// expected discovery round trips.
const DefaultDupRetentionMillis uint32 = 60_000

// Config configures a Router.
type Config struct {
	// DupRetentionMillis is the seen-set retention window, shared by the
	// envelope-level set (frame IDs) and the discovery-level set (RREQ
	// broadcast IDs). Default: DefaultDupRetentionMillis.
	DupRetentionMillis uint32

	// BeaconIntervalMillis is the RSSI beacon period. Default:
	// beacon.DefaultIntervalMillis.
	BeaconIntervalMillis uint32

	// RouteExpiryMillis is the routing table entry lifetime. Default:
	// routetable.DefaultExpiryMillis.
	RouteExpiryMillis uint32

	// NeighborTimeoutMillis is the neighbor entry lifetime. Default:
	// neighbor.DefaultTimeoutMillis.
	NeighborTimeoutMillis uint32

	// Metrics, if non-nil, records router and engine counters. Nil is
	// valid (tests construct routers without a Prometheus registry).
	Metrics *metrics.Metrics

	// Logger for routing events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Router is the routing facade for one mesh node.
type Router struct {
	t   transport.Transport
	me  id.NodeID
	clk clock.Clock
	log *slog.Logger
	met *metrics.Metrics

	mu         sync.Mutex
	seenFrames *dedupe.Set
	neighbors  *neighbor.Table
	routes     *routetable.Table
	rreqEng    *rreq.Engine
	rrepEng    *rrep.Engine
	beacons    *beacon.Scheduler
	lastID     uint32
}

// New creates a Router on top of t, using clk for all expiry decisions.
// The local node identity and role are read from the transport.
func New(t transport.Transport, clk clock.Clock, cfg Config) *Router {
	if cfg.DupRetentionMillis == 0 {
		cfg.DupRetentionMillis = DefaultDupRetentionMillis
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.WithGroup("router")

	me := t.LocalNodeID()
	neighbors := neighbor.New(clk, neighbor.Config{
		TimeoutMillis: cfg.NeighborTimeoutMillis,
		Logger:        logger,
	})
	routes := routetable.New(clk, routetable.Config{
		ExpiryMillis: cfg.RouteExpiryMillis,
		Logger:       logger,
	})
	seenRREQs := dedupe.New(clk, cfg.DupRetentionMillis)

	return &Router{
		t:          t,
		me:         me,
		clk:        clk,
		log:        log,
		met:        cfg.Metrics,
		seenFrames: dedupe.New(clk, cfg.DupRetentionMillis),
		neighbors:  neighbors,
		routes:     routes,
		rreqEng: rreq.New(me, clk, routes, neighbors, seenRREQs, rreq.Config{
			Logger:  logger,
			Metrics: cfg.Metrics,
		}),
		rrepEng: rrep.New(me, routes, rrep.Config{
			Logger:  logger,
			Metrics: cfg.Metrics,
		}),
		beacons: beacon.New(me, beacon.Config{
			IntervalMillis: cfg.BeaconIntervalMillis,
			Logger:         logger,
		}),
	}
}

// SubmitOutgoing records the frame's ID in the envelope seen set, so the
// node's own transmission is suppressed if it echoes back, then hands the
// frame to the transport. A transport error is returned to the caller
// unchanged. If frame.ID is zero a fresh ID is allocated first.
func (r *Router) SubmitOutgoing(frame *codec.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frame.ID == 0 {
		frame.ID = r.allocID()
	}
	r.seenFrames.Insert(frame.ID)
	if err := r.t.Send(frame); err != nil {
		return err
	}
	if r.met != nil {
		r.met.FramesSent.WithLabelValues("submit").Inc()
	}
	return nil
}

// FilterIncoming decides whether the frame must be dropped by upper
// layers, returning true to drop. Beacons and AODV control frames are
// consumed here (dispatched to the neighbor table or the RREQ/RREP
// engines) and never surface. A frame whose ID was already seen is a
// duplicate; when the local role does not rebroadcast, any pending
// rebroadcast of that frame is cancelled on the transport, best effort.
func (r *Router) FilterIncoming(frame *codec.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seenFrames.Contains(frame.ID) {
		r.log.Debug("duplicate frame", "from", frame.From, "id", frame.ID)
		if r.met != nil {
			r.met.DuplicatesDropped.Inc()
		}
		if !r.t.Role().CanRebroadcast() {
			r.t.CancelPending(frame.From, frame.ID)
		}
		return true
	}

	switch frame.Port {
	case codec.RSSIBeaconPort:
		r.handleBeacon(frame)
		return true
	case codec.AODVPort:
		if frame.HopLimit > 0 {
			r.handleControl(frame)
		} else {
			r.log.Debug("control frame ttl expired", "from", frame.From, "id", frame.ID)
		}
		return true
	}

	// Unknown port: fall through to the transport's flood policy.
	return false
}

// IngestIncoming is called after filtering succeeds. It records the
// frame's ID in the envelope seen set and performs the same protocol
// handling as FilterIncoming without the duplicate short-circuit.
func (r *Router) IngestIncoming(frame *codec.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seenFrames.Insert(frame.ID)
	if r.met != nil {
		r.met.FramesReceived.Inc()
	}

	switch frame.Port {
	case codec.RSSIBeaconPort:
		r.handleBeacon(frame)
	case codec.AODVPort:
		if frame.HopLimit > 0 {
			r.handleControl(frame)
		}
	}
}

// Manage is the router's timer tick: it sweeps the neighbor table and
// emits the periodic RSSI beacon when one is due. Invocation cadence is
// the caller's responsibility; anything from the beacon interval down to
// every loop iteration is fine.
func (r *Router) Manage() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.neighbors.Sweep()

	if r.t.Role() == transport.RoleClientMute {
		return
	}
	frame := r.beacons.Manage(r.clk.NowMillis(), r.neighbors.MostRecentRSSI())
	if frame == nil {
		return
	}
	frame.ID = r.allocID()
	r.seenFrames.Insert(frame.ID)
	if err := r.t.Send(frame); err != nil {
		r.log.Warn("beacon send failed", "error", err)
		return
	}
	if r.met != nil {
		r.met.FramesSent.WithLabelValues("beacon").Inc()
	}
}

// FindRoute returns the current non-expired route to dest, if any.
func (r *Router) FindRoute(dest id.NodeID) (routetable.Route, bool) {
	return r.routes.Find(dest)
}

// NeighborRSSI returns the stored RSSI for n, or neighbor.RSSIUnknown.
func (r *Router) NeighborRSSI(n id.NodeID) int8 {
	return r.neighbors.RSSIFor(n)
}

func (r *Router) handleBeacon(frame *codec.Frame) {
	rssi, err := codec.DecodeBeacon(frame.Payload)
	if err != nil {
		r.log.Debug("malformed beacon", "from", frame.From, "error", err)
		if r.met != nil {
			r.met.MalformedFrames.Inc()
		}
		return
	}
	r.neighbors.OnBeacon(frame.From, rssi)
	if r.met != nil {
		r.met.BeaconsReceived.Inc()
	}
}

func (r *Router) handleControl(frame *codec.Frame) {
	pt, ok := codec.PacketType(frame.Payload)
	if !ok {
		r.log.Debug("malformed control frame", "from", frame.From, "len", len(frame.Payload))
		if r.met != nil {
			r.met.MalformedFrames.Inc()
		}
		return
	}

	switch pt {
	case codec.PacketTypeRREQ:
		q, err := codec.DecodeRREQ(frame.Payload)
		if err != nil {
			r.malformed(frame, err)
			return
		}
		if r.met != nil {
			r.met.RREQReceived.Inc()
		}
		r.emit(r.rreqEng.Handle(frame, q), "rreq")
	case codec.PacketTypeRREP:
		p, err := codec.DecodeRREP(frame.Payload)
		if err != nil {
			r.malformed(frame, err)
			return
		}
		if r.met != nil {
			r.met.RREPReceived.Inc()
		}
		r.emit(r.rrepEng.Handle(frame, p, false), "rrep")
	}
}

// emit sends engine-produced frames. Internal emissions never surface an
// error to the caller: a transport failure here is logged and the frame
// discarded, since discovery is retried by the originator anyway.
func (r *Router) emit(frames []*codec.Frame, kind string) {
	for _, frame := range frames {
		if frame.ID == 0 {
			frame.ID = r.allocID()
		}
		r.seenFrames.Insert(frame.ID)
		if err := r.t.Send(frame); err != nil {
			r.log.Warn("send failed", "kind", kind, "to", frame.To, "error", err)
			continue
		}
		if r.met != nil {
			r.met.FramesSent.WithLabelValues(kind).Inc()
		}
	}
}

func (r *Router) malformed(frame *codec.Frame, err error) {
	r.log.Debug("malformed control frame", "from", frame.From, "error", err)
	if r.met != nil {
		r.met.MalformedFrames.Inc()
	}
}

func (r *Router) allocID() uint32 {
	r.lastID++
	return r.lastID
}
