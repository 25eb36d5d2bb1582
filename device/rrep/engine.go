// Package rrep implements the route-reply half of the AODV-style
// discovery state machine: route install/refresh under the RSSI-biased
// metric, and forwarding toward the original requester. Like device/rreq,
// the Engine returns the frames to emit rather than sending them itself.
package rrep

import (
	"log/slog"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/device/metrics"
	"github.com/n8kdx/rssi-aodv/device/routetable"
)

// Config configures an Engine.
type Config struct {
	Logger *slog.Logger

	// Metrics, if non-nil, records engine-level counters. Nil is valid
	// (tests construct engines without a Prometheus registry).
	Metrics *metrics.Metrics
}

// Engine is the RREP half of the routing state machine.
type Engine struct {
	me  id.NodeID
	log *slog.Logger
	met *metrics.Metrics

	routes *routetable.Table
}

// New creates an RREP Engine for local node me.
func New(me id.NodeID, routes *routetable.Table, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{me: me, log: logger.WithGroup("rrep"), met: cfg.Metrics, routes: routes}
}

// Handle processes RREP r arriving in the envelope frame, updating the
// routing table and returning any frame the router facade must forward.
// invalidate forces an unconditional route replacement, for callers that
// need to tear down and rebuild the stored route.
func (e *Engine) Handle(frame *codec.Frame, r *codec.RREP, invalidate bool) []*codec.Frame {
	_, existed := e.routes.Find(r.Destination)
	hopCandidate := r.HopCount
	if !existed {
		// A fresh route's hop count is one past the replying node.
		hopCandidate = r.HopCount + 1
	}
	if e.routes.Offer(r.Destination, r.Source, r.RSSI, hopCandidate, invalidate) && e.met != nil {
		e.met.RoutesInstalled.Inc()
	}

	if r.Destination == e.me {
		return nil
	}

	route, ok := e.routes.Find(r.Destination)
	if !ok {
		e.log.Debug("no route to forward rrep toward", "destination", r.Destination)
		if e.met != nil {
			e.met.NoRouteDrops.Inc()
		}
		return nil
	}
	if frame.HopLimit == 0 {
		return nil
	}

	hopCount := r.HopCount
	if hopCount > 0 {
		hopCount--
	}
	forwarded := &codec.RREP{
		Source:         r.Source,
		Destination:    r.Destination,
		RouteRequestID: r.RouteRequestID,
		HopCount:       hopCount,
		RSSI:           r.RSSI,
		SequenceNumber: r.SequenceNumber,
	}
	out := &codec.Frame{
		From:     e.me,
		To:       route.NextHop,
		HopLimit: frame.HopLimit - 1,
		Port:     codec.AODVPort,
		Payload:  codec.EncodeRREP(forwarded),
	}
	return []*codec.Frame{out}
}
