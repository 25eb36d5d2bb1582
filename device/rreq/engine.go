// Package rreq implements the route-request half of the AODV-style
// discovery state machine: sequence-number freshness, terminal-node
// detection, known-route short-circuiting, and gated rebroadcast.
//
// The Engine holds no transport reference; it returns the frames the
// router facade must emit, which keeps every decision unit-testable
// without a radio.
package rreq

import (
	"log/slog"

	"github.com/n8kdx/rssi-aodv/core/clock"
	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/dedupe"
	"github.com/n8kdx/rssi-aodv/core/id"
	"github.com/n8kdx/rssi-aodv/device/metrics"
	"github.com/n8kdx/rssi-aodv/device/neighbor"
	"github.com/n8kdx/rssi-aodv/device/routetable"
)

// RSSIThreshold is the minimum incoming-link RSSI required to rebroadcast
// an RREQ. Links weaker than this are not worth extending a path over.
const RSSIThreshold int8 = -80

// MaxHopCount bounds the hop_limit set on a freshly synthesized RREP that
// this node originates on behalf of itself or a known destination.
const MaxHopCount uint8 = 8

// Config configures an Engine.
type Config struct {
	Logger *slog.Logger

	// Metrics, if non-nil, records engine-level counters. Nil is valid
	// (tests construct engines without a Prometheus registry).
	Metrics *metrics.Metrics
}

// Engine is the RREQ half of the routing state machine. It holds no
// transport reference: Handle returns the frames that must be sent, and
// the caller (the router facade) is responsible for actually sending
// them.
type Engine struct {
	me  id.NodeID
	clk clock.Clock
	log *slog.Logger
	met *metrics.Metrics

	routes    *routetable.Table
	neighbors *neighbor.Table
	seenIDs   *dedupe.Set

	sequences map[id.NodeID]uint32
}

// New creates an RREQ Engine for local node me.
func New(me id.NodeID, clk clock.Clock, routes *routetable.Table, neighbors *neighbor.Table, seenIDs *dedupe.Set, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		me:        me,
		clk:       clk,
		log:       logger.WithGroup("rreq"),
		met:       cfg.Metrics,
		routes:    routes,
		neighbors: neighbors,
		seenIDs:   seenIDs,
		sequences: make(map[id.NodeID]uint32),
	}
}

// Handle processes RREQ q arriving in the envelope frame, returning any
// frames the router facade must emit (a synthesized RREP, a rebroadcast,
// or neither). It never mutates frame.
func (e *Engine) Handle(frame *codec.Frame, q *codec.RREQ) []*codec.Frame {
	// 1. Sequence freshness.
	if stored, ok := e.sequences[q.Source]; ok && q.SequenceNumber <= stored {
		e.log.Debug("stale rreq sequence", "source", q.Source, "seq", q.SequenceNumber, "stored", stored)
		if e.met != nil {
			e.met.StaleSequenceDrops.Inc()
		}
		return nil
	}
	e.sequences[q.Source] = q.SequenceNumber

	// 2. Terminal check.
	if q.Destination == e.me {
		rrep := &codec.RREP{
			Source:         e.me,
			Destination:    q.Source,
			RouteRequestID: q.RouteRequestID,
			HopCount:       0,
			RSSI:           e.neighbors.RSSIFor(q.Source),
			SequenceNumber: q.SequenceNumber,
		}
		return []*codec.Frame{e.envelopeRREP(rrep, frame.From)}
	}

	// 3. Known route.
	if _, ok := e.routes.Find(q.Destination); ok {
		e.routes.Offer(q.Destination, frame.From, q.RSSI, q.HopCount, false)
		route, _ := e.routes.Find(q.Destination)
		rrep := &codec.RREP{
			Source:         q.Destination,
			Destination:    q.Source,
			RouteRequestID: q.RouteRequestID,
			HopCount:       route.HopCount,
			RSSI:           route.RSSI,
			SequenceNumber: q.SequenceNumber,
		}
		return []*codec.Frame{e.envelopeRREP(rrep, frame.From)}
	}

	// 4. Propagate.
	var emitted []*codec.Frame
	if !e.seenIDs.Seen(q.BroadcastID) {
		mutated := *q
		mutated.RSSI = e.neighbors.RSSIFor(frame.From)
		mutated.HopCount++
		if frame.HopLimit > 0 && mutated.RSSI >= RSSIThreshold {
			out := &codec.Frame{
				From:     e.me,
				To:       id.Broadcast,
				ID:       frame.ID,
				HopLimit: frame.HopLimit - 1,
				Port:     codec.AODVPort,
				Payload:  codec.EncodeRREQ(&mutated),
			}
			emitted = append(emitted, out)
			if e.met != nil {
				e.met.RebroadcastsSent.Inc()
			}
		}
	}

	// 5. Sweep the routing table.
	e.routes.Sweep()

	return emitted
}

func (e *Engine) envelopeRREP(rrep *codec.RREP, to id.NodeID) *codec.Frame {
	return &codec.Frame{
		From:     e.me,
		To:       to,
		HopLimit: MaxHopCount,
		Port:     codec.AODVPort,
		Payload:  codec.EncodeRREP(rrep),
	}
}
