// Package metrics holds the Prometheus instrumentation shared by the
// router facade and its RREQ/RREP collaborators. It is its own
// leaf package (rather than living in device/router) so those
// collaborators can depend on it without an import cycle back to the
// facade that owns them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rssi_aodv"

// Metrics is the full set of counters exported by the router.
type Metrics struct {
	FramesReceived     prometheus.Counter
	FramesSent         *prometheus.CounterVec
	DuplicatesDropped  prometheus.Counter
	RREQReceived       prometheus.Counter
	RREPReceived       prometheus.Counter
	BeaconsReceived    prometheus.Counter
	RebroadcastsSent   prometheus.Counter
	RoutesInstalled    prometheus.Counter
	NoRouteDrops       prometheus.Counter
	StaleSequenceDrops prometheus.Counter
	MalformedFrames    prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns a process-wide Metrics instance registered against the
// default Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates a Metrics instance registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames accepted by the router.",
		}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames handed to the transport, by kind.",
		}, []string{"kind"}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Frames dropped because frame.id was already seen.",
		}),
		RREQReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rreq_received_total",
			Help:      "RREQ control frames handled.",
		}),
		RREPReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rrep_received_total",
			Help:      "RREP control frames handled.",
		}),
		BeaconsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_received_total",
			Help:      "RSSI beacon frames handled.",
		}),
		RebroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rreq_rebroadcasts_total",
			Help:      "RREQ frames rebroadcast after passing gating checks.",
		}),
		RoutesInstalled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_installed_total",
			Help:      "Routing table entries installed or replaced.",
		}),
		NoRouteDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_route_drops_total",
			Help:      "RREP forwards dropped for lack of a next hop.",
		}),
		StaleSequenceDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_sequence_drops_total",
			Help:      "RREQs dropped for a non-increasing sequence number.",
		}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Control frames shorter than their declared size.",
		}),
	}
}
