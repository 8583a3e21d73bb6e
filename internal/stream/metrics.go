package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_stream_connection_state",
			Help: "Current connection state (0=idle 1=connecting 2=open 3=closing 4=closed 5=reconnecting)",
		},
	)

	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_stream_reconnects_total",
			Help: "Reconnect attempts made by the connection manager",
		},
	)

	framesDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_stream_frames_dispatched_total",
			Help: "Frames parsed and routed to subscribers",
		},
	)

	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_stream_frames_dropped_total",
			Help: "Malformed frames dropped by the dispatcher",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionState, reconnectsTotal)
	prometheus.MustRegister(framesDispatched, framesDropped)
}
