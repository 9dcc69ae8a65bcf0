package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsActive gauges open WebSocket connections.
	wsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of open WebSocket connections.",
		},
	)

	// wsDropped counts frames or clients dropped by the transport, by reason
	// (invalid_frame, rate_limited, slow_consumer).
	wsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_dropped_total",
			Help: "Frames or clients dropped by the WebSocket transport.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(wsActive, wsDropped)
}
