package relay

import "github.com/prometheus/client_golang/prometheus"

// Event outcomes used as the "outcome" label.
const (
	outcomeOK       = "ok"
	outcomeInvalid  = "invalid"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

var (
	// relayEvents counts processed events by name and outcome.
	relayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Relay events processed, by event name and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// relayEventLat records handler duration, including store round-trips.
	relayEventLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_event_duration_seconds",
			Help:    "Time spent handling a relay event.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// relayEmissions counts events handed to the transport, by outbound name.
	relayEmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_emissions_total",
			Help: "Outbound events emitted to sockets.",
		},
		[]string{"event"},
	)

	// relayOnline tracks the size of the online set.
	relayOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Number of users currently online.",
		},
	)

	// relayQueue samples the inbox depth each time the loop takes a job.
	relayQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Pending events waiting for the relay loop.",
		},
	)
)

func init() {
	prometheus.MustRegister(relayEvents, relayEventLat, relayEmissions, relayOnline, relayQueue)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errorCode(err) == "invalid_payload":
		return outcomeInvalid
	case errorCode(err) != "":
		return outcomeRejected
	default:
		return outcomeFailed
	}
}
