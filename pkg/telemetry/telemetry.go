// Package telemetry exposes the engine's Prometheus metrics (SPEC_FULL
// §4's domain-stack entry for prometheus/client_golang): submessage
// counters, the per-writer/reader resend and gap counts spec §7 names as
// per-receiver error counters, and match/participant gauges. Only the
// submessage and parse-error counters are updated in this module (by
// package engine); the other metrics are registered but nothing here
// updates them.
//
// The metric shapes and registration style follow
// controller/telemetry/server.go: package-level CounterVec/HistogramVec
// values registered once in init(), with label sets kept small and
// stable.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	submessageLabels = []string{"kind", "direction"}

	SubmessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtps_submessages_total",
			Help: "Total number of RTPS submessages sent or received, by kind.",
		},
		submessageLabels,
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtps_parse_errors_total",
			Help: "Total number of submessages discarded for failing to parse (spec §7).",
		},
		[]string{"reason"},
	)

	retransmitLabels = []string{"writer_kind"}
	RetransmitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtps_retransmits_total",
			Help: "Total number of changes resent by a reliable writer in response to a NACK or heartbeat-driven resend.",
		},
		retransmitLabels,
	)

	GapsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rtps_gaps_sent_total",
			Help: "Total number of GAP submessages sent for irrecoverably missing sequence numbers.",
		},
	)

	acknackLatencyBuckets = prometheus.ExponentialBuckets(1, 2, 12) // 1ms .. ~2s

	AckNackLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rtps_acknack_latency_ms",
			Help:    "Time between a HEARTBEAT being received and the resulting ACKNACK being sent, in milliseconds.",
			Buckets: acknackLatencyBuckets,
		},
	)

	MatchedEndpoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtps_matched_endpoints",
			Help: "Current number of remote endpoints matched against a local endpoint.",
		},
		[]string{"local_kind"},
	)

	DiscoveredParticipants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtps_discovered_participants",
			Help: "Current number of remote participants with a live SPDP lease.",
		},
	)

	GuardsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtps_guards_lost_total",
			Help: "Total number of guard firings that transitioned a liveliness/deadline/lifespan check to lost, by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		SubmessagesTotal,
		ParseErrorsTotal,
		RetransmitsTotal,
		GapsSentTotal,
		AckNackLatency,
		MatchedEndpoints,
		DiscoveredParticipants,
		GuardsLost,
	)
}

// ObserveAckNackLatency records the delay between a heartbeat and its
// resulting acknack, in milliseconds.
func ObserveAckNackLatency(d time.Duration) {
	AckNackLatency.Observe(float64(d) / float64(time.Millisecond))
}

// RecordSubmessage increments the per-kind submessage counter for one
// direction ("sent" or "received").
func RecordSubmessage(kind, direction string) {
	SubmessagesTotal.With(prometheus.Labels{"kind": kind, "direction": direction}).Inc()
}

// RecordParseError increments the parse-error counter for the given
// rejection reason (spec §7: "parse errors increment per-receiver
// counters and discard the submessage").
func RecordParseError(reason string) {
	ParseErrorsTotal.With(prometheus.Labels{"reason": reason}).Inc()
}
