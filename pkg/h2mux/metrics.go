package h2mux

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics, grounded on celeris's pkg/celeris/metrics.go: package-level
// promauto collectors registered once, incremented from the Core's
// lifecycle transition points.
var (
	streamsActivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_streams_activated_total",
			Help: "Total number of stream channels activated (registry insertions).",
		},
	)

	streamsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_streams_closed_total",
			Help: "Total number of stream channels removed from the registry after draining.",
		},
	)

	activeStreamsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "h2mux_active_streams",
			Help: "Current number of stream channels in the registry.",
		},
	)

	goAwayNotifiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_goaway_notified_total",
			Help: "Total number of child stream channels notified of a GOAWAY fan-out.",
		},
	)

	readCompleteBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_read_complete_batches_total",
			Help: "Total number of read-complete notifications fired across all stream channels.",
		},
	)

	outboundWindowCreditedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_outbound_window_credited_bytes_total",
			Help: "Total bytes credited to stream outbound flow-control windows on activation.",
		},
	)

	outboundWindowDebitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2mux_outbound_window_debited_bytes_total",
			Help: "Total bytes debited from stream outbound flow-control windows by outbound DATA.",
		},
	)
)
