// Package metrics defines all Prometheus metrics for pxebootd.
// All metrics use the "pxebootd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pxebootd"

// --- Proxy DHCP Metrics ---

var (
	// PacketsReceived counts DHCP packets received by message type.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packets_received_total",
		Help:      "Total DHCP packets received, by message type.",
	}, []string{"msg_type"})

	// PacketsSent counts DHCP packets sent by message type.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packets_sent_total",
		Help:      "Total DHCP packets sent, by message type.",
	}, []string{"msg_type"})

	// PacketsDropped counts packets dropped without a reply, by reason
	// (non_pxe, rate_limited). Malformed packets are counted in
	// PacketErrors instead.
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packets_dropped_total",
		Help:      "Total DHCP packets dropped without a reply, by reason.",
	}, []string{"reason"})

	// PacketErrors counts packet processing errors, by type.
	PacketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packet_errors_total",
		Help:      "Total DHCP packet processing errors, by type.",
	}, []string{"type"})

	// PacketProcessingDuration tracks DHCP packet handling latency.
	PacketProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dhcp_packet_processing_duration_seconds",
		Help:      "DHCP packet processing duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"msg_type"})

	// RateLimitDrops counts DISCOVERs dropped by the per-MAC/global rate limiter.
	RateLimitDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_rate_limit_drops_total",
		Help:      "Total DHCPDISCOVER packets dropped by the rate limiter, by scope (global, per_mac).",
	}, []string{"scope"})
)

// --- TFTP Metrics ---

var (
	// TransfersStarted counts TFTP transfers started (successful RRQ/OACK).
	TransfersStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_started_total",
		Help:      "Total TFTP transfers started.",
	})

	// TransfersCompleted counts TFTP transfers that reached a terminal
	// state, by outcome (ok, error, timeout).
	TransfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_completed_total",
		Help:      "Total TFTP transfers completed, by outcome.",
	}, []string{"outcome"})

	// TransfersActive is a gauge of in-flight TFTP transfers.
	TransfersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_active",
		Help:      "Number of currently in-flight TFTP transfers.",
	})

	// BlocksSent counts DATA blocks sent.
	BlocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_blocks_sent_total",
		Help:      "Total TFTP DATA blocks sent.",
	})

	// BlocksRetransmitted counts DATA block retransmissions, by cause
	// (timeout, duplicate_ack).
	BlocksRetransmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_blocks_retransmitted_total",
		Help:      "Total TFTP DATA block retransmissions, by cause.",
	}, []string{"cause"})

	// ErrorsSent counts TFTP ERROR packets sent, by error code.
	ErrorsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_errors_sent_total",
		Help:      "Total TFTP ERROR packets sent, by error code.",
	}, []string{"code"})
)

// --- Event Bus Metrics ---

var (
	// EventsPublished counts events published to the bus, by level.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus, by level.",
	}, []string{"level"})

	// EventBufferDrops counts events dropped due to a full bus buffer.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to full event bus buffer.",
	})
)
