// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsDecodedTotal counts packets accepted by the codec
	PacketsDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gltrace_packets_decoded_total",
			Help: "Total number of call packets decoded",
		},
	)

	// PacketsRejectedTotal counts packets failing validation by reason
	PacketsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_packets_rejected_total",
			Help: "Total number of packets rejected by the decoder",
		},
		[]string{"reason"},
	)

	// ReplayPacketsTotal counts processed packets by resulting status
	ReplayPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_replay_packets_total",
			Help: "Total number of packets processed by the replay engine",
		},
		[]string{"status"},
	)

	// ReplayFramesTotal counts completed frames
	ReplayFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gltrace_replay_frames_total",
			Help: "Total number of frames replayed",
		},
	)

	// HandleMissesTotal counts trace ids with no replay mapping
	HandleMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_handle_misses_total",
			Help: "Total number of unmapped handle lookups",
		},
		[]string{"namespace"},
	)

	// LiveHandles sums mapped handles per namespace over every handle table
	LiveHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gltrace_live_handles",
			Help: "Number of live handle mappings across all handle tables",
		},
		[]string{"namespace"},
	)

	// DivergencesTotal counts error-state mismatches against the capture
	DivergencesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gltrace_driver_divergences_total",
			Help: "Total number of driver error divergences",
		},
	)

	// DriverCallLatencySeconds measures driver call latency
	DriverCallLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gltrace_driver_call_latency_seconds",
			Help:    "Latency of driver calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"call"},
	)

	// ResizeAttemptsTotal counts window size polls
	ResizeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_resize_attempts_total",
			Help: "Total number of window resize polls",
		},
		[]string{"result"},
	)

	// SnapshotsTotal counts snapshot captures and applies
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_snapshots_total",
			Help: "Total number of snapshot operations",
		},
		[]string{"op"},
	)

	// BlobCacheTotal counts blob cache lookups
	BlobCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gltrace_blob_cache_total",
			Help: "Blob store cache lookups by result",
		},
		[]string{"result"},
	)
)
