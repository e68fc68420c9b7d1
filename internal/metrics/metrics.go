// Package metrics registers the prometheus collectors exposed by the
// ambient debug HTTP surface (spec: AMBIENT STACK, observability).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_pump_frames_generated_total",
			Help: "Total number of AO frames generated by the Frame Pump callback",
		},
	)

	UnderflowEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_pump_underflow_events_total",
			Help: "Total number of AO write underflow events reported by the task backend",
		},
	)

	UnderflowEscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_pump_underflow_escalations_total",
			Help: "Total number of times underflow events escalated playback into paused-with-error",
		},
	)

	DecoderErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_pump_decoder_errors_total",
			Help: "Total number of mid-stream decoder errors encountered",
		},
	)

	DeviceErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_pump_device_errors_total",
			Help: "Total number of DAQ write errors that forced the transport to idle",
		},
	)

	PlaybackPositionSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nidaq_pump_playback_position_samples",
			Help: "Current playback position in samples for the active job",
		},
	)

	TransportState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nidaq_transport_state",
			Help: "1 for the currently active transport state, 0 for all others",
		},
		[]string{"state"},
	)

	ControlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidaq_control_requests_total",
			Help: "Total number of control protocol requests handled, by task and status",
		},
		[]string{"task", "status"},
	)

	ControlRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nidaq_control_request_duration_seconds",
			Help:    "Control protocol request handling latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	ControlSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nidaq_control_sessions_active",
			Help: "Number of currently connected control protocol websocket sessions",
		},
	)

	ProgressTicksEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nidaq_progress_ticks_emitted_total",
			Help: "Total number of progress snapshots broadcast to control sessions",
		},
	)

	LibraryScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nidaq_library_scan_duration_seconds",
			Help:    "Duration of library directory scans",
			Buckets: prometheus.DefBuckets,
		},
	)

	LibraryAssetsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nidaq_library_assets_indexed",
			Help: "Number of audio assets currently present in the library index",
		},
	)
)

// SetTransportState zeroes every other known state label and sets state to
// 1, keeping the gauge vector a clean one-hot encoding of the current
// transport.State.
func SetTransportState(known []string, state string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1.0
		}
		TransportState.WithLabelValues(s).Set(v)
	}
}

// ObserveControlRequest records one control protocol request's outcome and
// latency.
func ObserveControlRequest(task, status string, started time.Time) {
	ControlRequestsTotal.WithLabelValues(task, status).Inc()
	ControlRequestDurationSeconds.WithLabelValues(task).Observe(time.Since(started).Seconds())
}
