// Package metrics provides Prometheus metrics for live sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pitchroom"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Channel metrics
	TranscriptEntries prometheus.Counter
	DecodeErrors      *prometheus.CounterVec
	FramesReceived    prometheus.Counter
	FramesStale       prometheus.Counter
	FrameBytes        prometheus.Counter
	ChannelDrops      *prometheus.CounterVec

	// Teardown metrics
	RemoteStopErrors prometheus.Counter
	HandoffTotal     *prometheus.CounterVec
	HandoffLatency   prometheus.Histogram

	// Publisher metrics
	PublishTotal  *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetricsWith(prometheus.DefaultRegisterer)

// NewMetricsWith creates and registers all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions that reached the active state",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_start_failed_total",
			Help:      "Total number of failed session starts",
		}, []string{"stage"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of sessions",
			Buckets:   []float64{10, 30, 60, 120, 180, 240, 300, 600},
		}),

		TranscriptEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Total number of transcript entries appended",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_decode_errors_total",
			Help:      "Total number of discarded malformed channel messages",
		}, []string{"channel"}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_received_total",
			Help:      "Total number of binary video frames received",
		}),
		FramesStale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_stale_total",
			Help:      "Total number of decoded frames dropped because a newer frame was displayed",
		}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frame_bytes_total",
			Help:      "Total bytes of video frames received",
		}),
		ChannelDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_drops_total",
			Help:      "Total number of unexpected channel closures",
		}, []string{"channel"}),

		RemoteStopErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_stop_errors_total",
			Help:      "Total number of failed remote stop calls",
		}),
		HandoffTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_handoffs_total",
			Help:      "Total number of analysis handoffs by outcome",
		}, []string{"outcome"}),
		HandoffLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_handoff_latency_seconds",
			Help:      "Latency of the analysis request",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),

		PublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of session events handed to the publisher",
		}, []string{"topic"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_errors_total",
			Help:      "Total number of session events that failed to publish",
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session entering the active state.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStartFailed records a failed start at the given stage.
func (m *Metrics) RecordSessionStartFailed(stage string) {
	m.SessionsFailed.WithLabelValues(stage).Inc()
}

// RecordSessionEnd records a session leaving the active state.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordTranscriptEntry records an appended transcript entry.
func (m *Metrics) RecordTranscriptEntry() {
	m.TranscriptEntries.Inc()
}

// RecordDecodeError records a discarded message on channel.
func (m *Metrics) RecordDecodeError(channel string) {
	m.DecodeErrors.WithLabelValues(channel).Inc()
}

// RecordFrameReceived records an inbound video frame.
func (m *Metrics) RecordFrameReceived(bytes int) {
	m.FramesReceived.Inc()
	m.FrameBytes.Add(float64(bytes))
}

// RecordStaleFrame records a decoded frame superseded before display.
func (m *Metrics) RecordStaleFrame() {
	m.FramesStale.Inc()
}

// RecordChannelDrop records an unexpected channel closure.
func (m *Metrics) RecordChannelDrop(channel string) {
	m.ChannelDrops.WithLabelValues(channel).Inc()
}

// RecordRemoteStopError records a failed remote stop call.
func (m *Metrics) RecordRemoteStopError() {
	m.RemoteStopErrors.Inc()
}

// RecordHandoff records an analysis handoff outcome.
func (m *Metrics) RecordHandoff(err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "degraded"
	}
	m.HandoffTotal.WithLabelValues(outcome).Inc()
	m.HandoffLatency.Observe(latencySeconds)
}

// RecordPublish records a publish attempt on topic.
func (m *Metrics) RecordPublish(topic string, err error) {
	m.PublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		m.PublishErrors.WithLabelValues(topic).Inc()
	}
}
