// Package metrics defines the Prometheus instrumentation for the call
// transcriber, exposed on the dashboard server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	// Capture session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsStopped  prometheus.Counter
	SessionDuration  prometheus.Histogram
	RecordingsOpened prometheus.Counter

	// Segmentation metrics
	SegmentsGenerated prometheus.Counter
	SegmentFailures   prometheus.Counter

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	PipelineDuration       prometheus.Histogram

	// Mixdown metrics
	MixdownsWritten prometheus.Counter
	MixdownFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_sessions",
			Help: "Current number of active capture sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_sessions_stopped_total",
			Help: "Total number of capture sessions stopped",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		RecordingsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_recordings_opened_total",
			Help: "Total number of per-participant capture streams opened",
		}),

		SegmentsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_segments_generated_total",
			Help: "Total number of transcribable segments generated",
		}),
		SegmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_segment_failures_total",
			Help: "Total number of per-segment or per-recording failures",
		}),

		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_successes_total",
			Help: "Total number of successfully transcribed segments",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_failures_total",
			Help: "Total number of failed segment transcriptions",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_pipeline_duration_seconds",
			Help:    "Time spent processing a finalized session end to end",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),

		MixdownsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_mixdowns_written_total",
			Help: "Total number of mixdown artifacts written",
		}),
		MixdownFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_mixdown_failures_total",
			Help: "Total number of failed mixdowns",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP API errors",
		}, []string{"method", "endpoint", "type"}),
	}
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records one HTTP API error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
