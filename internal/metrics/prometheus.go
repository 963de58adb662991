package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the speech proxy. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsRejected prometheus.Counter
	SessionsClosed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	// Audio pipeline metrics
	AudioChunksIn prometheus.Counter
	QueueDrops    prometheus.Counter
	DeltasOut     prometheus.Counter

	// Vendor metrics
	VendorEvents *prometheus.CounterVec
	VendorErrors *prometheus.CounterVec
	Reconnects   *prometheus.CounterVec

	// Synthesis metrics
	TTSRequests *prometheus.CounterVec
	TTSBytes    prometheus.Counter
	TTSDuration prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith creates and registers all metrics on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ot_active_sessions",
			Help: "Current number of realtime sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_sessions_created_total",
			Help: "Total number of realtime sessions accepted",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_sessions_rejected_total",
			Help: "Total number of sessions rejected at capacity",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_sessions_closed_total",
			Help: "Total number of sessions closed by reason",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ot_session_duration_seconds",
			Help:    "Duration of realtime sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_session_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"from", "to"}),

		// Audio pipeline metrics
		AudioChunksIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_audio_chunks_received_total",
			Help: "Total number of client audio chunks accepted",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped on queue overflow",
		}),
		DeltasOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_transcript_deltas_total",
			Help: "Total number of transcript deltas sent to clients",
		}),

		// Vendor metrics
		VendorEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_vendor_events_total",
			Help: "Total number of vendor events by kind",
		}, []string{"vendor", "kind"}),
		VendorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_vendor_errors_total",
			Help: "Total number of vendor failures by error kind",
		}, []string{"vendor", "kind"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_vendor_reconnects_total",
			Help: "Total number of vendor reconnect attempts",
		}, []string{"vendor", "result"}),

		// Synthesis metrics
		TTSRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_tts_requests_total",
			Help: "Total number of synthesis requests",
		}, []string{"vendor", "status"}),
		TTSBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_tts_bytes_total",
			Help: "Total number of synthesized audio bytes sent",
		}),
		TTSDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ot_tts_duration_seconds",
			Help:    "Duration of synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_transcription_requests_total",
			Help: "Total number of batch transcription requests",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_transcription_successes_total",
			Help: "Total number of successful batch transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_transcription_failures_total",
			Help: "Total number of failed batch transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ot_transcription_duration_seconds",
			Help:    "Duration of batch transcriptions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ot_transcription_retries_total",
			Help: "Total number of batch transcription retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ot_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionRejected increments the capacity rejection counter
func (m *Metrics) RecordSessionRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}

// RecordSessionClosed records a closed session and its lifetime
func (m *Metrics) RecordSessionClosed(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStateTransition counts a session state change
func (m *Metrics) RecordStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordAudioChunk counts an accepted client audio chunk
func (m *Metrics) RecordAudioChunk() {
	if m == nil {
		return
	}
	m.AudioChunksIn.Inc()
}

// RecordQueueDrop counts a chunk dropped on overflow
func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDrops.Inc()
}

// RecordDelta counts a transcript delta sent to a client
func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasOut.Inc()
}

// RecordVendorEvent counts a normalised vendor event
func (m *Metrics) RecordVendorEvent(vendor, kind string) {
	if m == nil {
		return
	}
	m.VendorEvents.WithLabelValues(vendor, kind).Inc()
}

// RecordVendorError counts a vendor failure by error kind
func (m *Metrics) RecordVendorError(vendor, kind string) {
	if m == nil {
		return
	}
	m.VendorErrors.WithLabelValues(vendor, kind).Inc()
}

// RecordReconnect counts a reconnect attempt outcome
func (m *Metrics) RecordReconnect(vendor string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.Reconnects.WithLabelValues(vendor, result).Inc()
}

// RecordTTS records a finished synthesis request
func (m *Metrics) RecordTTS(vendor, status string, bytes int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TTSRequests.WithLabelValues(vendor, status).Inc()
	m.TTSBytes.Add(float64(bytes))
	m.TTSDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
