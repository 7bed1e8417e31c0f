package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_scribe_active_sessions",
		Help: "Number of sessions currently recording or stopping",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_sessions_total",
		Help: "Total number of sessions by terminal outcome",
	}, []string{"outcome"}) // completed, failed

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_scribe_session_duration_seconds",
		Help:    "Wall-clock duration of recording sessions",
		Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Capture metrics
	participantsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_scribe_participants_total",
		Help: "Total number of participant captures started",
	})

	captureBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_scribe_capture_bytes_total",
		Help: "Total decoded audio bytes written to raw captures",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_scribe_frames_dropped_total",
		Help: "Audio frames dropped because a participant queue was full",
	})

	forcedCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_scribe_capture_forced_close_total",
		Help: "Captures force-closed after the finalize timeout",
	})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_transport_reconnects_total",
		Help: "Upstream transport reconnect attempts",
	}, []string{"status"})

	// Transcode metrics
	transcodeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_scribe_transcode_seconds",
		Help:    "ffmpeg transcode and split latency",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300},
	}, []string{"op"}) // encode, split

	// Transcription metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_stt_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"provider", "status"})

	sttLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_scribe_stt_latency_seconds",
		Help:    "Transcription request latency in seconds",
		Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider"})

	transcriptionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_transcriptions_total",
		Help: "Per-participant transcription outcomes",
	}, []string{"status", "path"}) // path: whole, chunked

	// Summary metrics
	summaryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_summaries_total",
		Help: "Summary outcomes",
	}, []string{"status"})

	// Delivery metrics
	deliveryMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_delivery_messages_total",
		Help: "Messages handed to delivery sinks",
	}, []string{"sink", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_scribe_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_scribe_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single recording session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordStart records the start of a session
func (m *SessionMetrics) RecordStart() {
	activeSessions.Inc()
}

// RecordEnd records the end of a session with its outcome
func (m *SessionMetrics) RecordEnd(outcome string) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordParticipant counts a participant capture start
func RecordParticipant() {
	participantsCaptured.Inc()
}

// RecordCaptureBytes counts bytes appended to raw captures
func RecordCaptureBytes(n int) {
	captureBytes.Add(float64(n))
}

// RecordFrameDropped counts a frame discarded on queue overflow
func RecordFrameDropped() {
	framesDropped.Inc()
}

// RecordForcedClose counts a capture that missed its finalize deadline
func RecordForcedClose() {
	forcedCloses.Inc()
}

// RecordReconnect counts an upstream reconnect attempt
func RecordReconnect(success bool) {
	reconnects.WithLabelValues(statusLabel(success)).Inc()
}

// ObserveTranscode records the duration of an ffmpeg operation
func ObserveTranscode(op string, d time.Duration) {
	transcodeLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveSTT records a transcription request against a provider
func ObserveSTT(provider string, d time.Duration, success bool) {
	sttLatency.WithLabelValues(provider).Observe(d.Seconds())
	sttRequests.WithLabelValues(provider, statusLabel(success)).Inc()
}

// RecordTranscription records a per-participant transcription outcome
func RecordTranscription(status, path string) {
	transcriptionOutcomes.WithLabelValues(status, path).Inc()
}

// RecordSummary records a summary outcome
func RecordSummary(status string) {
	summaryOutcomes.WithLabelValues(status).Inc()
}

// RecordDelivery records a message handed to a sink
func RecordDelivery(sink string, success bool) {
	deliveryMessages.WithLabelValues(sink, statusLabel(success)).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
