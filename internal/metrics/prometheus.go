package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the coach backend.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionErrors   *prometheus.CounterVec
	ConnectDuration prometheus.Histogram

	// Capture / outbound metrics
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	SendQueue     prometheus.Gauge

	// Playback metrics
	BuffersScheduled prometheus.Counter
	AudioScheduled   prometheus.Counter
	Interruptions    prometheus.Counter
	CodecErrors      prometheus.Counter

	// Phrase synthesis metrics
	PhraseRequests *prometheus.CounterVec
	PhraseDuration prometheus.Histogram
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coach_active_sessions",
			Help: "Current number of connected live coach sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_sessions_started_total",
			Help: "Total number of live sessions that reached the connected state",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_session_duration_seconds",
			Help:    "Duration of connected live sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_session_errors_total",
			Help: "Total number of surfaced session errors by kind",
		}, []string{"kind"}),
		ConnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_connect_duration_seconds",
			Help:    "Time from connect to session open",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_audio_chunks_sent_total",
			Help: "Total number of microphone chunks sent to the remote session",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_audio_chunks_dropped_total",
			Help: "Total number of microphone chunks dropped because the send queue was full",
		}),
		SendQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coach_send_queue_length",
			Help: "Chunks waiting in send queues across sessions",
		}),

		BuffersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_playback_buffers_total",
			Help: "Total number of decoded buffers scheduled for playback",
		}),
		AudioScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_playback_audio_seconds_total",
			Help: "Seconds of coach audio scheduled for playback",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}),
		CodecErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_codec_errors_total",
			Help: "Total number of inbound audio payloads discarded as malformed",
		}),

		PhraseRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_phrase_requests_total",
			Help: "Total number of phrase synthesis requests by outcome",
		}, []string{"outcome"}),
		PhraseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_phrase_duration_seconds",
			Help:    "Latency of phrase synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~25s
		}),
	}
}

// SessionOpened records a session reaching the connected state
func (m *Metrics) SessionOpened(connectSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsStarted.Inc()
	m.ConnectDuration.Observe(connectSeconds)
}

// SessionClosed records the end of a connected session
func (m *Metrics) SessionClosed(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

// SessionError counts a surfaced error
func (m *Metrics) SessionError(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

// ChunkSent counts a chunk handed to the transport
func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

// ChunkDropped counts a chunk dropped by backpressure
func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// QueueDelta adjusts the send queue gauge
func (m *Metrics) QueueDelta(delta float64) {
	if m == nil {
		return
	}
	m.SendQueue.Add(delta)
}

// BufferScheduled counts a buffer handed to the output scheduler
func (m *Metrics) BufferScheduled(seconds float64) {
	if m == nil {
		return
	}
	m.BuffersScheduled.Inc()
	m.AudioScheduled.Add(seconds)
}

// Interrupted counts a barge-in
func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// CodecError counts a discarded inbound payload
func (m *Metrics) CodecError() {
	if m == nil {
		return
	}
	m.CodecErrors.Inc()
}

// PhraseRequest records a phrase synthesis call
func (m *Metrics) PhraseRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PhraseRequests.WithLabelValues(outcome).Inc()
	m.PhraseDuration.Observe(seconds)
}
