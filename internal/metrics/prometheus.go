package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chunk metrics
	ChunksReceived prometheus.Counter
	ChunksRejected *prometheus.CounterVec
	ChunkDuration  prometheus.Histogram
	ChunkSize      prometheus.Histogram

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsEvicted   prometheus.Counter
	SessionDuration   prometheus.Histogram
	BilledSeconds     prometheus.Counter

	// Job metrics
	JobsSubmitted   prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      *prometheus.CounterVec
	JobPollAttempts prometheus.Histogram

	// Upstream engine metrics
	UpstreamRequests        *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Transcript metrics
	FragmentsAttached prometheus.Counter
	FragmentsRejected *prometheus.CounterVec

	// Archive metrics
	ArchiveWrites *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Chunk metrics
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_received_total",
			Help: "Total number of audio chunks recorded",
		}),
		ChunksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_chunks_rejected_total",
			Help: "Total number of audio chunks rejected at ingestion",
		}, []string{"reason"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_chunk_declared_duration_seconds",
			Help:    "Declared duration of received chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_chunk_size_bytes",
			Help:    "Size of received chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stt_active_sessions",
			Help: "Current number of sessions held in memory",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_completed_total",
			Help: "Total number of sessions finalized",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_evicted_total",
			Help: "Total number of sessions removed after retention",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_session_wall_clock_seconds",
			Help:    "Wall clock time from first chunk to finalization",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		BilledSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_billed_audio_seconds_total",
			Help: "Total declared audio seconds added to session meters",
		}),

		// Job metrics
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_jobs_submitted_total",
			Help: "Total number of transcription jobs created",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_jobs_completed_total",
			Help: "Total number of transcription jobs completed with text",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_jobs_failed_total",
			Help: "Total number of transcription jobs that failed",
		}, []string{"reason"}),
		JobPollAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_job_attempts",
			Help:    "Upstream attempts spent per terminal job",
			Buckets: prometheus.LinearBuckets(1, 5, 8),
		}),

		// Upstream engine metrics
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_upstream_requests_total",
			Help: "Total number of requests sent to the transcription engine",
		}, []string{"operation", "outcome"}),
		UpstreamRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_upstream_request_duration_seconds",
			Help:    "Duration of transcription engine requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"operation"}),

		// Transcript metrics
		FragmentsAttached: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_fragments_attached_total",
			Help: "Total number of transcript fragments attached",
		}),
		FragmentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_fragments_rejected_total",
			Help: "Total number of transcript fragments dropped by the merger",
		}, []string{"reason"}),

		// Archive metrics
		ArchiveWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_archive_writes_total",
			Help: "Total number of session records written",
		}, []string{"driver", "outcome"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk records an accepted chunk
func (m *Metrics) RecordChunk(durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
	m.BilledSeconds.Add(durationSeconds)
}

// RecordChunkRejected records a chunk refused at ingestion
func (m *Metrics) RecordChunkRejected(reason string) {
	if m == nil {
		return
	}
	m.ChunksRejected.WithLabelValues(reason).Inc()
}

// SetActiveSessions sets the current number of sessions
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

// RecordSessionCompleted increments the completed counter and records wall clock time
func (m *Metrics) RecordSessionCompleted(wallClockSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
	m.SessionDuration.Observe(wallClockSeconds)
}

// RecordSessionEvicted increments the evicted counter
func (m *Metrics) RecordSessionEvicted() {
	if m == nil {
		return
	}
	m.SessionsEvicted.Inc()
}

// RecordJobSubmitted increments the jobs submitted counter
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobTerminal records a job reaching a terminal state
func (m *Metrics) RecordJobTerminal(completed bool, reason string, attempts int) {
	if m == nil {
		return
	}
	if completed {
		m.JobsCompleted.Inc()
	} else {
		m.JobsFailed.WithLabelValues(reason).Inc()
	}
	m.JobPollAttempts.Observe(float64(attempts))
}

// RecordUpstreamRequest records one request to the transcription engine
func (m *Metrics) RecordUpstreamRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(operation, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFragment records the merger outcome for one fragment
func (m *Metrics) RecordFragment(outcome string) {
	if m == nil {
		return
	}
	if outcome == "attached" {
		m.FragmentsAttached.Inc()
		return
	}
	m.FragmentsRejected.WithLabelValues(outcome).Inc()
}

// RecordArchiveWrite records a session record write
func (m *Metrics) RecordArchiveWrite(driver string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ArchiveWrites.WithLabelValues(driver, outcome).Inc()
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
