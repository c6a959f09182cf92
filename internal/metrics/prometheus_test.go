package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordChunk(2.5, 4096)
	m.RecordChunk(1.5, 2048)
	m.RecordChunkRejected("payload_too_large")
	m.RecordJobTerminal(true, "", 3)
	m.RecordJobTerminal(false, "timeout", 30)
	m.RecordUpstreamRequest("poll", "success", 20*time.Millisecond)
	m.RecordFragment("attached")
	m.RecordFragment("contained")
	m.RecordArchiveWrite("file", nil)
	m.RecordArchiveWrite("file", errors.New("disk full"))

	if got := testutil.ToFloat64(m.ChunksReceived); got != 2 {
		t.Errorf("Expected 2 chunks, got %f", got)
	}
	if got := testutil.ToFloat64(m.BilledSeconds); got != 4 {
		t.Errorf("Expected 4 billed seconds, got %f", got)
	}
	if got := testutil.ToFloat64(m.ChunksRejected.WithLabelValues("payload_too_large")); got != 1 {
		t.Errorf("Expected 1 rejected chunk, got %f", got)
	}
	if got := testutil.ToFloat64(m.JobsFailed.WithLabelValues("timeout")); got != 1 {
		t.Errorf("Expected 1 timed out job, got %f", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("poll", "success")); got != 1 {
		t.Errorf("Expected 1 upstream poll, got %f", got)
	}
	if got := testutil.ToFloat64(m.FragmentsRejected.WithLabelValues("contained")); got != 1 {
		t.Errorf("Expected 1 rejected fragment, got %f", got)
	}
	if got := testutil.ToFloat64(m.ArchiveWrites.WithLabelValues("file", "error")); got != 1 {
		t.Errorf("Expected 1 failed archive write, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordChunk(1, 1)
	m.SetActiveSessions(3)
	m.RecordJobTerminal(false, "timeout", 1)
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}

func TestSeparateRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordSessionCreated()
	if got := testutil.ToFloat64(b.SessionsCreated); got != 0 {
		t.Errorf("Expected independent counters, got %f", got)
	}
}
