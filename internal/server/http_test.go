package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Alissonpcl/ai-stt-learning/internal/config"
	"github.com/Alissonpcl/ai-stt-learning/internal/jobs"
	"github.com/Alissonpcl/ai-stt-learning/internal/metrics"
	"github.com/Alissonpcl/ai-stt-learning/internal/session"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcription"
)

// echoEngine transcribes every payload as its own text.
type echoEngine struct {
	mu      sync.Mutex
	submits int
}

func (e *echoEngine) Submit(ctx context.Context, audio []byte) (transcription.JobHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submits++
	return transcription.JobHandle(audio), nil
}

func (e *echoEngine) Poll(ctx context.Context, handle transcription.JobHandle) (transcription.Status, error) {
	return transcription.Status{State: transcription.StateCompleted, Text: string(handle)}, nil
}

type staticStats struct{}

func (staticStats) GetStats() transcription.ClientStats {
	return transcription.ClientStats{TotalRequests: 7, SuccessRequests: 7, SuccessRate: 1}
}

func newTestServer(t *testing.T) (*HTTPServer, *session.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.HTTP.MaxChunkBytes = 64
	cfg.Transcription.APIKey = "secret-key"

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := session.NewManager(logger, &echoEngine{}, session.ManagerConfig{
		Mode:            config.ModePerChunk,
		Budget:          jobs.Budget{MaxAttempts: 10, Interval: 2 * time.Millisecond},
		MaxPayloadBytes: cfg.HTTP.MaxChunkBytes,
		MaxIDLength:     32,
		RatePerSecond:   0.005,
		FinalizeGrace:   time.Second,
	}, session.WithMetrics(m))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return NewHTTPServer(logger, cfg, mgr, staticStats{}, m, reg), mgr
}

func chunkRequest(t *testing.T, sessionID, index, duration string, audio []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "chunk.webm")
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		fw.Write(audio)
	}
	mw.WriteField("sessionId", sessionID)
	mw.WriteField("chunkIndex", index)
	mw.WriteField("chunkDuration", duration)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func completeRequestFor(sessionID string, total float64) *http.Request {
	body := fmt.Sprintf(`{"sessionId":%q,"totalDuration":%v}`, sessionID, total)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/complete", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTranscribeAndComplete(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := serve(h, chunkRequest(t, "web-1", "0", "5", []byte("hello")))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var chunk struct {
		Success    bool   `json:"success"`
		SessionID  string `json:"sessionId"`
		ChunkIndex int    `json:"chunkIndex"`
		Usage      struct {
			ProcessedSeconds float64 `json:"processedSeconds"`
			EstimatedCost    float64 `json:"estimatedCost"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&chunk); err != nil {
		t.Fatalf("Failed to decode chunk response: %v", err)
	}
	if !chunk.Success || chunk.SessionID != "web-1" || chunk.ChunkIndex != 0 {
		t.Errorf("Unexpected chunk response: %+v", chunk)
	}
	if chunk.Usage.ProcessedSeconds != 5 || chunk.Usage.EstimatedCost != 0.025 {
		t.Errorf("Expected usage 5s / 0.025, got %+v", chunk.Usage)
	}

	serve(h, chunkRequest(t, "web-1", "1", "5", []byte("world")))

	rec = serve(h, completeRequestFor("web-1", 10))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var final session.FinalResult
	if err := json.NewDecoder(rec.Body).Decode(&final); err != nil {
		t.Fatalf("Failed to decode final response: %v", err)
	}
	if final.FullTranscription != "hello world" {
		t.Errorf("Expected transcript %q, got %q", "hello world", final.FullTranscription)
	}
	if final.AudioStats.DurationSeconds != 10 || final.AudioStats.ChunkCount != 2 {
		t.Errorf("Unexpected audio stats: %+v", final.AudioStats)
	}
	if final.Billing.ProcessedSeconds != 10 {
		t.Errorf("Expected 10 processed seconds, got %f", final.Billing.ProcessedSeconds)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	serve(h, chunkRequest(t, "closed", "0", "1", []byte("a")))
	if rec := serve(h, completeRequestFor("closed", 1)); rec.Code != http.StatusOK {
		t.Fatalf("Setup completion failed: %d", rec.Code)
	}

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"missing audio", func() *http.Request { return chunkRequest(t, "s", "0", "1", nil) }, http.StatusBadRequest},
		{"bad chunk index", func() *http.Request { return chunkRequest(t, "s", "x", "1", []byte("a")) }, http.StatusBadRequest},
		{"bad duration", func() *http.Request { return chunkRequest(t, "s", "0", "abc", []byte("a")) }, http.StatusBadRequest},
		{"negative duration", func() *http.Request { return chunkRequest(t, "s", "0", "-2", []byte("a")) }, http.StatusBadRequest},
		{"empty session id", func() *http.Request { return chunkRequest(t, "", "0", "1", []byte("a")) }, http.StatusBadRequest},
		{"too large", func() *http.Request { return chunkRequest(t, "s", "0", "1", bytes.Repeat([]byte("x"), 65)) }, http.StatusRequestEntityTooLarge},
		{"not multipart", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("raw"))
		}, http.StatusBadRequest},
		{"chunk after complete", func() *http.Request { return chunkRequest(t, "closed", "1", "1", []byte("b")) }, http.StatusConflict},
		{"complete twice", func() *http.Request { return completeRequestFor("closed", 1) }, http.StatusConflict},
		{"complete unknown", func() *http.Request { return completeRequestFor("nobody", 1) }, http.StatusNotFound},
		{"complete bad json", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/transcribe/complete", strings.NewReader("{"))
		}, http.StatusBadRequest},
		{"complete without id", func() *http.Request { return completeRequestFor("", 1) }, http.StatusBadRequest},
		{"unknown session detail", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/sessions/nobody", nil)
		}, http.StatusNotFound},
		{"wrong method", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/transcribe", nil)
		}, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.req())
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusMethodNotAllowed {
				var body map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
					t.Errorf("Expected JSON error body, got %q", rec.Body.String())
				}
			}
		})
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	serve(h, chunkRequest(t, "mon", "0", "2", []byte("a")))

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "/api/transcribe"},
		{"/api/test", "Transcription server is running!"},
		{"/health", `"status":"healthy"`},
		{"/api/sessions", `"total_sessions":1`},
		{"/api/sessions/mon", `"sessionId":"mon"`},
		{"/stats", `"processed_seconds":2`},
		{"/config", `"rate_per_second":0.005`},
		{"/metrics", "stt_chunks_received_total 1"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, rec.Body.String())
			}
		})
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/config", nil))
	if strings.Contains(rec.Body.String(), "secret-key") {
		t.Error("Config endpoint leaked the API key")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/transcribe", nil)
	rec := serve(srv.Handler(), req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected allow origin *, got %q", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	h := withSentryRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestLiveFeed(t *testing.T) {
	srv, mgr := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	if _, err := mgr.IngestChunk(ctx, session.ChunkUpload{SessionID: "ws", Duration: 1, Payload: []byte("live")}); err != nil {
		t.Fatalf("IngestChunk failed: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	go mgr.CompleteSession(ctx, "ws", 1)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var u session.Update
		if err := conn.ReadJSON(&u); err != nil {
			t.Fatalf("Connection ended before the final update: %v", err)
		}
		if u.Final {
			if u.Transcript != "live" {
				t.Errorf("Expected final transcript live, got %q", u.Transcript)
			}
			return
		}
	}
}

func TestLiveFeedUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/nobody/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %v", resp)
	}
}
