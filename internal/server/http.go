package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Alissonpcl/ai-stt-learning/internal/config"
	"github.com/Alissonpcl/ai-stt-learning/internal/metrics"
	"github.com/Alissonpcl/ai-stt-learning/internal/session"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcription"
)

// multipartOverhead is allowed on top of the chunk ceiling for form fields
// and boundaries.
const multipartOverhead = 1 << 20

const liveWriteTimeout = 10 * time.Second

// UpstreamStats reports transcription client counters.
type UpstreamStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServer serves the chunk ingestion API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	sessions *session.Manager
	upstream UpstreamStats
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. upstream and gatherer may be
// nil; a nil gatherer serves the default Prometheus registry.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, sessions *session.Manager,
	upstream UpstreamStats, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  sessions,
		upstream:  upstream,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = withSentryRecovery(withCORS(appConfig.HTTP.CORSOrigin, mux))

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.handler,
		ReadTimeout:  appConfig.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  appConfig.HTTP.GetIdleTimeoutDuration(),
	}

	return h
}

// Handler returns the root handler with middleware applied.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Chunk ingestion
	mux.HandleFunc("POST /api/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe))
	mux.HandleFunc("POST /api/transcribe/complete", h.withMetrics("/api/transcribe/complete", h.handleComplete))
	mux.HandleFunc("GET /api/test", h.withMetrics("/api/test", h.handleTest))

	// Session monitoring
	mux.HandleFunc("GET /api/sessions", h.withMetrics("/api/sessions", h.handleSessions))
	mux.HandleFunc("GET /api/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("GET /api/sessions/{id}/live", h.withMetrics("/api/sessions/{id}/live", h.handleLive))

	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.RecoverWithContext(r.Context(), err)
				hub.Flush(2 * time.Second)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps session errors to status codes. Unexpected errors are
// reported to Sentry.
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrPayloadTooLarge), errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		captureError(r, err)
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func captureError(r *http.Request, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(r)
		sentry.CaptureException(err)
	})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, session.ErrInvalidRequest)...)
}

type chunkResponse struct {
	Success bool `json:"success"`
	*session.IngestResult
}

// handleTranscribe implements POST /api/transcribe. The chunk arrives as
// multipart form data: audio file, sessionId, chunkIndex, chunkDuration.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.config.HTTP.MaxChunkBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, fmt.Errorf("chunk exceeds %d bytes: %w", maxBytes, session.ErrPayloadTooLarge))
			return
		}
		h.writeError(w, r, badRequest("parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("audio")
	if err != nil {
		h.writeError(w, r, badRequest("no audio file provided"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("read audio: %w", err))
		return
	}

	sessionID := r.FormValue("sessionId")
	chunkIndex, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		h.writeError(w, r, badRequest("invalid chunkIndex %q", r.FormValue("chunkIndex")))
		return
	}
	chunkDuration, err := strconv.ParseFloat(r.FormValue("chunkDuration"), 64)
	if err != nil {
		h.writeError(w, r, badRequest("invalid chunkDuration %q", r.FormValue("chunkDuration")))
		return
	}

	result, err := h.sessions.IngestChunk(r.Context(), session.ChunkUpload{
		SessionID: sessionID,
		Sequence:  chunkIndex,
		Duration:  chunkDuration,
		Payload:   payload,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chunkResponse{Success: true, IngestResult: result})
}

type completeRequest struct {
	SessionID     string  `json:"sessionId"`
	TotalDuration float64 `json:"totalDuration"`
}

// handleComplete implements POST /api/transcribe/complete
func (h *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		h.writeError(w, r, badRequest("sessionId is required"))
		return
	}

	result, err := h.sessions.CompleteSession(r.Context(), req.SessionID, req.TotalDuration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPServer) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transcription server is running!"})
}

// handleSessions implements the /api/sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Sessions()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements the /api/sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleLive streams session updates over a websocket until the session
// closes or the client goes away.
func (h *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, cancel, err := h.sessions.Subscribe(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// reads only to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case u, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(u); err != nil {
				h.logger.Debug("Live update write failed",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.sessions.ActiveCount(),
			"mode":            h.config.Session.Mode,
		},
	}
	if h.upstream != nil {
		stats := h.upstream.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "ai-stt-learning",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":            h.config.HTTP.Port,
			"address":         h.config.HTTP.Address,
			"max_chunk_bytes": h.config.HTTP.MaxChunkBytes,
		},
		"session": map[string]interface{}{
			"mode":          h.config.Session.Mode,
			"retention":     h.config.Session.Retention,
			"poll_workers":  h.config.Session.PollWorkers,
			"max_id_length": h.config.Session.MaxIDLength,
		},
		"transcription": map[string]interface{}{
			"endpoint":          h.config.Transcription.Endpoint,
			"timeout":           h.config.Transcription.Timeout,
			"max_concurrent":    h.config.Transcription.MaxConcurrent,
			"language_code":     h.config.Transcription.LanguageCode,
			"poll_interval_ms":  h.config.Transcription.PollInterval,
			"max_poll_attempts": h.config.Transcription.MaxPollAttempts,
			// Note: API key is intentionally omitted for security
		},
		"billing": map[string]interface{}{
			"rate_per_second": h.sessions.Billing().Rate(),
			"currency":        h.sessions.Billing().Currency(),
		},
		"archive": map[string]interface{}{
			"driver": h.config.Archive.Driver,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Sessions()

	var open, finalizing, closed int
	var seconds, cost float64
	for _, s := range sessions {
		switch s.State {
		case session.StateOpen:
			open++
		case session.StateFinalizing:
			finalizing++
		case session.StateClosed:
			closed++
		}
		seconds += s.Usage.ProcessedSeconds
		cost += s.Usage.EstimatedCost
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"total":      len(sessions),
			"open":       open,
			"finalizing": finalizing,
			"closed":     closed,
		},
		"billing": map[string]interface{}{
			"processed_seconds": seconds,
			"estimated_cost":    cost,
			"currency":          h.sessions.Billing().Currency(),
		},
	}
	if h.upstream != nil {
		stats["transcription"] = h.upstream.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Chunked Speech Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                          "API documentation",
			"POST /api/transcribe":           "Upload one audio chunk (multipart: audio, sessionId, chunkIndex, chunkDuration)",
			"POST /api/transcribe/complete":  "Finish a session and get the full transcript",
			"GET /api/test":                  "Liveness message",
			"GET /api/sessions":              "List sessions",
			"GET /api/sessions/{id}":         "Get detailed session information",
			"GET /api/sessions/{id}/live":    "Websocket feed of transcript and billing updates",
			"GET /health":                    "Service health check",
			"GET /config":                    "Get service configuration",
			"GET /stats":                     "Get service statistics",
			"GET /metrics":                   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
