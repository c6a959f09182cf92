// Command fakeengine serves the upload/transcript/poll API of the speech
// engine locally so the server can be run end to end without a real account.
// Every upload completes after -delay with a transcript naming its size.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type upload struct {
	size       int
	receivedAt time.Time
}

type transcript struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	AudioURL  string    `json:"audio_url"`
	CreatedAt time.Time `json:"-"`
	size      int
	fail      bool
}

type fakeEngine struct {
	baseURL  string
	apiKey   string
	delay    time.Duration
	failRate float64
	logger   *slog.Logger

	uploads     map[string]upload
	transcripts map[string]*transcript
	mu          sync.Mutex
}

func (e *fakeEngine) authorized(w http.ResponseWriter, r *http.Request) bool {
	if e.apiKey != "" && r.Header.Get("Authorization") != e.apiKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication error, API token missing/invalid"})
		return false
	}
	return true
}

func (e *fakeEngine) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !e.authorized(w, r) {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 100<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read upload"})
		return
	}

	id := uuid.NewString()
	e.mu.Lock()
	e.uploads[id] = upload{size: len(data), receivedAt: time.Now()}
	e.mu.Unlock()

	e.logger.Info("Upload received",
		slog.String("upload_id", id),
		slog.Int("bytes", len(data)),
		slog.String("content_type", r.Header.Get("Content-Type")),
	)
	writeJSON(w, http.StatusOK, map[string]string{"upload_url": e.baseURL + "/files/" + id})
}

func (e *fakeEngine) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !e.authorized(w, r) {
		return
	}

	var req struct {
		AudioURL     string `json:"audio_url"`
		LanguageCode string `json:"language_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	uploadID := req.AudioURL[strings.LastIndex(req.AudioURL, "/")+1:]

	e.mu.Lock()
	up, ok := e.uploads[uploadID]
	if !ok {
		e.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio_url does not point to an upload"})
		return
	}
	t := &transcript{
		ID:        uuid.NewString(),
		Status:    "queued",
		AudioURL:  req.AudioURL,
		CreatedAt: time.Now(),
		size:      up.size,
		fail:      rand.Float64() < e.failRate,
	}
	e.transcripts[t.ID] = t
	e.mu.Unlock()

	e.logger.Info("Transcript created",
		slog.String("transcript_id", t.ID),
		slog.String("language_code", req.LanguageCode),
		slog.Bool("will_fail", t.fail),
	)
	writeJSON(w, http.StatusOK, t)
}

func (e *fakeEngine) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !e.authorized(w, r) {
		return
	}

	e.mu.Lock()
	t, ok := e.transcripts[r.PathValue("id")]
	if !ok {
		e.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transcript not found"})
		return
	}

	switch age := time.Since(t.CreatedAt); {
	case age < e.delay/2:
		t.Status = "queued"
	case age < e.delay:
		t.Status = "processing"
	case t.fail:
		t.Status = "error"
		t.Error = "Transcoding failed. Audio file is corrupt or unsupported."
	default:
		t.Status = "completed"
		t.Text = fmt.Sprintf("Fake transcript of %d bytes.", t.size)
	}
	out := *t
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	port := flag.Int("port", 9000, "Port to listen on")
	delay := flag.Duration("delay", 2*time.Second, "Time until a transcript completes")
	failRate := flag.Float64("fail-rate", 0, "Fraction of transcripts that end in error")
	apiKey := flag.String("api-key", "", "Required Authorization header value (empty accepts any)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	addr := fmt.Sprintf("localhost:%d", *port)
	e := &fakeEngine{
		baseURL:     "http://" + addr,
		apiKey:      *apiKey,
		delay:       *delay,
		failRate:    *failRate,
		logger:      logger,
		uploads:     make(map[string]upload),
		transcripts: make(map[string]*transcript),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", e.handleUpload)
	mux.HandleFunc("POST /transcript", e.handleCreate)
	mux.HandleFunc("GET /transcript/{id}", e.handlePoll)

	logger.Info("Fake transcription engine starting",
		slog.String("address", addr),
		slog.Duration("delay", *delay),
		slog.Float64("fail_rate", *failRate),
	)
	logger.Info("Point transcription.endpoint at " + e.baseURL)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
