// Command uploader replays a recording against the server the way the
// browser client does: it cuts the recording into chunks, uploads them under
// one session id and then asks for the final transcript. WAV files are cut
// into standalone WAV segments; anything else into raw byte chunks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Alissonpcl/ai-stt-learning/internal/audio"
	"github.com/Alissonpcl/ai-stt-learning/internal/session"
)

type uploader struct {
	baseURL string
	ext     string
	client  *http.Client
	logger  *slog.Logger
}

// recording is a file cut into uploadable chunks.
type recording struct {
	chunks    [][]byte
	durations []float64
	total     float64
	wav       bool
}

// splitRecording cuts a WAV file into segments of segment seconds. Other
// formats are cut every chunkBytes bytes and each piece is declared as
// chunkDuration seconds, since its real length is unknown here.
func splitRecording(data []byte, segment float64, chunkBytes int, chunkDuration float64) (*recording, error) {
	if audio.IsWAV(data) {
		if err := audio.ValidateWAV(data); err != nil {
			return nil, err
		}
		total, err := audio.GetWAVDuration(data)
		if err != nil {
			return nil, err
		}
		chunks, durations, err := audio.SplitWAV(data, segment)
		if err != nil {
			return nil, err
		}
		return &recording{chunks: chunks, durations: durations, total: total, wav: true}, nil
	}

	if chunkDuration < 0 {
		return nil, fmt.Errorf("chunk duration cannot be negative, got %f", chunkDuration)
	}
	chunks, err := audio.SplitBytes(data, chunkBytes)
	if err != nil {
		return nil, err
	}
	durations := make([]float64, len(chunks))
	for i := range durations {
		durations[i] = chunkDuration
	}
	return &recording{
		chunks:    chunks,
		durations: durations,
		total:     chunkDuration * float64(len(chunks)),
	}, nil
}

func (u *uploader) sendChunk(ctx context.Context, sessionID string, index int, duration float64, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", fmt.Sprintf("chunk-%d%s", index, u.ext))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	mw.WriteField("sessionId", sessionID)
	mw.WriteField("chunkIndex", strconv.Itoa(index))
	mw.WriteField("chunkDuration", strconv.FormatFloat(duration, 'f', 3, 64))
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/transcribe", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result session.IngestResult
	if err := u.do(req, &result); err != nil {
		return fmt.Errorf("chunk %d: %w", index, err)
	}

	u.logger.Info("Chunk uploaded",
		slog.Int("chunk_index", index),
		slog.Float64("duration", duration),
		slog.Float64("processed_seconds", result.Usage.ProcessedSeconds),
		slog.Float64("estimated_cost", result.Usage.EstimatedCost),
		slog.String("upstream_error", result.UpstreamError),
	)
	return nil
}

func (u *uploader) complete(ctx context.Context, sessionID string, total float64) (*session.FinalResult, error) {
	body, err := json.Marshal(map[string]any{"sessionId": sessionID, "totalDuration": total})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/transcribe/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result session.FinalResult
	if err := u.do(req, &result); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return &result, nil
}

func (u *uploader) do(req *http.Request, out any) error {
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// follow prints live updates for the session until it closes.
func (u *uploader) follow(ctx context.Context, sessionID string) {
	url := "ws" + strings.TrimPrefix(u.baseURL, "http") + "/api/sessions/" + sessionID + "/live"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		u.logger.Warn("Live feed unavailable", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	for {
		var update session.Update
		if err := conn.ReadJSON(&update); err != nil {
			return
		}
		u.logger.Info("Live update",
			slog.String("state", update.State.String()),
			slog.Int("chunks", update.ChunkCount),
			slog.String("transcription", update.Transcript),
		)
		if update.Final {
			return
		}
	}
}

func main() {
	server := flag.String("server", "http://localhost:3001", "Transcription server base URL")
	file := flag.String("file", "", "Recording to upload (WAV or any other format)")
	segment := flag.Float64("segment", 5, "Chunk length in seconds for WAV files")
	chunkBytes := flag.Int("chunk-bytes", 1<<20, "Chunk size in bytes for non-WAV files")
	chunkDuration := flag.Float64("chunk-duration", 0, "Declared seconds per chunk for non-WAV files")
	sessionID := flag.String("session", "", "Session id (random when empty)")
	parallel := flag.Int("parallel", 3, "Concurrent chunk uploads")
	live := flag.Bool("live", false, "Print live updates while uploading")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: uploader -file recording [-server URL] [-segment seconds] [-chunk-bytes n]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("Failed to read recording", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rec, err := splitRecording(data, *segment, *chunkBytes, *chunkDuration)
	if err != nil {
		logger.Error("Failed to split recording", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(rec.chunks) == 0 {
		logger.Error("Recording has no audio")
		os.Exit(1)
	}
	chunks, durations := rec.chunks, rec.durations

	ext := filepath.Ext(*file)
	if rec.wav {
		ext = ".wav"
	} else if ext == "" {
		ext = ".bin"
	}

	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	u := &uploader{
		baseURL: strings.TrimSuffix(*server, "/"),
		ext:     ext,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger.With(slog.String("session_id", *sessionID)),
	}

	logger.Info("Uploading recording",
		slog.String("session_id", *sessionID),
		slog.Int("chunks", len(chunks)),
		slog.Bool("wav", rec.wav),
		slog.Float64("declared_seconds", rec.total),
	)

	// the first chunk creates the session, so it goes alone
	if err := u.sendChunk(ctx, *sessionID, 0, durations[0], chunks[0]); err != nil {
		logger.Error("Upload failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	liveDone := make(chan struct{})
	if *live {
		go func() {
			defer close(liveDone)
			u.follow(ctx, *sessionID)
		}()
	} else {
		close(liveDone)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i := 1; i < len(chunks); i++ {
		g.Go(func() error {
			return u.sendChunk(gctx, *sessionID, i, durations[i], chunks[i])
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Upload failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	result, err := u.complete(ctx, *sessionID, rec.total)
	if err != nil {
		logger.Error("Completion failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-liveDone

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	out.Encode(result)
}
