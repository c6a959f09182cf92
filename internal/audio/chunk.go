package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrSessionClosed is returned when a chunk arrives after the log was sealed.
var ErrSessionClosed = errors.New("session closed")

// Chunk represents one captured audio fragment as it arrived from the caller.
// Sequence and Duration are caller-declared and never trusted for ordering.
type Chunk struct {
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Duration  float64   `json:"duration_seconds"`
	Payload   []byte    `json:"-"`
	Size      int       `json:"size_bytes"`
	ArrivedAt time.Time `json:"arrived_at"`

	// position in arrival order, starting at 0
	Position int `json:"position"`
}

// ChunkLog holds the chunks of a single recording session in arrival order
// together with the running total of declared audio seconds.
//
// Chunks are appended regardless of gaps or repeats in their declared
// sequence index; the log never reorders.
type ChunkLog struct {
	sessionID string

	chunks           []*Chunk
	processedSeconds float64
	totalBytes       int
	sealed           bool

	mu sync.RWMutex
}

// LogStats represents chunk log statistics for monitoring
type LogStats struct {
	ChunkCount       int     `json:"chunk_count"`
	ProcessedSeconds float64 `json:"processed_seconds"`
	TotalBytes       int     `json:"total_bytes"`
	Sealed           bool    `json:"sealed"`
	FirstSequence    int     `json:"first_sequence"`
	LastSequence     int     `json:"last_sequence"`
}

// NewChunkLog creates an empty chunk log for the given session.
func NewChunkLog(sessionID string) *ChunkLog {
	return &ChunkLog{
		sessionID: sessionID,
		chunks:    make([]*Chunk, 0, 16),
	}
}

// Append records a chunk at the end of the log and adds its declared
// duration to the processed-seconds total.
func (l *ChunkLog) Append(sequence int, duration float64, payload []byte) (*Chunk, error) {
	if err := ValidateDuration(duration); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return nil, fmt.Errorf("append chunk %d to %s: %w", sequence, l.sessionID, ErrSessionClosed)
	}

	chunk := &Chunk{
		SessionID: l.sessionID,
		Sequence:  sequence,
		Duration:  duration,
		Payload:   payload,
		Size:      len(payload),
		ArrivedAt: time.Now(),
		Position:  len(l.chunks),
	}

	l.chunks = append(l.chunks, chunk)
	l.processedSeconds += duration
	l.totalBytes += len(payload)

	return chunk, nil
}

// Seal marks the log closed. Subsequent appends fail with ErrSessionClosed.
func (l *ChunkLog) Seal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
}

// Sealed reports whether the log has been sealed.
func (l *ChunkLog) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Chunks returns a copy of the chunk list in arrival order.
func (l *ChunkLog) Chunks() []*Chunk {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Chunk, len(l.chunks))
	copy(out, l.chunks)
	return out
}

// Len returns the number of recorded chunks.
func (l *ChunkLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chunks)
}

// ProcessedSeconds returns the sum of declared durations of all chunks.
func (l *ChunkLog) ProcessedSeconds() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.processedSeconds
}

// TotalBytes returns the sum of payload sizes of all chunks.
func (l *ChunkLog) TotalBytes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalBytes
}

// GetStats returns a snapshot of the log counters.
func (l *ChunkLog) GetStats() LogStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LogStats{
		ChunkCount:       len(l.chunks),
		ProcessedSeconds: l.processedSeconds,
		TotalBytes:       l.totalBytes,
		Sealed:           l.sealed,
	}
	if n := len(l.chunks); n > 0 {
		stats.FirstSequence = l.chunks[0].Sequence
		stats.LastSequence = l.chunks[n-1].Sequence
	}
	return stats
}

// ValidateDuration rejects declared durations that would break the
// non-decreasing processed-seconds total.
func ValidateDuration(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("duration must be a finite number, got %v", seconds)
	}
	if seconds < 0 {
		return fmt.Errorf("duration cannot be negative, got %f", seconds)
	}
	return nil
}
