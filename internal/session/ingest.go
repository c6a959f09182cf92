package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alissonpcl/ai-stt-learning/internal/audio"
	"github.com/Alissonpcl/ai-stt-learning/internal/billing"
	"github.com/Alissonpcl/ai-stt-learning/internal/config"
)

// ChunkUpload is one chunk as received from a client.
type ChunkUpload struct {
	SessionID string
	Sequence  int
	Duration  float64
	Payload   []byte
}

// IngestResult is returned for every accepted chunk.
type IngestResult struct {
	SessionID     string           `json:"sessionId"`
	ChunkIndex    int              `json:"chunkIndex"`
	JobID         string           `json:"jobId,omitempty"`
	Transcription string           `json:"transcription"`
	Usage         billing.Snapshot `json:"usage"`

	// UpstreamError is set when the chunk was stored but its first submission
	// failed. The job is retried by later sweeps.
	UpstreamError string `json:"upstreamError,omitempty"`
}

func (m *Manager) validateUpload(u ChunkUpload) error {
	if u.SessionID == "" {
		return fmt.Errorf("session id is required: %w", ErrInvalidChunk)
	}
	if len(u.SessionID) > m.config.MaxIDLength {
		return fmt.Errorf("session id longer than %d: %w", m.config.MaxIDLength, ErrInvalidChunk)
	}
	if int64(len(u.Payload)) > m.config.MaxPayloadBytes {
		return fmt.Errorf("chunk of %d bytes exceeds %d: %w", len(u.Payload), m.config.MaxPayloadBytes, ErrPayloadTooLarge)
	}
	if err := audio.ValidateDuration(u.Duration); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "invalid"
	}
}

// IngestChunk records a chunk, bills its declared duration and, in per-chunk
// mode, submits it for transcription. The session is created on first
// sight. Submission failures do not fail the call.
func (m *Manager) IngestChunk(ctx context.Context, u ChunkUpload) (*IngestResult, error) {
	if err := m.validateUpload(u); err != nil {
		m.metrics.RecordChunkRejected(rejectReason(err))
		return nil, err
	}

	s := m.getOrCreate(u.SessionID)

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		m.metrics.RecordChunkRejected(rejectReason(ErrSessionClosed))
		return nil, fmt.Errorf("session %s is %s: %w", s.ID, s.state, ErrSessionClosed)
	}
	chunk, err := s.chunks.Append(u.Sequence, u.Duration, u.Payload)
	if err != nil {
		s.mu.Unlock()
		m.metrics.RecordChunkRejected(rejectReason(err))
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	usage, err := s.meter.Add(u.Duration)
	if err != nil {
		// duration was validated above
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}

	var jobID string
	if s.Mode == config.ModePerChunk && len(u.Payload) > 0 {
		// registered before the lock is released so completion waits for it
		jobID = s.tracker.Register(u.Payload, u.Sequence)
	}
	s.lastActivity = chunk.ArrivedAt
	s.mu.Unlock()

	m.metrics.RecordChunk(u.Duration, len(u.Payload))

	result := &IngestResult{
		SessionID:  s.ID,
		ChunkIndex: u.Sequence,
		JobID:      jobID,
	}

	if jobID != "" {
		// the client going away must not abandon the upload
		submitCtx := context.WithoutCancel(ctx)
		if err := s.tracker.Submit(submitCtx, jobID); err != nil {
			result.UpstreamError = err.Error()
			m.logger.Warn("Chunk submission failed, will retry",
				slog.String("session_id", s.ID),
				slog.Int("chunk_index", u.Sequence),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		m.metrics.RecordJobSubmitted()
	}

	result.Transcription = s.merger.Join()
	result.Usage = usage

	m.logger.Debug("Processed chunk",
		slog.String("session_id", s.ID),
		slog.Int("chunk_index", u.Sequence),
		slog.Float64("duration", u.Duration),
		slog.Int("bytes", len(u.Payload)),
		slog.Duration("elapsed", time.Since(chunk.ArrivedAt)),
	)

	s.publish(s.snapshotUpdate())
	return result, nil
}
