package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Alissonpcl/ai-stt-learning/internal/archive"
	"github.com/Alissonpcl/ai-stt-learning/internal/audio"
	"github.com/Alissonpcl/ai-stt-learning/internal/config"
	"github.com/Alissonpcl/ai-stt-learning/internal/jobs"
)

const archiveTimeout = 5 * time.Second

// CompleteSession stops intake, waits for every job to finish or exhaust its
// budget and returns the final transcript. It succeeds once per session.
// Failed jobs are listed as omissions rather than reported as errors.
func (m *Manager) CompleteSession(ctx context.Context, id string, declaredTotal float64) (*FinalResult, error) {
	if err := audio.ValidateDuration(declaredTotal); err != nil {
		return nil, fmt.Errorf("total duration: %w: %w", ErrInvalidRequest, err)
	}

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s: %w", id, s.state, ErrSessionClosed)
	}
	s.state = StateFinalizing
	s.declaredTotal = declaredTotal
	s.chunks.Seal()
	s.mu.Unlock()

	m.logger.Info("Finalizing session",
		slog.String("session_id", id),
		slog.Int("chunks", s.chunks.Len()),
		slog.Int("active_jobs", s.tracker.Active()),
	)
	s.publish(s.snapshotUpdate())

	// the caller going away must not leave the session half finalized
	detached := context.WithoutCancel(ctx)

	if s.Mode == config.ModeWholeRecording {
		m.submitRecording(detached, s)
	}

	budget := s.tracker.Budget()
	waitCtx, cancel := context.WithTimeout(detached, budget.Window()+m.config.FinalizeGrace)
	all := s.tracker.AwaitAll(waitCtx)
	cancel()

	now := time.Now()
	result := &FinalResult{
		SessionID:         id,
		FullTranscription: s.merger.Join(),
		AudioStats: AudioStats{
			DurationSeconds: declaredTotal,
			ChunkCount:      s.chunks.Len(),
		},
		Billing:   s.meter.Snapshot(),
		Omissions: []Omission{},
	}

	wall := now.Sub(s.CreatedAt).Seconds()
	result.ProcessingStats.WallClockSeconds = wall
	if declaredTotal > 0 {
		result.ProcessingStats.AverageProcessingRatio = wall / declaredTotal
	}
	for _, j := range all {
		switch j.State {
		case jobs.StateCompleted:
			result.ProcessingStats.JobsCompleted++
		case jobs.StateFailed:
			result.ProcessingStats.JobsFailed++
		}
	}
	for _, j := range s.tracker.Failed() {
		result.Omissions = append(result.Omissions, Omission{
			JobID:     j.ID,
			Sequences: j.Sequences,
			Reason:    j.Reason,
		})
	}

	s.mu.Lock()
	s.state = StateClosed
	s.closedAt = now
	s.final = result
	m.scheduleEviction(s)
	s.mu.Unlock()

	m.metrics.RecordSessionCompleted(wall)
	m.logger.Info("Session completed",
		slog.String("session_id", id),
		slog.Float64("declared_duration", declaredTotal),
		slog.Float64("processed_seconds", result.Billing.ProcessedSeconds),
		slog.Float64("estimated_cost", result.Billing.EstimatedCost),
		slog.Int("jobs_completed", result.ProcessingStats.JobsCompleted),
		slog.Int("jobs_failed", result.ProcessingStats.JobsFailed),
		slog.Duration("wall_clock", now.Sub(s.CreatedAt)),
	)

	m.storeRecord(detached, s, result)
	s.publish(s.snapshotUpdate())

	return result, nil
}

// submitRecording sends the whole recording as one job.
func (m *Manager) submitRecording(ctx context.Context, s *Session) {
	chunks := s.chunks.Chunks()
	payload, err := audio.Assemble(chunks)
	if err != nil {
		m.logger.Warn("No audio to transcribe",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	seqs := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Payload) > 0 {
			seqs = append(seqs, c.Sequence)
		}
	}

	jobID, err := s.tracker.SubmitChunk(ctx, payload, seqs...)
	m.metrics.RecordJobSubmitted()
	if err != nil {
		m.logger.Warn("Recording submission failed, will retry",
			slog.String("session_id", s.ID),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) storeRecord(ctx context.Context, s *Session, result *FinalResult) {
	s.mu.RLock()
	end := s.closedAt
	s.mu.RUnlock()

	record := archive.Record{
		SessionID:           s.ID,
		Mode:                s.Mode,
		StartTime:           s.CreatedAt,
		EndTime:             end,
		TotalAudioSeconds:   roundSeconds(result.AudioStats.DurationSeconds),
		ChunkCount:          result.AudioStats.ChunkCount,
		TranscriptionLength: len(result.FullTranscription),
		FailedJobs:          len(result.Omissions),
		Billing:             result.Billing,
	}

	storeCtx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	err := m.sink.Store(storeCtx, record)
	m.metrics.RecordArchiveWrite(m.sinkDriver, err)
	if err != nil {
		m.logger.Error("Failed to archive session record",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

func roundSeconds(v float64) float64 {
	return math.Round(v*1000) / 1000
}
