package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS session_records (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		total_audio_seconds DOUBLE PRECISION NOT NULL,
		chunk_count INTEGER NOT NULL,
		transcription_length INTEGER NOT NULL,
		failed_jobs INTEGER NOT NULL,
		processed_seconds DOUBLE PRECISION NOT NULL,
		estimated_cost DOUBLE PRECISION NOT NULL,
		record JSONB NOT NULL
	)
`

// PostgresSink appends records to a Postgres table.
type PostgresSink struct {
	db *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the table if missing.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresSink{db: pool}, nil
}

// Store inserts one row per record.
func (s *PostgresSink) Store(ctx context.Context, record Record) error {
	if s.db == nil {
		return nil
	}

	data, err := encode(record)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_records (
			session_id, mode, start_time, end_time, total_audio_seconds, chunk_count,
			transcription_length, failed_jobs, processed_seconds, estimated_cost, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, record.SessionID, record.Mode, record.StartTime, record.EndTime,
		record.TotalAudioSeconds, record.ChunkCount, record.TranscriptionLength, record.FailedJobs,
		record.Billing.ProcessedSeconds, record.Billing.EstimatedCost, data)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", record.SessionID, err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresSink) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
