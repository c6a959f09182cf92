package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS session_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		total_audio_seconds REAL NOT NULL,
		chunk_count INTEGER NOT NULL,
		transcription_length INTEGER NOT NULL,
		failed_jobs INTEGER NOT NULL,
		processed_seconds REAL NOT NULL,
		estimated_cost REAL NOT NULL,
		record TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_records_session_id ON session_records(session_id);
`

// SQLiteSink appends records to a SQLite table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database and creates the table if missing.
func NewSQLiteSink(ctx context.Context, dsn string) (*SQLiteSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn cannot be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Store inserts one row per record.
func (s *SQLiteSink) Store(ctx context.Context, record Record) error {
	data, err := encode(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_records (
			session_id, mode, start_time, end_time, total_audio_seconds, chunk_count,
			transcription_length, failed_jobs, processed_seconds, estimated_cost, record
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.SessionID, record.Mode,
		record.StartTime.UTC().Format(time.RFC3339Nano), record.EndTime.UTC().Format(time.RFC3339Nano),
		record.TotalAudioSeconds, record.ChunkCount, record.TranscriptionLength, record.FailedJobs,
		record.Billing.ProcessedSeconds, record.Billing.EstimatedCost, string(data))
	if err != nil {
		return fmt.Errorf("insert record %s: %w", record.SessionID, err)
	}
	return nil
}

// Count returns the number of records stored for a session.
func (s *SQLiteSink) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_records WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
