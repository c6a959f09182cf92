package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alissonpcl/ai-stt-learning/internal/billing"
	"github.com/Alissonpcl/ai-stt-learning/internal/config"
)

// Record is the write-once summary of a closed session. Audio and
// transcript text are not part of it.
type Record struct {
	SessionID           string           `json:"sessionId"`
	Mode                string           `json:"mode"`
	StartTime           time.Time        `json:"startTime"`
	EndTime             time.Time        `json:"endTime"`
	TotalAudioSeconds   float64          `json:"totalAudioDuration"`
	ChunkCount          int              `json:"totalChunks"`
	TranscriptionLength int              `json:"transcriptionLength"`
	FailedJobs          int              `json:"failedJobs"`
	Billing             billing.Snapshot `json:"billing"`
}

// Sink stores session records.
type Sink interface {
	Store(ctx context.Context, record Record) error
	Close() error
}

// Open creates the sink selected by cfg.Driver.
func Open(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sink Sink
		err  error
	)
	switch cfg.Driver {
	case config.ArchiveNone, "":
		return NopSink{}, nil
	case config.ArchiveFile:
		sink, err = NewFileSink(cfg.Dir)
	case config.ArchiveSQLite:
		sink, err = NewSQLiteSink(ctx, cfg.DSN)
	case config.ArchivePostgres:
		sink, err = NewPostgresSink(ctx, cfg.DSN)
	case config.ArchiveRedis:
		sink, err = NewRedisSink(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.GetTTLDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", cfg.Driver, err)
	}

	logger.Info("Session archive opened", "driver", cfg.Driver)
	return sink, nil
}

// NopSink discards records.
type NopSink struct{}

// Store does nothing.
func (NopSink) Store(ctx context.Context, record Record) error { return nil }

// Close does nothing.
func (NopSink) Close() error { return nil }

func encode(record Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", record.SessionID, err)
	}
	return data, nil
}
