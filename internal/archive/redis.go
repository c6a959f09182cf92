package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // zero keeps records forever
}

// RedisSink stores each record as a JSON string under <prefix><session id>.
type RedisSink struct {
	client redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisSink connects to Redis and checks the connection.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	sink := NewRedisSinkWithClient(client, opts.KeyPrefix, opts.TTL)
	sink.closer = client.Close
	return sink, nil
}

// NewRedisSinkWithClient wraps an existing client. The caller keeps ownership of it.
func NewRedisSinkWithClient(client redis.Cmdable, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key of a session record.
func (s *RedisSink) Key(sessionID string) string {
	return s.prefix + sessionID
}

// Store writes the record, replacing any earlier record for the same id.
func (s *RedisSink) Store(ctx context.Context, record Record) error {
	data, err := encode(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(record.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.Key(record.SessionID), err)
	}
	return nil
}

// Close closes the client if this sink created it.
func (s *RedisSink) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
