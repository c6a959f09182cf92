package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alissonpcl/ai-stt-learning/internal/archive"
	"github.com/Alissonpcl/ai-stt-learning/internal/audio"
	"github.com/Alissonpcl/ai-stt-learning/internal/billing"
	"github.com/Alissonpcl/ai-stt-learning/internal/config"
	"github.com/Alissonpcl/ai-stt-learning/internal/jobs"
	"github.com/Alissonpcl/ai-stt-learning/internal/metrics"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcript"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcription"
)

var (
	// ErrSessionNotFound is returned for ids with no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a session no longer accepts the operation.
	ErrSessionClosed = audio.ErrSessionClosed
	// ErrInvalidRequest marks caller mistakes.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidChunk is returned for chunks with a bad id or duration.
	ErrInvalidChunk = fmt.Errorf("invalid chunk: %w", ErrInvalidRequest)
	// ErrPayloadTooLarge is returned for chunks over the size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
)

const subscriberBuffer = 16

// ManagerConfig holds manager configuration
type ManagerConfig struct {
	Mode            string
	Retention       time.Duration
	Budget          jobs.Budget
	PollWorkers     int
	MaxPayloadBytes int64
	MaxIDLength     int
	RatePerSecond   float64
	Currency        string

	// FinalizeGrace is added to the job budget window when waiting for a
	// session's jobs on completion.
	FinalizeGrace time.Duration
}

// Manager owns every live session and drives their jobs in the background.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	engine     transcription.Engine
	billing    *billing.Accumulator
	sink       archive.Sink
	sinkDriver string
	metrics    *metrics.Metrics
	config     ManagerConfig
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive stores a record of each closed session in sink. driver labels
// the archive metrics.
func WithArchive(driver string, sink archive.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
			m.sinkDriver = driver
		}
	}
}

// WithMetrics records session activity in m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a new session manager and starts its poll routine.
func NewManager(logger *slog.Logger, engine transcription.Engine, cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("transcription engine cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:   make(map[string]*Session),
		engine:     engine,
		billing:    billing.NewAccumulator(cfg.RatePerSecond, cfg.Currency),
		sink:       archive.NopSink{},
		sinkDriver: config.ArchiveNone,
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.startPollRoutine()

	return m, nil
}

func withDefaults(c ManagerConfig) ManagerConfig {
	if c.Mode == "" {
		c.Mode = config.ModePerChunk
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.Budget.MaxAttempts <= 0 {
		c.Budget.MaxAttempts = jobs.DefaultBudget.MaxAttempts
	}
	if c.Budget.Interval <= 0 {
		c.Budget.Interval = jobs.DefaultBudget.Interval
	}
	if c.PollWorkers <= 0 {
		c.PollWorkers = 8
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 10 << 20
	}
	if c.MaxIDLength <= 0 {
		c.MaxIDLength = 128
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = 10 * time.Second
	}
	return c
}

// Billing returns the accumulator shared by all sessions.
func (m *Manager) Billing() *billing.Accumulator {
	return m.billing
}

// Config returns the effective manager configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// getOrCreate returns the session for id, creating it on first sight.
func (m *Manager) getOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Mode:         m.config.Mode,
		CreatedAt:    now,
		lastActivity: now,
		chunks:       audio.NewChunkLog(id),
		meter:        m.billing.NewMeter(),
		merger:       transcript.NewMerger(),
		subscribers:  make(map[int]chan Update),
	}
	s.tracker = jobs.NewTracker(m.engine, m.config.Budget,
		jobs.WithWorkers(m.config.PollWorkers),
		jobs.WithLogger(m.logger.With(slog.String("session_id", id))),
		jobs.OnTerminal(func(j jobs.Job) { m.onJobTerminal(s, j) }),
	)
	m.sessions[id] = s

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Created new session",
		slog.String("session_id", id),
		slog.String("mode", s.Mode),
	)
	return s
}

// onJobTerminal runs serialized per session, in completion order.
func (m *Manager) onJobTerminal(s *Session, j jobs.Job) {
	m.metrics.RecordJobTerminal(j.State == jobs.StateCompleted, j.Reason, j.Attempts)

	if j.State != jobs.StateCompleted {
		m.logger.Info("Job omitted from transcript",
			slog.String("session_id", s.ID),
			slog.String("job_id", j.ID),
			slog.String("reason", j.Reason),
			slog.Int("attempts", j.Attempts),
		)
		return
	}

	outcome := s.merger.Attach(j.ID, j.Text)
	m.metrics.RecordFragment(outcome.String())
	m.logger.Debug("Transcription job completed",
		slog.String("session_id", s.ID),
		slog.String("job_id", j.ID),
		slog.String("outcome", outcome.String()),
		slog.Int("attempts", j.Attempts),
	)
	if outcome == transcript.Attached {
		s.publish(s.snapshotUpdate())
	}
}

// AddProcessedSeconds bills seconds to an existing session.
func (m *Manager) AddProcessedSeconds(id string, seconds float64) (billing.Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return billing.Snapshot{}, err
	}
	snap, err := s.meter.Add(seconds)
	if err != nil {
		return snap, fmt.Errorf("session %s: %w: %w", id, ErrInvalidRequest, err)
	}
	return snap, nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (*SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	info := s.info()
	return &info, nil
}

// Sessions returns snapshots of all sessions, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveCount returns the number of sessions held in memory.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Subscribe returns a channel of live updates for a session and a function
// that ends the subscription. The channel is closed after the final update.
func (m *Manager) Subscribe(id string) (<-chan Update, func(), error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.subscribe(subscriberBuffer)
	return ch, cancel, nil
}

// Stop stops the poll routine, cancels eviction timers and closes every
// subscriber. In-flight upstream calls are cancelled.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.done

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var open int
	for _, s := range sessions {
		s.mu.Lock()
		if s.evictTimer != nil {
			s.evictTimer.Stop()
		}
		if s.state != StateClosed {
			open++
		}
		s.mu.Unlock()
		s.closeSubscribers()
	}

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", len(sessions)),
		slog.Int("unfinished_sessions", open),
	)
}

// startPollRoutine sweeps every session with active jobs once per poll
// interval so jobs progress before completion is requested.
func (m *Manager) startPollRoutine() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Budget.Interval)
	defer ticker.Stop()

	m.logger.Info("Session poll routine started",
		slog.Duration("interval", m.config.Budget.Interval),
		slog.Int("workers", m.config.PollWorkers),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session poll routine stopping")
			return
		case <-ticker.C:
			m.pollSessions()
		}
	}
}

func (m *Manager) pollSessions() {
	m.mu.RLock()
	var pending []*Session
	for _, s := range m.sessions {
		if s.tracker.Active() > 0 {
			pending = append(pending, s)
		}
	}
	m.mu.RUnlock()

	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(m.config.PollWorkers)
	for _, s := range pending {
		g.Go(func() error {
			// probes are bounded so a silent upstream cannot hold the
			// tracker past a completion deadline
			ctx, cancel := context.WithTimeout(m.ctx, m.config.FinalizeGrace)
			defer cancel()
			// a session already being swept by its completion is skipped
			s.tracker.TryPollAll(ctx)
			return nil
		})
	}
	g.Wait()
}

// scheduleEviction removes s from the registry after the retention period.
// Called with s.mu held.
func (m *Manager) scheduleEviction(s *Session) {
	s.evictTimer = time.AfterFunc(m.config.Retention, func() {
		m.mu.Lock()
		current, ok := m.sessions[s.ID]
		if ok && current == s {
			delete(m.sessions, s.ID)
		}
		count := len(m.sessions)
		m.mu.Unlock()

		if !ok || current != s {
			return
		}
		s.closeSubscribers()
		m.metrics.RecordSessionEvicted()
		m.metrics.SetActiveSessions(count)
		m.logger.Info("Session evicted after retention",
			slog.String("session_id", s.ID),
			slog.Duration("retention", m.config.Retention),
		)
	})
}
