package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Alissonpcl/ai-stt-learning/internal/transcription"
)

// ErrJobNotFound is returned for ids the tracker never issued.
var ErrJobNotFound = errors.New("job not found")

// Failure reasons recorded by the tracker itself.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// State of a job. Transitions only move forward:
// submitted -> polling -> completed | failed.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) rank() int {
	switch s {
	case StateSubmitted:
		return 0
	case StatePolling:
		return 1
	default:
		return 2
	}
}

// Budget bounds the upstream calls spent on one job.
type Budget struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultBudget is 30 attempts one second apart.
var DefaultBudget = Budget{MaxAttempts: 30, Interval: time.Second}

// Window is the longest a job can stay active under this budget, ignoring
// the latency of the upstream calls themselves.
func (b Budget) Window() time.Duration {
	return time.Duration(b.MaxAttempts) * b.Interval
}

// Job is a snapshot of one transcription job.
type Job struct {
	ID        string                  `json:"id"`
	Handle    transcription.JobHandle `json:"handle,omitempty"`
	Sequences []int                   `json:"chunk_sequences"`
	State     State                   `json:"state"`
	Text      string                  `json:"text,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	LastError string                  `json:"last_error,omitempty"`
	Attempts  int                     `json:"attempts"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type job struct {
	Job

	payload     []byte
	inFlight    bool
	reported    bool
	lastAttempt time.Time
}

// Stats counts jobs per state.
type Stats struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Polling   int `json:"polling"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Tracker owns the jobs of one session and drives them to a terminal state
// within their budget. Upstream calls are never made while holding mu.
type Tracker struct {
	engine     transcription.Engine
	budget     Budget
	workers    int
	logger     *slog.Logger
	onTerminal func(Job)

	jobs  map[string]*job
	order []string

	mu       sync.Mutex
	sweeping chan struct{} // one sweep at a time; acquired with a context
	reportMu sync.Mutex    // serializes onTerminal calls
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWorkers limits how many upstream calls one sweep makes at once.
func WithWorkers(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// OnTerminal registers a callback invoked once per job when it reaches a
// terminal state. Calls are serialized.
func OnTerminal(fn func(Job)) Option {
	return func(t *Tracker) {
		t.onTerminal = fn
	}
}

// NewTracker creates a tracker for one session.
func NewTracker(engine transcription.Engine, budget Budget, opts ...Option) *Tracker {
	if budget.MaxAttempts <= 0 {
		budget.MaxAttempts = DefaultBudget.MaxAttempts
	}
	if budget.Interval <= 0 {
		budget.Interval = DefaultBudget.Interval
	}

	t := &Tracker{
		engine:  engine,
		budget:  budget,
		workers: 4,
		logger:  slog.Default(),
		jobs:    make(map[string]*job),

		sweeping: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Budget returns the per-job budget.
func (t *Tracker) Budget() Budget {
	return t.budget
}

// Register creates a job for the payload without contacting the engine.
// The job is reserved for the caller until Submit is called for it.
func (t *Tracker) Register(payload []byte, sequences ...int) string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs[id] = &job{
		Job: Job{
			ID:        id,
			Sequences: append([]int(nil), sequences...),
			State:     StateSubmitted,
			CreatedAt: time.Now(),
		},
		payload:  payload,
		inFlight: true,
	}
	t.order = append(t.order, id)
	return id
}

// Submit sends a registered job to the engine. On failure the job stays in
// submitted and is retried by later sweeps, charged against its budget.
func (t *Tracker) Submit(ctx context.Context, id string) error {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("submit %s: %w", id, ErrJobNotFound)
	}
	if j.State != StateSubmitted || j.Handle != "" {
		j.inFlight = false
		t.mu.Unlock()
		return nil
	}
	j.inFlight = true
	payload := j.payload
	t.mu.Unlock()

	handle, err := t.engine.Submit(ctx, payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.applySubmit(j, handle, err)
	return err
}

// SubmitChunk registers and submits in one call.
func (t *Tracker) SubmitChunk(ctx context.Context, payload []byte, sequences ...int) (string, error) {
	id := t.Register(payload, sequences...)
	return id, t.Submit(ctx, id)
}

func (t *Tracker) applySubmit(j *job, handle transcription.JobHandle, err error) {
	j.inFlight = false
	j.lastAttempt = time.Now()
	if j.State.Terminal() {
		return
	}
	if err != nil {
		j.Attempts++
		j.LastError = err.Error()
		t.logger.Warn("Transcription submit failed",
			"job_id", j.ID,
			"attempts", j.Attempts,
			"error", err)
		return
	}
	j.Handle = handle
	j.LastError = ""
	j.payload = nil
	t.advance(j, StatePolling)
}

func (t *Tracker) advance(j *job, next State) bool {
	if next.rank() <= j.State.rank() && next != j.State {
		return false
	}
	if j.State.Terminal() {
		return false
	}
	j.State = next
	return true
}

type probe struct {
	j      *job
	submit bool
	handle transcription.JobHandle
	status transcription.Status
	err    error
}

// PollAll makes at most one upstream call for every active job that is due
// and returns the jobs that became terminal during this sweep. It waits for
// a running sweep to finish, or returns nil when ctx ends first.
func (t *Tracker) PollAll(ctx context.Context) []Job {
	select {
	case t.sweeping <- struct{}{}:
	case <-ctx.Done():
		return nil
	}
	defer func() { <-t.sweeping }()
	return t.sweep(ctx)
}

// TryPollAll is PollAll that returns immediately when another sweep is
// already running.
func (t *Tracker) TryPollAll(ctx context.Context) ([]Job, bool) {
	select {
	case t.sweeping <- struct{}{}:
	default:
		return nil, false
	}
	defer func() { <-t.sweeping }()
	return t.sweep(ctx), true
}

func (t *Tracker) sweep(ctx context.Context) []Job {
	now := time.Now()
	var terminal []*job
	var probes []*probe

	t.mu.Lock()
	for _, id := range t.order {
		j := t.jobs[id]
		if j.State.Terminal() || j.inFlight {
			continue
		}
		if j.Attempts >= t.budget.MaxAttempts {
			t.fail(j, ReasonTimeout)
			if t.claim(j) {
				terminal = append(terminal, j)
			}
			continue
		}
		if !j.lastAttempt.IsZero() && now.Sub(j.lastAttempt) < t.budget.Interval {
			continue
		}
		j.inFlight = true
		probes = append(probes, &probe{j: j, submit: j.Handle == "", handle: j.Handle})
	}
	t.mu.Unlock()

	if len(probes) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(t.workers)
		for _, p := range probes {
			g.Go(func() error {
				if p.submit {
					t.mu.Lock()
					payload := p.j.payload
					t.mu.Unlock()
					p.handle, p.err = t.engine.Submit(ctx, payload)
				} else {
					p.status, p.err = t.engine.Poll(ctx, p.handle)
				}
				return nil
			})
		}
		g.Wait()

		t.mu.Lock()
		for _, p := range probes {
			if p.submit {
				t.applySubmit(p.j, p.handle, p.err)
			} else {
				t.applyPoll(p.j, p.status, p.err)
			}
			if !p.j.State.Terminal() && p.j.Attempts >= t.budget.MaxAttempts {
				t.fail(p.j, ReasonTimeout)
			}
			if t.claim(p.j) {
				terminal = append(terminal, p.j)
			}
		}
		t.mu.Unlock()
	}

	out := make([]Job, 0, len(terminal))
	for _, j := range terminal {
		out = append(out, t.snapshot(j))
	}
	t.report(out)
	return out
}

func (t *Tracker) applyPoll(j *job, status transcription.Status, err error) {
	j.inFlight = false
	j.lastAttempt = time.Now()
	if j.State.Terminal() {
		return
	}
	j.Attempts++

	if err != nil {
		// transport trouble counts as pending
		j.LastError = err.Error()
		t.logger.Debug("Transcription poll failed",
			"job_id", j.ID,
			"handle", j.Handle,
			"attempts", j.Attempts,
			"error", err)
		return
	}

	switch status.State {
	case transcription.StateCompleted:
		if t.advance(j, StateCompleted) {
			j.Text = status.Text
			j.FinishedAt = time.Now()
		}
	case transcription.StateFailed:
		t.fail(j, status.Reason)
	}
}

func (t *Tracker) fail(j *job, reason string) {
	if !t.advance(j, StateFailed) {
		return
	}
	j.Reason = reason
	j.FinishedAt = time.Now()
	j.payload = nil
	t.logger.Warn("Transcription job failed",
		"job_id", j.ID,
		"handle", j.Handle,
		"reason", reason,
		"attempts", j.Attempts,
		"last_error", j.LastError)
}

// claim marks a terminal job as reported and reports whether the caller is
// the one to report it. Callers hold mu.
func (t *Tracker) claim(j *job) bool {
	if !j.State.Terminal() || j.reported {
		return false
	}
	j.reported = true
	return true
}

func (t *Tracker) snapshot(j *job) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := j.Job
	out.Sequences = append([]int(nil), j.Sequences...)
	return out
}

func (t *Tracker) report(jobs []Job) {
	if t.onTerminal == nil {
		return
	}
	t.reportMu.Lock()
	defer t.reportMu.Unlock()
	for _, j := range jobs {
		t.onTerminal(j)
	}
}

// AwaitAll sweeps until no job is active and returns every job. When ctx
// ends first the remaining jobs are failed with ReasonCancelled so the
// result is always complete.
func (t *Tracker) AwaitAll(ctx context.Context) []Job {
	for {
		t.PollAll(ctx)

		wait, active := t.nextDue()
		if !active {
			return t.Jobs()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.Expire(ReasonCancelled)
			return t.Jobs()
		case <-timer.C:
		}
	}
}

// nextDue returns how long until the earliest active job can be probed.
func (t *Tracker) nextDue() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	active := false
	wait := t.budget.Interval
	for _, j := range t.jobs {
		if j.State.Terminal() {
			continue
		}
		active = true
		if j.inFlight {
			continue
		}
		if j.Attempts >= t.budget.MaxAttempts || j.lastAttempt.IsZero() {
			return 0, true
		}
		if d := j.lastAttempt.Add(t.budget.Interval).Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, active
}

// Expire fails every active job, including those with a call in flight.
// It does not wait for a running sweep.
func (t *Tracker) Expire(reason string) []Job {
	var terminal []*job
	t.mu.Lock()
	for _, id := range t.order {
		j := t.jobs[id]
		if j.State.Terminal() {
			continue
		}
		// an in-flight answer arriving later finds a terminal job and is dropped
		t.fail(j, reason)
		if t.claim(j) {
			terminal = append(terminal, j)
		}
	}
	t.mu.Unlock()

	out := make([]Job, 0, len(terminal))
	for _, j := range terminal {
		out = append(out, t.snapshot(j))
	}
	t.report(out)
	return out
}

// Get returns a snapshot of one job.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return t.snapshot(j), nil
}

// Jobs returns snapshots of all jobs in registration order.
func (t *Tracker) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Job, 0, len(t.order))
	for _, id := range t.order {
		j := t.jobs[id].Job
		j.Sequences = append([]int(nil), t.jobs[id].Sequences...)
		out = append(out, j)
	}
	return out
}

// Active returns the number of jobs not yet terminal.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, j := range t.jobs {
		if !j.State.Terminal() {
			n++
		}
	}
	return n
}

// GetStats returns job counts per state.
func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{Total: len(t.jobs)}
	for _, j := range t.jobs {
		switch j.State {
		case StateSubmitted:
			stats.Submitted++
		case StatePolling:
			stats.Polling++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats
}

// Failed returns the failed jobs ordered by finish time.
func (t *Tracker) Failed() []Job {
	var out []Job
	for _, j := range t.Jobs() {
		if j.State == StateFailed {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].FinishedAt.Before(out[b].FinishedAt)
	})
	return out
}
