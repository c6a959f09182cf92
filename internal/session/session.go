package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Alissonpcl/ai-stt-learning/internal/audio"
	"github.com/Alissonpcl/ai-stt-learning/internal/billing"
	"github.com/Alissonpcl/ai-stt-learning/internal/jobs"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcript"
)

// State of a session. Open -> Finalizing -> Closed, never backwards.
type State int

const (
	StateOpen State = iota
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "open":
		*s = StateOpen
	case "finalizing":
		*s = StateFinalizing
	case "closed":
		*s = StateClosed
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

// Session is one recording. Chunk log, meter, tracker and merger carry their
// own locks; mu guards the lifecycle fields and makes record+bill+register
// atomic with respect to completion.
type Session struct {
	ID        string
	Mode      string
	CreatedAt time.Time

	chunks  *audio.ChunkLog
	meter   *billing.Meter
	tracker *jobs.Tracker
	merger  *transcript.Merger

	state         State
	lastActivity  time.Time
	closedAt      time.Time
	declaredTotal float64
	final         *FinalResult
	evictTimer    *time.Timer

	subscribers map[int]chan Update
	nextSub     int

	mu sync.RWMutex
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update is pushed to live subscribers after each ingested chunk, each
// attached fragment and once on close.
type Update struct {
	SessionID  string           `json:"sessionId"`
	State      State            `json:"state"`
	Transcript string           `json:"transcription"`
	Usage      billing.Snapshot `json:"usage"`
	ChunkCount int              `json:"chunkCount"`
	Final      bool             `json:"final"`
	Result     *FinalResult     `json:"result,omitempty"`
}

// SessionInfo is a monitoring snapshot of a session.
type SessionInfo struct {
	SessionID    string           `json:"sessionId"`
	Mode         string           `json:"mode"`
	State        State            `json:"state"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastActivity time.Time        `json:"lastActivity"`
	ClosedAt     *time.Time       `json:"closedAt,omitempty"`
	DeclaredSecs float64          `json:"declaredDuration,omitempty"`
	Chunks       audio.LogStats   `json:"chunks"`
	Jobs         jobs.Stats       `json:"jobs"`
	Usage        billing.Snapshot `json:"usage"`
	Transcript   string           `json:"transcription"`
	Fragments    int              `json:"fragments"`
	Suppressed   int              `json:"suppressedFragments"`
}

// AudioStats describes the audio of a closed session.
type AudioStats struct {
	DurationSeconds float64 `json:"durationSeconds"`
	ChunkCount      int     `json:"chunkCount"`
}

// ProcessingStats describes how long the session took end to end.
type ProcessingStats struct {
	WallClockSeconds       float64 `json:"wallClockSeconds"`
	AverageProcessingRatio float64 `json:"averageProcessingRatio"`
	JobsCompleted          int     `json:"jobsCompleted"`
	JobsFailed             int     `json:"jobsFailed"`
}

// Omission is a job whose text is missing from the final transcript.
type Omission struct {
	JobID     string `json:"jobId"`
	Sequences []int  `json:"chunkSequences"`
	Reason    string `json:"reason"`
}

// FinalResult is returned once per session by CompleteSession.
type FinalResult struct {
	SessionID         string           `json:"sessionId"`
	FullTranscription string           `json:"fullTranscription"`
	AudioStats        AudioStats       `json:"audioStats"`
	ProcessingStats   ProcessingStats  `json:"processingStats"`
	Billing           billing.Snapshot `json:"billing"`
	Omissions         []Omission       `json:"omissions"`
}

func (s *Session) info() SessionInfo {
	s.mu.RLock()
	info := SessionInfo{
		SessionID:    s.ID,
		Mode:         s.Mode,
		State:        s.state,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		DeclaredSecs: s.declaredTotal,
	}
	if !s.closedAt.IsZero() {
		closed := s.closedAt
		info.ClosedAt = &closed
	}
	s.mu.RUnlock()

	info.Chunks = s.chunks.GetStats()
	info.Jobs = s.tracker.GetStats()
	info.Usage = s.meter.Snapshot()
	info.Transcript = s.merger.Join()
	info.Fragments = s.merger.Len()
	info.Suppressed = s.merger.Suppressed()
	return info
}

func (s *Session) snapshotUpdate() Update {
	s.mu.RLock()
	state := s.state
	final := s.final
	s.mu.RUnlock()

	return Update{
		SessionID:  s.ID,
		State:      state,
		Transcript: s.merger.Join(),
		Usage:      s.meter.Snapshot(),
		ChunkCount: s.chunks.Len(),
		Final:      state == StateClosed,
		Result:     final,
	}
}

// publish sends u to every subscriber without blocking. A final update
// closes the subscriber channels.
func (s *Session) publish(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
		if u.Final {
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

func (s *Session) subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		ch <- s.snapshotUpdate()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			close(c)
			delete(s.subscribers, id)
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}
