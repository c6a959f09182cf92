package transcript

import (
	"strings"
	"sync"
	"time"
)

// Outcome of an Attach call.
type Outcome int

const (
	Attached Outcome = iota
	RejectedEmpty
	RejectedDuplicateJob
	RejectedContained
)

func (o Outcome) String() string {
	switch o {
	case Attached:
		return "attached"
	case RejectedEmpty:
		return "empty"
	case RejectedDuplicateJob:
		return "duplicate_job"
	case RejectedContained:
		return "contained"
	default:
		return "unknown"
	}
}

// Fragment is recognized text from one completed job.
type Fragment struct {
	JobID      string    `json:"job_id"`
	Text       string    `json:"text"`
	AttachedAt time.Time `json:"attached_at"`
}

// Merger keeps the fragments of one session in attachment order.
//
// A fragment is rejected when it, or any fragment already attached, is a
// substring of the other. Comparison is exact and case sensitive after
// trimming surrounding whitespace. This removes repeats from overlapping
// jobs but does not try to stitch partial overlaps.
type Merger struct {
	fragments  []Fragment
	seenJobs   map[string]struct{}
	suppressed int

	mu sync.RWMutex
}

// NewMerger creates an empty merger.
func NewMerger() *Merger {
	return &Merger{seenJobs: make(map[string]struct{})}
}

// Attach appends text from jobID unless it is empty, the job already
// contributed, or it overlaps an attached fragment by containment.
func (m *Merger) Attach(jobID, text string) Outcome {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	defer m.mu.Unlock()

	if text == "" {
		return RejectedEmpty
	}
	if _, ok := m.seenJobs[jobID]; ok {
		return RejectedDuplicateJob
	}
	for _, f := range m.fragments {
		if strings.Contains(f.Text, text) || strings.Contains(text, f.Text) {
			m.seenJobs[jobID] = struct{}{}
			m.suppressed++
			return RejectedContained
		}
	}

	m.seenJobs[jobID] = struct{}{}
	m.fragments = append(m.fragments, Fragment{
		JobID:      jobID,
		Text:       text,
		AttachedAt: time.Now(),
	})
	return Attached
}

// Join returns the attached fragments separated by single spaces.
func (m *Merger) Join() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parts := make([]string, len(m.fragments))
	for i, f := range m.fragments {
		parts[i] = f.Text
	}
	return strings.Join(parts, " ")
}

// Fragments returns a copy of the attached fragments.
func (m *Merger) Fragments() []Fragment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Fragment(nil), m.fragments...)
}

// Len returns the number of attached fragments.
func (m *Merger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fragments)
}

// Suppressed returns how many fragments were dropped by the containment rule.
func (m *Merger) Suppressed() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suppressed
}
