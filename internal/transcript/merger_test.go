package transcript

import (
	"fmt"
	"sync"
	"testing"
)

func TestMergerAttach(t *testing.T) {
	type attach struct {
		job  string
		text string
		want Outcome
	}

	tests := []struct {
		name     string
		attaches []attach
		joined   string
	}{
		{
			name: "distinct fragments in attachment order",
			attaches: []attach{
				{"j2", "second part", Attached},
				{"j1", "first part", Attached},
			},
			joined: "second part first part",
		},
		{
			name: "longer fragment after shorter one is rejected",
			attaches: []attach{
				{"a", "hello", Attached},
				{"b", "hello world", RejectedContained},
			},
			joined: "hello",
		},
		{
			name: "shorter fragment after longer one is rejected",
			attaches: []attach{
				{"b", "hello world", Attached},
				{"a", "hello", RejectedContained},
			},
			joined: "hello world",
		},
		{
			name: "exact repeat",
			attaches: []attach{
				{"a", "same words", Attached},
				{"b", "same words", RejectedContained},
			},
			joined: "same words",
		},
		{
			name: "case sensitive",
			attaches: []attach{
				{"a", "Hello", Attached},
				{"b", "hello there", Attached},
			},
			joined: "Hello hello there",
		},
		{
			name: "whitespace trimmed and empty dropped",
			attaches: []attach{
				{"a", "  padded  ", Attached},
				{"b", "   ", RejectedEmpty},
				{"c", "", RejectedEmpty},
			},
			joined: "padded",
		},
		{
			name: "same job twice",
			attaches: []attach{
				{"a", "one", Attached},
				{"a", "two", RejectedDuplicateJob},
			},
			joined: "one",
		},
		{
			name: "checked against every attached fragment",
			attaches: []attach{
				{"a", "alpha", Attached},
				{"b", "beta", Attached},
				{"c", "the beta test", RejectedContained},
			},
			joined: "alpha beta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMerger()
			for _, a := range tt.attaches {
				if got := m.Attach(a.job, a.text); got != a.want {
					t.Errorf("Attach(%s, %q): expected %s, got %s", a.job, a.text, a.want, got)
				}
			}
			if got := m.Join(); got != tt.joined {
				t.Errorf("Expected joined %q, got %q", tt.joined, got)
			}
		})
	}
}

func TestMergerJoinIdempotent(t *testing.T) {
	m := NewMerger()
	if m.Join() != "" {
		t.Errorf("Expected empty join, got %q", m.Join())
	}

	m.Attach("a", "one")
	m.Attach("b", "two")

	first := m.Join()
	for i := 0; i < 3; i++ {
		if got := m.Join(); got != first {
			t.Errorf("Join call %d: expected %q, got %q", i, first, got)
		}
	}

	// a rejected fragment leaves the text unchanged
	m.Attach("c", "one")
	if got := m.Join(); got != first {
		t.Errorf("Expected %q after rejected attach, got %q", first, got)
	}
	if m.Suppressed() != 1 {
		t.Errorf("Expected 1 suppressed fragment, got %d", m.Suppressed())
	}
	if m.Len() != 2 || m.Fragments()[1].JobID != "b" {
		t.Errorf("Unexpected fragments: %+v", m.Fragments())
	}
}

func TestMergerConcurrentAttach(t *testing.T) {
	m := NewMerger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Attach(fmt.Sprintf("job-%d", i), fmt.Sprintf("<%d>", i))
		}(i)
	}
	wg.Wait()

	if m.Len() != 20 {
		t.Errorf("Expected 20 fragments, got %d", m.Len())
	}
}
