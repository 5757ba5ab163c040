package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStore keeps run records in process memory and fans progress events
// out to subscribers. Runs are transient; a restart forgets them, the
// generated vendor assets survive on the vendor side.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	subs map[string][]chan Event
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		subs: make(map[string][]chan Event),
	}
}

// Create registers a new run in the SUBMITTED state.
func (s *RunStore) Create(kind, voiceID, text, imageAssetID string) *Run {
	now := time.Now().UTC()
	run := &Run{
		ID:           uuid.NewString(),
		Kind:         kind,
		State:        StateSubmitted,
		VoiceID:      voiceID,
		Text:         text,
		ImageAssetID: imageAssetID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.publish(Event{RunID: run.ID, State: run.State, At: now})
	return run
}

// Get returns a copy of the run so callers never observe concurrent
// mutation.
func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Advance applies a state/step change. Transitions out of a terminal
// state are refused; the call is then a no-op returning false.
func (s *RunStore) Advance(id string, next RunState, step string, mutate func(*Run)) bool {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if run.State != next && !run.State.canTransition(next) {
		s.mu.Unlock()
		return false
	}

	run.State = next
	if step != "" {
		run.Step = step
	}
	if mutate != nil {
		mutate(run)
	}
	run.UpdatedAt = time.Now().UTC()
	event := Event{RunID: run.ID, State: run.State, Step: run.Step, Error: run.Error, At: run.UpdatedAt}
	s.mu.Unlock()

	s.publish(event)
	return true
}

// Subscribe returns a buffered event channel for the given run plus a
// cancel function. The current state is replayed as the first event so
// late subscribers see where the run stands.
func (s *RunStore) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	s.subs[id] = append(s.subs[id], ch)
	if run, ok := s.runs[id]; ok {
		ch <- Event{RunID: run.ID, State: run.State, Step: run.Step, Error: run.Error, At: run.UpdatedAt}
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		channels := s.subs[id]
		for i, candidate := range channels {
			if candidate == ch {
				s.subs[id] = append(channels[:i], channels[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

// publish sends while holding the read lock. Cancel closes channels
// under the write lock, so a send can never race a close.
func (s *RunStore) publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the workflow.
		}
	}
}
