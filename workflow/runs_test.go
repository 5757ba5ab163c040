package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStateTransitions(t *testing.T) {
	require.True(t, StateSubmitted.canTransition(StatePending))
	require.True(t, StatePending.canTransition(StatePending))
	require.True(t, StatePending.canTransition(StateComplete))
	require.True(t, StatePending.canTransition(StateError))
	require.True(t, StatePending.canTransition(StateTimeout))

	for _, terminal := range []RunState{StateComplete, StateError, StateTimeout} {
		require.True(t, terminal.Terminal())
		require.False(t, terminal.canTransition(StatePending), "no exit from %s", terminal)
		require.False(t, terminal.canTransition(StateSubmitted), "no exit from %s", terminal)
	}
}

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore()

	run := store.Create("speech", "voice-1", "hello", "img-1")
	require.NotEmpty(t, run.ID)
	require.Equal(t, StateSubmitted, run.State)

	got, ok := store.Get(run.ID)
	require.True(t, ok)
	require.Equal(t, run.ID, got.ID)
	require.Equal(t, "voice-1", got.VoiceID)

	_, ok = store.Get("unknown")
	require.False(t, ok)
}

func TestRunStoreRefusesExitFromTerminalState(t *testing.T) {
	store := NewRunStore()
	run := store.Create("speech", "voice-1", "hello", "img-1")

	require.True(t, store.Advance(run.ID, StatePending, StepPoll, nil))
	require.True(t, store.Advance(run.ID, StateComplete, StepDone, nil))

	require.False(t, store.Advance(run.ID, StatePending, StepPoll, nil))
	require.False(t, store.Advance(run.ID, StateError, "", nil))

	got, _ := store.Get(run.ID)
	require.Equal(t, StateComplete, got.State)
}

func TestRunStoreGetReturnsCopy(t *testing.T) {
	store := NewRunStore()
	run := store.Create("speech", "voice-1", "hello", "img-1")

	got, _ := store.Get(run.ID)
	got.State = StateError

	again, _ := store.Get(run.ID)
	require.Equal(t, StateSubmitted, again.State)
}

func TestRunStoreSubscribeReplaysCurrentState(t *testing.T) {
	store := NewRunStore()
	run := store.Create("speech", "voice-1", "hello", "img-1")
	require.True(t, store.Advance(run.ID, StatePending, StepPoll, nil))

	events, cancel := store.Subscribe(run.ID)
	defer cancel()

	first := <-events
	require.Equal(t, StatePending, first.State)
	require.Equal(t, StepPoll, first.Step)

	require.True(t, store.Advance(run.ID, StateComplete, StepDone, nil))
	second := <-events
	require.Equal(t, StateComplete, second.State)
}

func TestRunStoreCancelStopsDelivery(t *testing.T) {
	store := NewRunStore()
	run := store.Create("speech", "voice-1", "hello", "img-1")

	events, cancel := store.Subscribe(run.ID)
	<-events
	cancel()

	_, open := <-events
	require.False(t, open)

	// A publish after cancel must not panic on the closed channel.
	require.True(t, store.Advance(run.ID, StatePending, StepPoll, nil))
}

func TestRunStorePublishDuringCancelDoesNotPanic(t *testing.T) {
	store := NewRunStore()
	run := store.Create("speech", "voice-1", "hello", "img-1")

	const iterations = 500

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				store.Advance(run.ID, StatePending, StepPoll, nil)
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				events, cancel := store.Subscribe(run.ID)
				<-events
				cancel()
			}
		}()
	}

	wg.Wait()

	got, ok := store.Get(run.ID)
	require.True(t, ok)
	require.Equal(t, StatePending, got.State)
}
