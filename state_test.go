package loopchan

import "testing"

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateAwake:       "Awake",
		StateRunning:     "Running",
		StateSleeping:    "Sleeping",
		StateTerminating: "Terminating",
		StateTerminated:  "Terminated",
		LoopState(99):    "Unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("LoopState(%d).String() = %q, want %q", uint64(state), got, want)
		}
	}
}

func TestLoopState_Transitions(t *testing.T) {
	s := newLoopState()
	if got := s.Load(); got != StateAwake {
		t.Fatalf("initial state = %v, want Awake", got)
	}

	if s.TryTransition(StateRunning, StateSleeping) {
		t.Fatal("transition from wrong current state should fail")
	}
	if !s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("Awake -> Running failed")
	}
	if !s.TryTransition(StateRunning, StateSleeping) {
		t.Fatal("Running -> Sleeping failed")
	}
	if s.IsTerminal() {
		t.Fatal("Sleeping is not terminal")
	}

	s.Store(StateTerminated)
	if !s.IsTerminal() {
		t.Fatal("Terminated should be terminal")
	}
}
