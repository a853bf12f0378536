package loopchan

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State machine:
//
//	StateAwake (0) → StateRunning (3)        [Run()]
//	StateRunning (3) → StateSleeping (2)     [park() via CAS]
//	StateRunning (3) → StateTerminating (4)  [Shutdown()/Close()]
//	StateSleeping (2) → StateRunning (3)     [wake via CAS]
//	StateSleeping (2) → StateTerminating (4) [Shutdown()/Close()]
//	StateAwake (0) → StateTerminated (1)     [Shutdown()/Close() before Run()]
//	StateTerminating (4) → StateTerminated (1)
//	StateTerminated (1) → (terminal)
//
// Temporary states (Running, Sleeping) must only be entered via
// TryTransition; Store is reserved for the irreversible Terminated state.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is parked in poll waiting for a wake.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively dispatching.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state machine with cache-line padding to prevent
// false sharing between the loop goroutine and producers checking the state.
type loopState struct {
	_ [64]byte //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

func newLoopState() *loopState {
	s := &loopState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state without transition validation.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another,
// reporting whether it succeeded.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is Terminated.
func (s *loopState) IsTerminal() bool {
	return s.Load() == StateTerminated
}
