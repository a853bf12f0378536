package loopchan

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// SourceID identifies a source registered with a Loop.
type SourceID uint64

// Readiness marker values. The marker, not the queue, is what the loop
// inspects when deciding whether a source is eligible for dispatch.
const (
	readyNow   int64 = 0
	readyNever int64 = -1
)

// loopSource is the loop-side contract of a registered source.
//
// dispatch and finalize are invoked only on the loop's owning goroutine,
// never concurrently with each other for the same source; finalize is invoked
// exactly once, even if the source is destroyed before ever being dispatched.
type loopSource interface {
	// ready is the poll-check: a cheap, lock-free readiness query.
	ready() bool
	// dispatch drains the source, reporting whether to keep it registered.
	dispatch() bool
	// finalize releases the source's resources. Idempotent.
	finalize()
	// markDestroyed flags the source as removed ahead of finalization. Safe
	// from any goroutine.
	markDestroyed()
	isDestroyed() bool
	sourcePriority() Priority
}

// source adapts a channel into a loop task. It owns the callback, the
// goroutine identity it was attached from, and a strong reference to the
// channel core.
type source[T any] struct {
	loop      *Loop
	ch        *channelCore[T]
	fn        func(T) bool
	priority  Priority
	goid      uint64
	readyTime atomic.Int64
	destroyed atomic.Bool
	finalized atomic.Bool
}

var _ loopSource = (*source[int])(nil)
var _ attachedSource = (*source[int])(nil)

// setReady marks the source immediately dispatchable and wakes the loop.
// Safe from any goroutine, including under the channel mutex: the wake is a
// non-blocking pipe write, deduplicated by the loop.
func (s *source[T]) setReady() {
	s.readyTime.Store(readyNow)
	s.loop.Wake()
}

func (s *source[T]) ready() bool {
	return s.readyTime.Load() == readyNow
}

func (s *source[T]) isDestroyed() bool {
	return s.destroyed.Load()
}

func (s *source[T]) markDestroyed() {
	s.destroyed.Store(true)
}

func (s *source[T]) sourcePriority() Priority {
	return s.priority
}

// dispatch drains every currently queued item through the callback.
//
// The readiness marker is cleared before draining, so a push racing with the
// drain re-marks the source rather than being lost. Items are received one at
// a time and the callback runs outside the channel lock; each successful
// receive wakes one producer blocked on capacity.
func (s *source[T]) dispatch() bool {
	if gid := goroutineID(); gid != s.goid {
		panic(fmt.Sprintf(
			"loopchan: source dispatched on goroutine %d, but attached from goroutine %d",
			gid, s.goid,
		))
	}

	s.readyTime.Store(readyNever)

	for {
		if s.destroyed.Load() {
			// Removed externally mid-drain; stop delivering immediately.
			return false
		}
		item, err := s.ch.tryRecv()
		switch {
		case err == nil:
		case errors.Is(err, ErrEmpty):
			// Senders remain; stay registered, marker stays idle.
			return true
		default:
			// Disconnected: the source will never become ready again.
			return false
		}
		if !s.fn(item) {
			// The callback wants no more items; remaining queue depth is
			// irrelevant, the loop removes and finalizes the source.
			return false
		}
	}
}

// finalize marks the channel destroyed, waking all blocked senders, and
// releases the callback and channel reference. Exactly one call does work;
// later calls are no-ops.
func (s *source[T]) finalize() {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	s.destroyed.Store(true)
	s.ch.destroy()
	s.ch = nil
	s.fn = nil
}
