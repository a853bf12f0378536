package loopchan

import "sync/atomic"

// Receiver is the consumer end of a channel. Unlike senders it cannot be
// cloned: it is either closed unused, or consumed exactly once by Attach.
type Receiver[T any] struct {
	ch       *channelCore[T]
	priority Priority
	consumed atomic.Bool
}

// Attach consumes the receiver, registering a source with loop that invokes
// fn for every item sent on the channel. fn returning false removes the
// source from the loop; any items still queued at that point are dropped.
//
// The source is bound to the calling goroutine: the loop must run (and
// therefore dispatch) on this same goroutine, or dispatch panics. Attaching
// while the loop runs on another goroutine panics immediately.
//
// Attach panics if the receiver was already attached or closed, and returns
// [ErrLoopTerminated] if the loop has shut down; in the latter case the
// channel is destroyed, exactly as if the receiver had been closed.
func (r *Receiver[T]) Attach(loop *Loop, fn func(item T) bool) (SourceID, error) {
	if loop == nil {
		panic("loopchan: Attach to nil Loop")
	}
	if fn == nil {
		panic("loopchan: Attach with nil callback")
	}
	if !r.consumed.CompareAndSwap(false, true) {
		panic("loopchan: Receiver already attached or closed")
	}

	src := &source[T]{
		loop:     loop,
		ch:       r.ch,
		fn:       fn,
		priority: r.priority,
		goid:     goroutineID(),
	}
	src.readyTime.Store(readyNever)

	id, err := loop.addSource(src)
	if err != nil {
		r.ch.destroy()
		return 0, err
	}

	// Immediately ready if items were queued, or every sender already went
	// away, before the source existed to be woken.
	if r.ch.attachSource(src) {
		src.setReady()
	}
	return id, nil
}

// Close releases a receiver that was never attached, marking the channel
// destroyed and waking every blocked sender. For producers this is observably
// equivalent to the attached source being finalized. Close is idempotent, and
// a no-op after Attach.
func (r *Receiver[T]) Close() error {
	if r.consumed.CompareAndSwap(false, true) {
		r.ch.destroy()
	}
	return nil
}
