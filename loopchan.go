package loopchan

// Priority is the scheduling priority of an attached source. Sources with
// numerically lower priority are dispatched first within a loop iteration.
type Priority int

// Standard source priorities.
const (
	// PriorityHigh is for sources that must preempt normal dispatch.
	PriorityHigh Priority = -100
	// PriorityDefault is the priority most sources should use.
	PriorityDefault Priority = 0
	// PriorityHighIdle sorts between default and idle work.
	PriorityHighIdle Priority = 100
	// PriorityDefaultIdle is for work that should only run when otherwise idle.
	PriorityDefaultIdle Priority = 200
	// PriorityLow runs after everything else.
	PriorityLow Priority = 300
)

// Channel creates an unbounded channel whose receiver can be attached to a
// [Loop].
//
// The Sender can be cloned, and both ends may be moved between goroutines.
// When the last sender is closed the attached source observes disconnection
// and removes itself from the loop. If the Receiver is closed without ever
// being attached, all sends fail with [ErrDisconnected].
func Channel[T any](priority Priority) (*Sender[T], *Receiver[T]) {
	ch := newChannelCore[T](0, false)
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch, priority: priority}
}

// SyncChannel creates a bounded channel with the given capacity. Sends block
// once bound items are queued; a bound of 0 selects rendezvous mode, where
// every send blocks until the item is actually removed by the consumer.
//
// SyncChannel panics if bound is negative.
func SyncChannel[T any](priority Priority, bound int) (*SyncSender[T], *Receiver[T]) {
	if bound < 0 {
		panic("loopchan: negative channel bound")
	}
	ch := newChannelCore[T](bound, true)
	return &SyncSender[T]{ch: ch}, &Receiver[T]{ch: ch, priority: priority}
}
