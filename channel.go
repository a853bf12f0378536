package loopchan

import (
	"sync"

	"github.com/eapache/queue/v2"
)

// attachState describes the consumer side's attachment to a loop source.
//
// Transitions are one-directional: attachNone → attachLive → attachDestroyed,
// or attachNone → attachDestroyed when the receiver is closed unused.
type attachState uint8

const (
	// attachNone: the Receiver handle exists but was not yet attached.
	attachNone attachState = iota
	// attachLive: a source is registered with a loop and not yet finalized.
	attachLive
	// attachDestroyed: the consumer side is permanently gone.
	attachDestroyed
)

// attachedSource is the consumer-side view the channel core needs of a live
// source: flip the readiness marker, and observe loop-side destruction that
// may precede finalization.
type attachedSource interface {
	setReady()
	isDestroyed() bool
}

// channelBound couples a capacity limit with the wake primitive for producer
// backpressure. limit == 0 selects rendezvous mode.
type channelBound struct {
	cond  *sync.Cond
	limit int
}

// channelCore is the state shared between all sender handles, the receiver
// handle, and the attached source. Every field is guarded by mu; it is held
// for O(1) operations only, never across a user callback.
type channelCore[T any] struct {
	mu      sync.Mutex
	items   *queue.Queue[T]
	src     attachedSource // non-nil iff attach == attachLive
	bound   *channelBound  // nil => unbounded
	senders int
	attach  attachState
}

func newChannelCore[T any](bound int, bounded bool) *channelCore[T] {
	c := &channelCore[T]{
		items:   queue.New[T](),
		senders: 1,
	}
	if bounded {
		c.bound = &channelBound{limit: bound}
		c.bound.cond = sync.NewCond(&c.mu)
	}
	return c
}

// disconnectedLocked reports whether the consumer side is permanently gone.
// While attachNone the Receiver handle still owns the channel, so the
// consumer is considered alive.
func (c *channelCore[T]) disconnectedLocked() bool {
	switch c.attach {
	case attachDestroyed:
		return true
	case attachLive:
		// The loop may have destroyed the source before finalize ran.
		return c.src.isDestroyed()
	default:
		return false
	}
}

// setReadyLocked flips the attached source's readiness marker to immediate.
// No-op unless a live source is attached.
func (c *channelCore[T]) setReadyLocked() {
	if c.attach == attachLive {
		c.src.setReady()
	}
}

// send enqueues item, blocking for space on bounded channels and for the
// handoff on rendezvous channels. On ErrDisconnected the item is guaranteed
// not to be retained by the channel.
func (c *channelCore[T]) send(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Bounded: wait until enough free space is available or the consumer
	// disappears. With a bound of 0 the queue must be empty before accepting
	// new data; the handoff wait below then covers actual consumption.
	if b := c.bound; b != nil {
		for c.items.Length() >= b.limit && c.items.Length() > 0 && !c.disconnectedLocked() {
			b.cond.Wait()
		}
	}

	if c.disconnectedLocked() {
		return ErrDisconnected
	}

	c.items.Add(item)
	c.setReadyLocked()

	if b := c.bound; b != nil && b.limit == 0 {
		return c.awaitHandoffLocked(b)
	}
	return nil
}

// trySend enqueues item without waiting for space, returning ErrFull when the
// capacity is saturated. In rendezvous mode it still blocks for the handoff:
// "try" only governs whether enqueuing waits for space, not whether the
// 0-capacity mode waits for consumption.
//
// Calling trySend on an unbounded channel is a programming error.
func (c *channelCore[T]) trySend(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bound
	if b == nil {
		panic("loopchan: TrySend called on an unbounded channel")
	}

	if c.items.Length() >= b.limit && c.items.Length() > 0 {
		return ErrFull
	}

	if c.disconnectedLocked() {
		return ErrDisconnected
	}

	c.items.Add(item)
	c.setReadyLocked()

	if b.limit == 0 {
		return c.awaitHandoffLocked(b)
	}
	return nil
}

// awaitHandoffLocked blocks until the just-queued rendezvous item is removed
// by the consumer, or the consumer disconnects. If disconnection races with
// consumption and the item already left the queue, the send is reported
// successful; delivery is best-effort, not exactly-once.
func (c *channelCore[T]) awaitHandoffLocked(b *channelBound) error {
	for c.items.Length() > 0 && !c.disconnectedLocked() {
		b.cond.Wait()
	}
	if c.disconnectedLocked() && c.items.Length() > 0 {
		// The item never left the queue; take it back out so nothing is
		// silently retained past disconnection.
		c.items.Remove()
		return ErrDisconnected
	}
	return nil
}

// tryRecv pops one item if present, waking one blocked sender. Otherwise it
// distinguishes "empty, senders remain" from "no senders left": the dispatch
// loop needs this to decide between staying registered and removing itself.
func (c *channelCore[T]) tryRecv() (item T, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items.Length() > 0 {
		item = c.items.Remove()
		if c.bound != nil {
			c.bound.cond.Signal()
		}
		return item, nil
	}

	if c.senders == 0 {
		return item, ErrDisconnected
	}
	return item, ErrEmpty
}

// attachSource transitions attachNone → attachLive and returns whether the
// source should be immediately ready: the queue already holds items, or every
// sender is already gone.
func (c *channelCore[T]) attachSource(src attachedSource) (ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attach == attachDestroyed {
		// The source was finalized (e.g. by loop shutdown) before attachment
		// completed; the channel stays destroyed.
		return false
	}
	c.attach = attachLive
	c.src = src
	return c.items.Length() > 0 || c.senders == 0
}

// destroy marks the consumer side permanently gone and wakes every sender
// blocked on capacity so they observe disconnection instead of hanging. It is
// the shared teardown path for source finalization and for closing an
// unattached receiver; the two must be observably equivalent to producers.
func (c *channelCore[T]) destroy() {
	c.mu.Lock()
	c.attach = attachDestroyed
	c.src = nil
	if c.bound != nil {
		c.bound.cond.Broadcast()
	}
	c.mu.Unlock()
}

// addSender increments the sender count for a clone.
func (c *channelCore[T]) addSender() {
	c.mu.Lock()
	c.senders++
	c.mu.Unlock()
}

// releaseSender decrements the sender count. When the last sender goes away
// with a live source attached, the source is woken so the consumer observes
// "no senders left" without polling. The count is decremented under the same
// lock tryRecv reads it under, so the consumer can never wake and still see a
// stale non-zero count.
func (c *channelCore[T]) releaseSender() {
	c.mu.Lock()
	c.senders--
	var src attachedSource
	if c.senders == 0 && c.attach == attachLive && !c.src.isDestroyed() {
		src = c.src
	}
	c.mu.Unlock()
	if src != nil {
		src.setReady()
	}
}
