package loopchan

import "sync/atomic"

// Sender is the producer end of an unbounded channel. It may be cloned and
// used from any goroutine. See [Channel].
type Sender[T any] struct {
	ch     *channelCore[T]
	closed atomic.Bool
}

// Send enqueues an item and wakes the attached source. It never blocks.
//
// Returns [ErrDisconnected] if the consumer side is permanently gone; the
// channel retains no reference to the item in that case.
func (s *Sender[T]) Send(item T) error {
	if s.closed.Load() {
		panic("loopchan: Send on closed Sender")
	}
	return s.ch.send(item)
}

// Clone returns a new independent sender for the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	if s.closed.Load() {
		panic("loopchan: Clone of closed Sender")
	}
	s.ch.addSender()
	return &Sender[T]{ch: s.ch}
}

// Close releases this sender. Closing the last sender wakes the attached
// source so the consumer can observe disconnection. Close is idempotent.
func (s *Sender[T]) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.ch.releaseSender()
	}
	return nil
}

// SyncSender is the producer end of a bounded channel. It may be cloned and
// used from any goroutine. See [SyncChannel].
type SyncSender[T any] struct {
	ch     *channelCore[T]
	closed atomic.Bool
}

// Send enqueues an item, blocking while the channel is at capacity. In
// rendezvous mode (bound 0) it additionally blocks until the item has been
// removed by the consumer.
//
// Returns [ErrDisconnected] if the consumer side is permanently gone; the
// channel retains no reference to the item in that case. There is no timeout:
// the only way to unblock a waiting send is consumption or teardown of the
// consumer side.
func (s *SyncSender[T]) Send(item T) error {
	if s.closed.Load() {
		panic("loopchan: Send on closed SyncSender")
	}
	return s.ch.send(item)
}

// TrySend enqueues an item without waiting for space, returning [ErrFull]
// when the capacity is saturated and [ErrDisconnected] when the consumer is
// gone. In rendezvous mode the enqueue itself is non-blocking but the handoff
// still waits for the consumer, matching Send.
func (s *SyncSender[T]) TrySend(item T) error {
	if s.closed.Load() {
		panic("loopchan: TrySend on closed SyncSender")
	}
	return s.ch.trySend(item)
}

// Clone returns a new independent sender for the same channel.
func (s *SyncSender[T]) Clone() *SyncSender[T] {
	if s.closed.Load() {
		panic("loopchan: Clone of closed SyncSender")
	}
	s.ch.addSender()
	return &SyncSender[T]{ch: s.ch}
}

// Close releases this sender. Closing the last sender wakes the attached
// source so the consumer can observe disconnection. Close is idempotent.
func (s *SyncSender[T]) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.ch.releaseSender()
	}
	return nil
}
