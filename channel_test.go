package loopchan

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

// waitForRunning spins until the loop reaches StateRunning, with a timeout
// guard.
func waitForRunning(t *testing.T, loop *Loop) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for loop.State() != StateRunning && loop.State() != StateSleeping {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for loop to start running")
		default:
			runtime.Gosched()
		}
	}
}

// attachInLoop attaches r from within the loop goroutine, which is required
// once the loop is running.
func attachInLoop[T any](t *testing.T, loop *Loop, r *Receiver[T], fn func(T) bool) SourceID {
	t.Helper()
	idCh := make(chan SourceID, 1)
	if err := loop.Submit(func() {
		id, err := r.Attach(loop, fn)
		if err != nil {
			t.Error(err)
		}
		idCh <- id
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-idCh:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for attach")
		return 0
	}
}

func TestChannel(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}

	sender, receiver := Channel[int](PriorityDefault)

	var sum int
	if _, err := receiver.Attach(loop, func(item int) bool {
		sum += item
		if sum == 6 {
			_ = loop.Close()
			return false
		}
		return true
	}); err != nil {
		t.Fatal(err)
	}

	if err := sender.Send(1); err != nil {
		t.Fatal(err)
	}
	if err := sender.Send(2); err != nil {
		t.Fatal(err)
	}
	if err := sender.Send(3); err != nil {
		t.Fatal(err)
	}

	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if sum != 6 {
		t.Fatalf("expected sum 6, got %d", sum)
	}
}

func TestChannel_FIFO(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}

	const n = 500
	sender, receiver := Channel[int](PriorityDefault)

	var got []int
	if _, err := receiver.Attach(loop, func(item int) bool {
		got = append(got, item)
		if len(got) == n {
			_ = loop.Close()
			return false
		}
		return true
	}); err != nil {
		t.Fatal(err)
	}

	go func() {
		for i := 0; i < n; i++ {
			if err := sender.Send(i); err != nil {
				return
			}
		}
	}()

	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(got) != n {
		t.Fatalf("expected %d items, got %d", n, len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

// TestChannel_DropSender verifies the attached source observes "no senders
// left" without polling, and removes itself from the loop.
func TestChannel_DropSender(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}

	sender, receiver := Channel[int](PriorityDefault)

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(context.Background())
	}()
	waitForRunning(t, loop)

	attachInLoop(t, loop, receiver, func(int) bool { return true })

	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for loop.registry.len() != 0 {
		select {
		case <-deadline:
			t.Fatal("source was not removed after last sender closed")
		default:
			runtime.Gosched()
		}
	}

	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestChannel_DropReceiver(t *testing.T) {
	sender, receiver := Channel[int](PriorityDefault)

	if err := receiver.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sender.Send(1); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

// TestChannel_RemoveSource destroys the source externally, before the loop
// ever runs; sends must fail immediately afterwards.
func TestChannel_RemoveSource(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	sender, receiver := Channel[int](PriorityDefault)

	id, err := receiver.Attach(loop, func(int) bool { return true })
	if err != nil {
		t.Fatal(err)
	}

	if err := loop.RemoveSource(id); err != nil {
		t.Fatal(err)
	}
	if err := loop.RemoveSource(id); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}

	if err := sender.Send(1); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

// TestChannel_CallbackStops verifies that a callback returning false removes
// the source and drops the remaining queue depth.
func TestChannel_CallbackStops(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}

	sender, receiver := Channel[int](PriorityDefault)

	var calls int
	if _, err := receiver.Attach(loop, func(int) bool {
		calls++
		_ = loop.Close()
		return false
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := sender.Send(i); err != nil {
			t.Fatal(err)
		}
	}

	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly 1 callback invocation, got %d", calls)
	}
	if err := sender.Send(99); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected after removal, got %v", err)
	}
}

func TestChannel_CloneSenders(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}

	sender, receiver := Channel[int](PriorityDefault)
	clone := sender.Clone()

	var sum int
	if _, err := receiver.Attach(loop, func(item int) bool {
		sum += item
		if sum == 3 {
			_ = loop.Close()
			return false
		}
		return true
	}); err != nil {
		t.Fatal(err)
	}

	if err := sender.Send(1); err != nil {
		t.Fatal(err)
	}
	if err := clone.Send(2); err != nil {
		t.Fatal(err)
	}
	// Closing one clone must not disconnect the channel.
	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}

	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sum != 3 {
		t.Fatalf("expected sum 3, got %d", sum)
	}
}

func TestReceiver_AttachTwicePanics(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	_, receiver := Channel[int](PriorityDefault)
	if _, err := receiver.Attach(loop, func(int) bool { return true }); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second Attach")
		}
	}()
	_, _ = receiver.Attach(loop, func(int) bool { return true })
}

func TestReceiver_AttachTerminatedLoop(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	_ = loop.Close()

	sender, receiver := Channel[int](PriorityDefault)
	if _, err := receiver.Attach(loop, func(int) bool { return true }); !errors.Is(err, ErrLoopTerminated) {
		t.Fatalf("expected ErrLoopTerminated, got %v", err)
	}
	// The failed attach consumed the receiver; producers observe
	// disconnection exactly as if it had been closed.
	if err := sender.Send(1); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}
