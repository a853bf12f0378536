package loopchan

import "errors"

// Standard errors.
var (
	// ErrDisconnected is returned by send operations when the consumer side is
	// permanently gone, and by receive operations once the queue is drained and
	// no senders remain.
	ErrDisconnected = errors.New("loopchan: channel disconnected")

	// ErrFull is returned by TrySend when the channel capacity is saturated.
	// It is distinct from ErrDisconnected so callers can choose to retry.
	ErrFull = errors.New("loopchan: channel full")

	// ErrEmpty is returned by a non-blocking receive when no item is queued but
	// senders still exist.
	ErrEmpty = errors.New("loopchan: channel empty")

	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is
	// already running.
	ErrLoopAlreadyRunning = errors.New("loopchan: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a
	// terminated loop.
	ErrLoopTerminated = errors.New("loopchan: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop.
	ErrReentrantRun = errors.New("loopchan: cannot call Run() from within the loop")

	// ErrSourceNotFound is returned by RemoveSource for an unknown or already
	// removed source ID.
	ErrSourceNotFound = errors.New("loopchan: no such source")
)
