package loopchan

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

var loopIDCounter atomic.Uint64

// Loop is a cooperative, single-goroutine event loop. Channel receivers
// attach to it as sources via [Receiver.Attach]; one-shot callbacks can be
// handed to it from any goroutine via [Loop.Submit].
//
// The loop never polls its sources: it parks in poll(2) on a wake descriptor
// and is woken by producers flipping a source's readiness marker, by Submit,
// or by shutdown.
type Loop struct {
	// Prevent copying
	_ [0]func()

	state    *loopState
	registry *sourceRegistry
	log      *logiface.Logger[logiface.Event]

	ingressMu sync.Mutex
	ingress   ingressQueue

	// dispatchBuf is reused across ticks; loop goroutine only.
	dispatchBuf []sourceEntry

	wakeFd      int
	wakeFdWrite int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	// loopGoroutineID is non-zero while Run executes.
	loopGoroutineID atomic.Uint64

	// inflight tracks Submit calls in progress, for shutdown draining.
	inflight atomic.Int64

	id       uint64
	loopDone chan struct{}
	stopOnce sync.Once
}

// New creates a new event loop.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	return &Loop{
		id:          loopIDCounter.Add(1),
		state:       newLoopState(),
		registry:    newSourceRegistry(),
		log:         cfg.logger,
		wakeFd:      wakeFd,
		wakeFdWrite: wakeWriteFd,
		loopDone:    make(chan struct{}),
	}, nil
}

// Run runs the event loop on the calling goroutine and blocks until the loop
// terminates (via Shutdown(), Close(), or ctx cancellation).
//
// Sources are dispatched on this goroutine; a source attached from a
// different goroutine causes dispatch to panic. To run in a separate
// goroutine, use `go loop.Run(ctx)` and attach from within the loop.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)
	return l.run(ctx)
}

// run is the main loop body.
func (l *Loop) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGoroutineID.Store(goroutineID())
	defer l.loopGoroutineID.Store(0)

	l.log.Debug().Uint64("loop", l.id).Log("loop started")

	// Wake the loop when ctx cancels, so a parked loop notices.
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.writeWake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			for {
				current := l.state.Load()
				if current == StateTerminating || current == StateTerminated {
					break
				}
				if l.state.TryTransition(current, StateTerminating) {
					break
				}
			}
			l.shutdown()
			return ctx.Err()
		default:
		}

		if state := l.state.Load(); state == StateTerminating || state == StateTerminated {
			l.shutdown()
			return nil
		}

		l.tick()
	}
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.runIngress()
	l.dispatchSources()
	l.park()
}

// runIngress executes all currently queued one-shot callbacks.
func (l *Loop) runIngress() {
	for {
		l.ingressMu.Lock()
		fn, ok := l.ingress.pop()
		l.ingressMu.Unlock()
		if !ok {
			return
		}
		l.safeInvoke(fn)
	}
}

// dispatchSources finalizes destroyed sources and dispatches ready ones, in
// priority order, outside the registry lock.
func (l *Loop) dispatchSources() {
	l.dispatchBuf = l.registry.snapshotEligible(l.dispatchBuf[:0])

	for _, e := range l.dispatchBuf {
		if e.src.isDestroyed() {
			l.finalizeSource(e.id, e.src)
			continue
		}
		if !e.src.dispatch() {
			l.finalizeSource(e.id, e.src)
		}
	}
}

// finalizeSource unregisters and finalizes a source. Loop goroutine only
// (finalize may already have been requested via RemoveSource; it is
// idempotent).
func (l *Loop) finalizeSource(id SourceID, src loopSource) {
	l.registry.remove(id)
	src.markDestroyed()
	src.finalize()
	l.log.Debug().Uint64("loop", l.id).Uint64("source", uint64(id)).Log("source finalized")
}

// park blocks in poll on the wake descriptor until something requires a tick.
//
// The transition to StateSleeping happens before the pending-work re-check:
// any readiness flip ordered before the check is observed directly, and any
// flip after it observes StateSleeping and writes the wake descriptor. A real
// readiness transition is therefore never missed.
func (l *Loop) park() {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	if l.hasPendingWork() {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if err := pollFD(l.wakeFd, -1); err != nil {
		l.log.Err().Err(err).Uint64("loop", l.id).Log("wake poll failed, terminating loop")
		l.state.TryTransition(StateSleeping, StateTerminating)
		return
	}

	l.drainWakeFd()
	l.state.TryTransition(StateSleeping, StateRunning)
}

// hasPendingWork reports whether a tick would do anything right now.
func (l *Loop) hasPendingWork() bool {
	l.ingressMu.Lock()
	pending := l.ingress.len() > 0
	l.ingressMu.Unlock()
	return pending || l.registry.anyEligible()
}

// drainWakeFd empties the wake descriptor and re-arms wake deduplication.
func (l *Loop) drainWakeFd() {
	for {
		if _, err := readFD(l.wakeFd, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(0)
}

// writeWake writes the wake descriptor directly, bypassing deduplication.
// Write errors (EBADF, EPIPE) are expected while the descriptor closes during
// shutdown, and are returned for the caller to ignore as appropriate.
func (l *Loop) writeWake() error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := writeFD(l.wakeFdWrite, buf[:])
	return err
}

// Wake requests a wake-up if the loop is parked. Safe from any goroutine,
// and deduplicated: concurrent callers cost at most one descriptor write.
func (l *Loop) Wake() {
	if l.state.Load() != StateSleeping {
		// The loop is awake and will observe pending work before parking, or
		// it is terminated and there is nothing to wake.
		return
	}
	if l.wakePending.CompareAndSwap(0, 1) {
		if err := l.writeWake(); err != nil {
			// Re-arm so a later Wake can retry.
			l.wakePending.Store(0)
		}
	}
}

// Submit queues a one-shot callback to run on the loop goroutine.
//
// Submissions are accepted during StateTerminating so in-flight work drains
// cleanly; only a fully terminated loop rejects them.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		panic("loopchan: Submit with nil callback")
	}

	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}

	l.ingressMu.Lock()
	l.ingress.push(fn)
	l.ingressMu.Unlock()

	l.Wake()
	return nil
}

// addSource registers a source, enforcing the loop's goroutine-affinity
// contract: while the loop runs, only the loop goroutine may attach.
func (l *Loop) addSource(src loopSource) (SourceID, error) {
	if gid := l.loopGoroutineID.Load(); gid != 0 && gid != goroutineID() {
		panic("loopchan: attach from a goroutine other than the loop's")
	}

	if state := l.state.Load(); state == StateTerminating || state == StateTerminated {
		return 0, ErrLoopTerminated
	}

	id := l.registry.add(src)
	l.log.Debug().Uint64("loop", l.id).Uint64("source", uint64(id)).
		Int("priority", int(src.sourcePriority())).Log("source attached")
	return id, nil
}

// RemoveSource destroys a source externally, without waiting for its callback
// to decline further items. Producers observe disconnection immediately; the
// source is finalized exactly once, on the loop goroutine while the loop
// runs, or inline when it does not.
func (l *Loop) RemoveSource(id SourceID) error {
	src, ok := l.registry.remove(id)
	if !ok {
		return ErrSourceNotFound
	}

	src.markDestroyed()

	if l.isLoopGoroutine() || l.loopGoroutineID.Load() == 0 {
		src.finalize()
		return nil
	}

	// Finalize over the ingress so it runs on the loop goroutine, never
	// concurrently with a dispatch of the same source. Submit also wakes a
	// parked loop; if the loop terminated in the meantime, finalize inline
	// (finalize is idempotent, and shutdown finalizes only registered
	// sources, which no longer includes this one).
	if err := l.Submit(src.finalize); err != nil {
		src.finalize()
	}
	return nil
}

// shutdown performs the shutdown sequence on the loop goroutine.
func (l *Loop) shutdown() {
	// Terminated first: submissions racing with the drain below are either
	// caught by it or rejected.
	l.state.Store(StateTerminated)

	emptyChecks := 0
	for emptyChecks < 3 {
		for l.inflight.Load() > 0 {
			runtime.Gosched()
		}

		drained := false
		for {
			l.ingressMu.Lock()
			fn, ok := l.ingress.pop()
			l.ingressMu.Unlock()
			if !ok {
				break
			}
			l.safeInvoke(fn)
			drained = true
		}

		if drained || l.inflight.Load() > 0 {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.finalizeAllSources()
	l.closeFDs()
	l.log.Debug().Uint64("loop", l.id).Log("loop terminated")
}

// finalizeAllSources finalizes every remaining source, waking their blocked
// producers so they observe disconnection instead of hanging.
func (l *Loop) finalizeAllSources() {
	for _, e := range l.registry.drain() {
		e.src.markDestroyed()
		e.src.finalize()
	}
}

// Shutdown gracefully shuts down the event loop: queued callbacks run,
// remaining sources are finalized, then the loop terminates. Blocks until
// termination completes or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				// Never ran: no loop goroutine exists, finalize inline.
				l.state.Store(StateTerminated)
				l.finalizeAllSources()
				l.closeFDs()
				return nil
			}
			if current == StateSleeping {
				_ = l.writeWake()
			}
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests termination without waiting for it to complete. Unlike
// Shutdown it is safe to call from within a source callback.
func (l *Loop) Close() error {
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.finalizeAllSources()
				l.closeFDs()
				return nil
			}
			if current == StateSleeping {
				_ = l.writeWake()
			}
			return nil
		}
	}
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// safeInvoke executes a submitted callback with panic recovery. Source
// dispatch is deliberately NOT recovered: affinity violations and callback
// panics there are unrecoverable contract violations.
func (l *Loop) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Err().Uint64("loop", l.id).Any("panic", r).Log("submitted callback panicked")
		}
	}()
	fn()
}

// closeFDs closes the wake descriptor(s).
func (l *Loop) closeFDs() {
	_ = closeFD(l.wakeFd)
	if l.wakeFdWrite != l.wakeFd {
		_ = closeFD(l.wakeFdWrite)
	}
}

// isLoopGoroutine checks whether the caller is the loop goroutine.
func (l *Loop) isLoopGoroutine() bool {
	gid := l.loopGoroutineID.Load()
	return gid != 0 && gid == goroutineID()
}

// goroutineID returns the current goroutine's ID.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
