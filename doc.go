// Package loopchan provides a typed multi-producer channel whose receiving
// end is a task on a cooperative, single-goroutine event loop.
//
// # Architecture
//
// A channel is created with [Channel] (unbounded) or [SyncChannel] (bounded,
// including the capacity-zero rendezvous mode). The producer side is a
// cloneable [Sender] or [SyncSender]; the consumer side is a single-owner
// [Receiver] that is consumed, exactly once, by [Receiver.Attach], which
// registers a source with a [Loop] and invokes a callback for every item.
//
// Items never reach the callback through polling: each send flips a readiness
// marker on the attached source and, if necessary, wakes the loop through its
// wake pipe. The loop drains all available items run-to-completion, on its own
// goroutine, outside the channel lock.
//
// # Thread Safety
//
//   - [Sender.Send], [SyncSender.Send], and [SyncSender.TrySend] are safe to
//     call from any goroutine.
//   - [Loop.Submit] and [Loop.Wake] are safe to call from any goroutine.
//   - Source callbacks run only on the goroutine the receiver was attached
//     from, never concurrently with each other for the same source. Attaching
//     from goroutine A and running the loop on goroutine B is a fatal contract
//     violation, detected at dispatch.
//
// # Execution Model
//
// Each loop tick executes submitted one-shot callbacks, finalizes removed
// sources, then dispatches every ready source in priority order (lower
// [Priority] values first). When nothing is ready the loop parks in poll(2) on
// its wake descriptor; producers and teardown paths wake it.
//
// # Teardown
//
// Closing the last sender wakes the attached source so the consumer observes
// disconnection instead of idling forever. Removing the source (callback
// returning false, [Loop.RemoveSource], or loop shutdown) finalizes it exactly
// once, marking the channel destroyed and waking every producer blocked on
// capacity so they fail fast with [ErrDisconnected].
package loopchan
