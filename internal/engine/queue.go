package engine

import (
	"sync"

	"github.com/roach88/garland/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeDispatch represents a call to dispatch through its chain.
	EventTypeDispatch EventType = iota + 1
	// EventTypeReload represents a recompiled manifest to swap in.
	EventTypeReload
)

// Event wraps dispatches and reloads for the event queue.
type Event struct {
	Type   EventType
	Call   *ir.Call
	Reload *ReloadPayload
}

// ReloadPayload carries a freshly compiled manifest into the loop. The swap
// happens inside the loop goroutine, so a dispatch never observes a
// half-updated chain table.
type ReloadPayload struct {
	Decorators   []ir.DecoratorSpec
	Chains       []ir.ChainRule
	ManifestHash string
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so a burst of submissions never blocks the
// submitting goroutine.
//
// Thread-safety is provided for external enqueuing (CLI commands, the
// watch loop) while the Engine's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64), // Pre-allocate for typical workloads
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the Event's pointers (Call, Reload) are
	// collectable. The underlying array otherwise retains references
	// until reallocated.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		// Last element - reset to empty slice with original capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
