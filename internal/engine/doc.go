// Package engine implements the garland dispatch engine.
//
// The engine is the heart of garland: it receives submitted calls, resolves
// the decorator chain declared for each call's target, invokes the target
// through that chain, and journals every call and result to the store.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// The engine processes all events in a single goroutine for deterministic
// behavior. This ensures:
//   - Predictable dispatch order
//   - A journal that reads back identically across runs
//   - Simple reasoning about causality
//
// Event Processing Flow:
//  1. Events enqueued to FIFO queue (dispatches or manifest reloads)
//  2. Engine.Run() dequeues events one at a time
//  3. processEvent() routes to the appropriate handler
//  4. Dispatches journal the call, run the chain, journal the result
//  5. Reloads swap the decorator and chain tables inside the loop goroutine
//
// The engine is designed for correctness and determinism, not throughput.
// Targets execute inline in the loop; the decorator stack around them is
// ordinary function composition.
//
// INVARIANTS:
//
// Logical Clock
// All records are stamped with a monotonic seq counter from Clock.Next().
// NEVER use wall-clock timestamps for ordering.
//
// Deterministic Scheduling
// Chain rules are resolved in declaration order. Journal reads use
// ORDER BY seq, id. No randomness in the dispatch path.
package engine
