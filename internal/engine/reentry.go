package engine

import "sync"

// ReentryGuard tracks chain firings per scope bucket to prevent a chain
// from firing twice for the same arguments.
//
// Reentry occurs when the same (chain_id, chain_hash) would fire multiple
// times within one scope bucket. With token scope that means the same
// decorated call repeated inside one trace, which is how a recursive or
// self-triggering setup manifests.
//
// The guard maintains per-bucket history of (chain_id, chain_hash) pairs
// that have already fired. Before each firing, WouldReenter() checks if
// the pair has been seen before in this bucket.
//
// DISTINCTION from journal idempotency:
//   - Idempotency: "Have we journaled this (result, chain, hash) triple?" (persistent)
//   - Reentry guard: "Have we fired this (chain, hash) in this bucket?" (in-memory)
//
// Both checks are required:
//   - Idempotency absorbs duplicate firings on crash/replay
//   - The reentry guard stops repeats during execution
type ReentryGuard struct {
	mu      sync.Mutex
	history map[string]map[string]bool // map[bucket]map[reentry_key]bool
}

// NewReentryGuard creates a new reentry guard.
func NewReentryGuard() *ReentryGuard {
	return &ReentryGuard{
		history: make(map[string]map[string]bool),
	}
}

// WouldReenter checks if firing this (chain_id, chain_hash) would repeat.
//
// Returns true if the same (chain_id, chain_hash) has already fired in
// this bucket. Returns false for the first occurrence or if the bucket
// has no history.
//
// Thread-safe: Can be called concurrently.
func (g *ReentryGuard) WouldReenter(bucket, chainID, chainHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// No history for this bucket = first time seeing it
	if g.history[bucket] == nil {
		return false
	}

	key := chainID + ":" + chainHash
	return g.history[bucket][key]
}

// Record marks that this (chain_id, chain_hash) has fired in this bucket.
//
// This should be called after the firing is journaled, so a replayed
// dispatch that the store absorbs idempotently does not poison the guard.
//
// Thread-safe: Can be called concurrently.
func (g *ReentryGuard) Record(bucket, chainID, chainHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.history[bucket] == nil {
		g.history[bucket] = make(map[string]bool)
	}

	key := chainID + ":" + chainHash
	g.history[bucket][key] = true
}

// Clear removes all history for a bucket.
//
// Used when:
//   - A trace reaches terminal state (cleanup)
//   - Testing (reset state between tests)
//
// Thread-safe: Can be called concurrently.
func (g *ReentryGuard) Clear(bucket string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.history, bucket)
}

// HistorySize returns the number of buckets with tracked history.
//
// Used for testing and introspection.
// Thread-safe: Can be called concurrently.
func (g *ReentryGuard) HistorySize() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.history)
}

// BucketHistorySize returns the number of (chain, hash) pairs tracked for
// a bucket.
//
// Used for testing and introspection.
// Thread-safe: Can be called concurrently.
func (g *ReentryGuard) BucketHistorySize(bucket string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.history[bucket] == nil {
		return 0
	}
	return len(g.history[bucket])
}
