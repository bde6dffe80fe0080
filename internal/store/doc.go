// Package store provides SQLite-backed durable storage for the garland
// call journal.
//
// The store implements an append-only log with:
//   - Calls: dispatched call records
//   - Results: call result records (exactly one per call)
//   - Chain Firings: decorator chain firing records (firing-level idempotency)
//   - Provenance Edges: causality links (chain firing → decorated call)
//
// # Invariants
//
// Firing-Level Idempotency
//   - UNIQUE(result_id, chain_id, chain_hash) constraint
//   - Replaying a dispatch never records the same firing twice
//
// Logical Identity and Time
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - The journal reads back identically regardless of wall time
//
// Deterministic Query Results
//   - All queries MUST include: ORDER BY seq ASC, id ASC COLLATE BINARY
//   - Ensures identical trace output across runs
//
// Audit Metadata Always Present
//   - meta column NEVER NULL
//   - Stored as JSON for audit trail
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All content-addressed IDs are computed via functions in internal/ir/hash.go
// using RFC 8785 canonical JSON and SHA-256 with domain separation.
package store
