package store

import (
	"context"
	"fmt"

	"github.com/roach88/garland/internal/ir"
)

// WriteCall inserts a call record into the store.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently
// ignored. Other constraint violations (e.g., NOT NULL) still return errors.
//
// The call's Args and Meta are serialized to canonical JSON per RFC 8785 so
// the stored text matches the bytes that produced the content-addressed ID.
func (s *Store) WriteCall(ctx context.Context, call ir.Call) error {
	argsJSON, err := marshalArgs(call.Args)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	metaJSON, err := marshalMeta(call.Meta)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls
		(id, token, target, args, seq, meta, manifest_hash, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		call.ID,
		call.Token,
		call.Target,
		argsJSON,
		call.Seq,
		metaJSON,
		call.ManifestHash,
		call.EngineVersion,
		call.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	return nil
}

// WriteResult inserts a result record into the store.
// Uses ON CONFLICT DO NOTHING for idempotency - duplicate writes are silently
// ignored. Each call can have exactly ONE result (enforced by the UNIQUE
// constraint on call_id).
//
// Note: The call referenced by CallID must exist (foreign key constraint).
// Note: Attempting to write a second result for a call silently no-ops.
func (s *Store) WriteResult(ctx context.Context, res ir.Result) error {
	outputJSON, err := marshalOutput(res.Output)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	metaJSON, err := marshalMeta(res.Meta)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	// ON CONFLICT DO NOTHING handles both:
	// 1. Duplicate result ID (same result written twice)
	// 2. Duplicate call_id (second result for same call)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results
		(id, call_id, outcome, output, seq, meta)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		res.ID,
		res.CallID,
		res.Outcome,
		outputJSON,
		res.Seq,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	return nil
}

// WriteChainFiring inserts a chain firing record into the store.
// Returns the ID and whether a new record was inserted.
//
// Uses ON CONFLICT(result_id, chain_id, chain_hash) DO NOTHING for
// firing-level idempotency. If the firing already exists, returns the
// existing ID and inserted=false.
//
// Note: The result referenced by ResultID must exist (foreign key constraint).
func (s *Store) WriteChainFiring(ctx context.Context, firing ir.ChainFiring) (id int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write chain firing: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO chain_firings
		(result_id, chain_id, chain_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(result_id, chain_id, chain_hash) DO NOTHING
	`,
		firing.ResultID,
		firing.ChainID,
		firing.ChainHash,
		firing.Seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write chain firing: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write chain firing: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write chain firing: last insert id: %w", err)
		}
		inserted = true
	} else {
		// Conflict - row already exists, fetch the existing ID
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM chain_firings
			WHERE result_id = ? AND chain_id = ? AND chain_hash = ?
		`, firing.ResultID, firing.ChainID, firing.ChainHash).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("write chain firing: select existing: %w", err)
		}
		inserted = false
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write chain firing: commit: %w", err)
	}

	return id, inserted, nil
}

// HasFiring checks if a chain firing already exists for the given triple.
// Used for firing-level idempotency checks.
func (s *Store) HasFiring(ctx context.Context, resultID, chainID, chainHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chain_firings
		WHERE result_id = ? AND chain_id = ? AND chain_hash = ?
	`, resultID, chainID, chainHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check firing: %w", err)
	}
	return count > 0, nil
}

// WriteProvenanceEdge inserts a provenance edge linking a chain firing to the
// call it decorated. Uses ON CONFLICT(chain_firing_id) DO NOTHING - each
// firing decorates exactly one call.
//
// Note: Both chain_firing_id and call_id must exist (foreign key constraints).
func (s *Store) WriteProvenanceEdge(ctx context.Context, chainFiringID int64, callID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance_edges
		(chain_firing_id, call_id)
		VALUES (?, ?)
		ON CONFLICT(chain_firing_id) DO NOTHING
	`,
		chainFiringID,
		callID,
	)
	if err != nil {
		return fmt.Errorf("write provenance edge: %w", err)
	}
	return nil
}

// WriteDispatch atomically journals one complete dispatch: the call, its
// result, and (when a chain decorated the call) the chain firing plus the
// provenance edge back to the call. All writes happen in a single
// transaction so a crash can never leave a result without its firing.
//
// The call insert is idempotent: the executor journals the call before
// dispatching, and this transaction re-asserts it so a journal restored
// from a partial write still ends up complete.
//
// Returns inserted=false when the result row already existed, which means
// this dispatch was already journaled (replay); the firing and edge are
// not written again in that case.
func (s *Store) WriteDispatch(
	ctx context.Context,
	call ir.Call,
	res ir.Result,
	firing *ir.ChainFiring,
) (inserted bool, err error) {
	argsJSON, err := marshalArgs(call.Args)
	if err != nil {
		return false, fmt.Errorf("write dispatch: %w", err)
	}
	callMetaJSON, err := marshalMeta(call.Meta)
	if err != nil {
		return false, fmt.Errorf("write dispatch: %w", err)
	}
	outputJSON, err := marshalOutput(res.Output)
	if err != nil {
		return false, fmt.Errorf("write dispatch: %w", err)
	}
	resMetaJSON, err := marshalMeta(res.Meta)
	if err != nil {
		return false, fmt.Errorf("write dispatch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write dispatch: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Step 1: Re-assert the call (no-op when already journaled pre-dispatch).
	_, err = tx.ExecContext(ctx, `
		INSERT INTO calls
		(id, token, target, args, seq, meta, manifest_hash, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		call.ID, call.Token, call.Target, argsJSON, call.Seq,
		callMetaJSON, call.ManifestHash, call.EngineVersion, call.IRVersion,
	)
	if err != nil {
		return false, fmt.Errorf("write dispatch: write call: %w", err)
	}

	// Step 2: Insert the result (claims the dispatch slot via UNIQUE call_id).
	result, err := tx.ExecContext(ctx, `
		INSERT INTO results
		(id, call_id, outcome, output, seq, meta)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		res.ID, res.CallID, res.Outcome, outputJSON, res.Seq, resMetaJSON,
	)
	if err != nil {
		return false, fmt.Errorf("write dispatch: write result: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write dispatch: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Dispatch already journaled - nothing more to do.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("write dispatch: commit (existing): %w", err)
		}
		return false, nil
	}

	// Step 3: Record the chain firing and its provenance edge, if any.
	if firing != nil {
		fr, err := tx.ExecContext(ctx, `
			INSERT INTO chain_firings
			(result_id, chain_id, chain_hash, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(result_id, chain_id, chain_hash) DO NOTHING
		`,
			firing.ResultID, firing.ChainID, firing.ChainHash, firing.Seq,
		)
		if err != nil {
			return false, fmt.Errorf("write dispatch: write firing: %w", err)
		}

		firingID, err := fr.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("write dispatch: firing id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO provenance_edges
			(chain_firing_id, call_id)
			VALUES (?, ?)
			ON CONFLICT(chain_firing_id) DO NOTHING
		`,
			firingID, call.ID,
		)
		if err != nil {
			return false, fmt.Errorf("write dispatch: write provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write dispatch: commit: %w", err)
	}

	return true, nil
}
