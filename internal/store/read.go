package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/garland/internal/ir"
)

// ReadTrace returns all calls and results for a dispatch token.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns empty slices (not nil) if no records exist for the token.
func (s *Store) ReadTrace(ctx context.Context, token string) ([]ir.Call, []ir.Result, error) {
	calls, err := s.readTraceCalls(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	results, err := s.readTraceResults(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	return calls, results, nil
}

// readTraceCalls returns all calls for a token with deterministic ordering.
func (s *Store) readTraceCalls(ctx context.Context, token string) ([]ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, target, args, seq, meta, manifest_hash, engine_version, ir_version
		FROM calls
		WHERE token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []ir.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	if calls == nil {
		calls = []ir.Call{}
	}

	return calls, nil
}

// readTraceResults returns all results for a token with deterministic ordering.
// Joins with calls to filter by token.
func (s *Store) readTraceResults(ctx context.Context, token string) ([]ir.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.call_id, r.outcome, r.output, r.seq, r.meta
		FROM results r
		JOIN calls c ON r.call_id = c.id
		WHERE c.token = ?
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []ir.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	if results == nil {
		results = []ir.Result{}
	}

	return results, nil
}

// ReadCall retrieves a single call by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCall(ctx context.Context, id string) (ir.Call, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token, target, args, seq, meta, manifest_hash, engine_version, ir_version
		FROM calls
		WHERE id = ?
	`, id)

	return scanCallRow(row)
}

// ReadResult retrieves a single result by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadResult(ctx context.Context, id string) (ir.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, call_id, outcome, output, seq, meta
		FROM results
		WHERE id = ?
	`, id)

	return scanResultRow(row)
}

// ReadResultForCall retrieves the result journaled for a call.
// Returns sql.ErrNoRows if the call has no result yet (pending dispatch).
func (s *Store) ReadResultForCall(ctx context.Context, callID string) (ir.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, call_id, outcome, output, seq, meta
		FROM results
		WHERE call_id = ?
	`, callID)

	return scanResultRow(row)
}

// ReadAllCalls returns all calls with deterministic ordering.
// Results ordered by seq ASC, id ASC.
func (s *Store) ReadAllCalls(ctx context.Context) ([]ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, target, args, seq, meta, manifest_hash, engine_version, ir_version
		FROM calls
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all calls: %w", err)
	}
	defer rows.Close()

	var calls []ir.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	if calls == nil {
		calls = []ir.Call{}
	}

	return calls, nil
}

// ReadAllResults returns all results with deterministic ordering.
// Results ordered by seq ASC, id ASC.
func (s *Store) ReadAllResults(ctx context.Context) ([]ir.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, outcome, output, seq, meta
		FROM results
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all results: %w", err)
	}
	defer rows.Close()

	var results []ir.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	if results == nil {
		results = []ir.Result{}
	}

	return results, nil
}

// ReadCallsWhere returns calls matching a filter fragment compiled by
// querysql, ordered by seq ASC, id ASC. The query joins calls (aliased
// c) against their results (aliased r) so fragments can reference the
// outcome column; a call without a result carries a NULL outcome and
// never matches an outcome comparison.
//
// The fragment must come from querysql.Compile: identifiers are
// restricted to its allow-list and every literal arrives through
// params.
func (s *Store) ReadCallsWhere(ctx context.Context, where string, params []any) ([]ir.Call, error) {
	query := `
		SELECT c.id, c.token, c.target, c.args, c.seq, c.meta, c.manifest_hash, c.engine_version, c.ir_version
		FROM calls c
		LEFT JOIN results r ON r.call_id = c.id
	`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY c.seq ASC, c.id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query calls where: %w", err)
	}
	defer rows.Close()

	var calls []ir.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	if calls == nil {
		calls = []ir.Call{}
	}

	return calls, nil
}

// scanCall scans a row into a Call struct.
func scanCall(rows *sql.Rows) (ir.Call, error) {
	var call ir.Call
	var argsJSON, metaJSON string

	if err := rows.Scan(
		&call.ID, &call.Token, &call.Target, &argsJSON, &call.Seq,
		&metaJSON, &call.ManifestHash, &call.EngineVersion, &call.IRVersion,
	); err != nil {
		return ir.Call{}, fmt.Errorf("scan call: %w", err)
	}

	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return ir.Call{}, err
	}
	call.Args = args

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return ir.Call{}, err
	}
	call.Meta = meta

	return call, nil
}

// scanCallRow scans a single row into a Call struct.
func scanCallRow(row *sql.Row) (ir.Call, error) {
	var call ir.Call
	var argsJSON, metaJSON string

	if err := row.Scan(
		&call.ID, &call.Token, &call.Target, &argsJSON, &call.Seq,
		&metaJSON, &call.ManifestHash, &call.EngineVersion, &call.IRVersion,
	); err != nil {
		return ir.Call{}, err
	}

	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return ir.Call{}, err
	}
	call.Args = args

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return ir.Call{}, err
	}
	call.Meta = meta

	return call, nil
}

// scanResult scans a row into a Result struct.
func scanResult(rows *sql.Rows) (ir.Result, error) {
	var res ir.Result
	var outputJSON, metaJSON string

	if err := rows.Scan(
		&res.ID, &res.CallID, &res.Outcome, &outputJSON, &res.Seq, &metaJSON,
	); err != nil {
		return ir.Result{}, fmt.Errorf("scan result: %w", err)
	}

	output, err := unmarshalOutput(outputJSON)
	if err != nil {
		return ir.Result{}, err
	}
	res.Output = output

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return ir.Result{}, err
	}
	res.Meta = meta

	return res, nil
}

// scanResultRow scans a single row into a Result struct.
func scanResultRow(row *sql.Row) (ir.Result, error) {
	var res ir.Result
	var outputJSON, metaJSON string

	if err := row.Scan(
		&res.ID, &res.CallID, &res.Outcome, &outputJSON, &res.Seq, &metaJSON,
	); err != nil {
		return ir.Result{}, err
	}

	output, err := unmarshalOutput(outputJSON)
	if err != nil {
		return ir.Result{}, err
	}
	res.Output = output

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return ir.Result{}, err
	}
	res.Meta = meta

	return res, nil
}

// ReadChainFiring retrieves a single chain firing by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadChainFiring(ctx context.Context, id int64) (ir.ChainFiring, error) {
	var firing ir.ChainFiring
	err := s.db.QueryRowContext(ctx, `
		SELECT id, result_id, chain_id, chain_hash, seq
		FROM chain_firings
		WHERE id = ?
	`, id).Scan(
		&firing.ID, &firing.ResultID, &firing.ChainID, &firing.ChainHash, &firing.Seq,
	)
	if err != nil {
		return ir.ChainFiring{}, err
	}
	return firing, nil
}

// ReadChainFiringsForResult returns all chain firings recorded for a result.
// Results ordered by seq ASC, id ASC.
func (s *Store) ReadChainFiringsForResult(ctx context.Context, resultID string) ([]ir.ChainFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, chain_id, chain_hash, seq
		FROM chain_firings
		WHERE result_id = ?
		ORDER BY seq ASC, id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("query chain firings: %w", err)
	}
	defer rows.Close()

	var firings []ir.ChainFiring
	for rows.Next() {
		var f ir.ChainFiring
		if err := rows.Scan(&f.ID, &f.ResultID, &f.ChainID, &f.ChainHash, &f.Seq); err != nil {
			return nil, fmt.Errorf("scan chain firing: %w", err)
		}
		firings = append(firings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain firings: %w", err)
	}

	if firings == nil {
		firings = []ir.ChainFiring{}
	}

	return firings, nil
}

// ReadAllChainFirings returns all chain firings with deterministic ordering.
// Results ordered by seq ASC, id ASC.
func (s *Store) ReadAllChainFirings(ctx context.Context) ([]ir.ChainFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, chain_id, chain_hash, seq
		FROM chain_firings
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all chain firings: %w", err)
	}
	defer rows.Close()

	var firings []ir.ChainFiring
	for rows.Next() {
		var f ir.ChainFiring
		if err := rows.Scan(&f.ID, &f.ResultID, &f.ChainID, &f.ChainHash, &f.Seq); err != nil {
			return nil, fmt.Errorf("scan chain firing: %w", err)
		}
		firings = append(firings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain firings: %w", err)
	}

	if firings == nil {
		firings = []ir.ChainFiring{}
	}

	return firings, nil
}

// ReadProvenance returns all provenance edges for a call (backward trace).
// Answers: "which chain firings decorated this call?"
// Results ordered by chain_firing.seq ASC, then provenance_edge.id ASC
// for causality-aligned ordering.
func (s *Store) ReadProvenance(ctx context.Context, callID string) ([]ir.ProvenanceEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pe.id, pe.chain_firing_id, pe.call_id
		FROM provenance_edges pe
		JOIN chain_firings cf ON pe.chain_firing_id = cf.id
		WHERE pe.call_id = ?
		ORDER BY cf.seq ASC, pe.id ASC
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	var edges []ir.ProvenanceEdge
	for rows.Next() {
		var e ir.ProvenanceEdge
		if err := rows.Scan(&e.ID, &e.ChainFiringID, &e.CallID); err != nil {
			return nil, fmt.Errorf("scan provenance edge: %w", err)
		}
		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance edges: %w", err)
	}

	if edges == nil {
		edges = []ir.ProvenanceEdge{}
	}

	return edges, nil
}

// ReadCallsForChain returns all calls that were dispatched through a chain
// (forward trace). Answers: "what did this chain decorate?"
// Results ordered by chain_firings.seq ASC, call id ASC.
func (s *Store) ReadCallsForChain(ctx context.Context, chainID string) ([]ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.token, c.target, c.args, c.seq,
		       c.meta, c.manifest_hash, c.engine_version, c.ir_version
		FROM calls c
		JOIN provenance_edges pe ON c.id = pe.call_id
		JOIN chain_firings cf ON pe.chain_firing_id = cf.id
		WHERE cf.chain_id = ?
		ORDER BY cf.seq ASC, c.id COLLATE BINARY ASC
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("query calls for chain: %w", err)
	}
	defer rows.Close()

	var calls []ir.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls for chain: %w", err)
	}

	if calls == nil {
		calls = []ir.Call{}
	}

	return calls, nil
}

// ReadProvenanceEdgesForFiring returns all provenance edges for a chain firing.
// Results ordered by id ASC.
func (s *Store) ReadProvenanceEdgesForFiring(ctx context.Context, chainFiringID int64) ([]ir.ProvenanceEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain_firing_id, call_id
		FROM provenance_edges
		WHERE chain_firing_id = ?
		ORDER BY id ASC
	`, chainFiringID)
	if err != nil {
		return nil, fmt.Errorf("query provenance edges for firing: %w", err)
	}
	defer rows.Close()

	var edges []ir.ProvenanceEdge
	for rows.Next() {
		var e ir.ProvenanceEdge
		if err := rows.Scan(&e.ID, &e.ChainFiringID, &e.CallID); err != nil {
			return nil, fmt.Errorf("scan provenance edge: %w", err)
		}
		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance edges: %w", err)
	}

	if edges == nil {
		edges = []ir.ProvenanceEdge{}
	}

	return edges, nil
}

// TargetCount aggregates journal rows per target for reporting.
type TargetCount struct {
	Target  string
	Calls   int64
	Results int64
}

// CountByTarget returns per-target call and result counts.
// Results ordered by target name for stable output.
func (s *Store) CountByTarget(ctx context.Context) ([]TargetCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.target, COUNT(c.id), COUNT(r.id)
		FROM calls c
		LEFT JOIN results r ON r.call_id = c.id
		GROUP BY c.target
		ORDER BY c.target ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count by target: %w", err)
	}
	defer rows.Close()

	var counts []TargetCount
	for rows.Next() {
		var tc TargetCount
		if err := rows.Scan(&tc.Target, &tc.Calls, &tc.Results); err != nil {
			return nil, fmt.Errorf("scan target count: %w", err)
		}
		counts = append(counts, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target counts: %w", err)
	}

	if counts == nil {
		counts = []TargetCount{}
	}

	return counts, nil
}

// TraceState summarizes one token's journal for analysis.
type TraceState struct {
	Token           string
	Calls           []ir.Call
	Results         []ir.Result
	ChainFirings    []ir.ChainFiring
	LastSeq         int64
	IsComplete      bool   // All calls have results and the trace is non-empty
	PendingCount    int    // Calls without results
	TerminalOutcome string // Empty, or the outcome of the last result
}

// GetTraceState retrieves the complete state of a token's trace.
// Returns all calls, results, and chain firings with completeness analysis.
func (s *Store) GetTraceState(ctx context.Context, token string) (TraceState, error) {
	state := TraceState{
		Token: token,
	}

	calls, err := s.readTraceCalls(ctx, token)
	if err != nil {
		return state, fmt.Errorf("get trace state: %w", err)
	}
	state.Calls = calls

	results, err := s.readTraceResults(ctx, token)
	if err != nil {
		return state, fmt.Errorf("get trace state: %w", err)
	}
	state.Results = results

	resolved := make(map[string]bool)
	for _, res := range results {
		resolved[res.CallID] = true
		if res.Seq > state.LastSeq {
			state.LastSeq = res.Seq
		}
	}

	for _, call := range calls {
		if call.Seq > state.LastSeq {
			state.LastSeq = call.Seq
		}
		if !resolved[call.ID] {
			state.PendingCount++
		}
	}

	for _, res := range results {
		firings, err := s.ReadChainFiringsForResult(ctx, res.ID)
		if err != nil {
			return state, fmt.Errorf("get trace state: %w", err)
		}
		state.ChainFirings = append(state.ChainFirings, firings...)
	}

	state.IsComplete = state.PendingCount == 0 && len(calls) > 0

	if len(results) > 0 {
		state.TerminalOutcome = results[len(results)-1].Outcome
	}

	return state, nil
}
