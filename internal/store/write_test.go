package store

import (
	"context"
	"testing"

	"github.com/roach88/garland/internal/ir"
)

func TestWriteCall_Basic(t *testing.T) {
	s := createTestStore(t)

	call := ir.Call{
		ID:     "call-123",
		Token:  "tok-abc",
		Target: "shout",
		Args: ir.Object{
			"who":   ir.String("world"),
			"times": ir.Int(3),
		},
		Seq: 1,
		Meta: ir.Meta{
			Origin:   "cli",
			Operator: "tester",
		},
		ManifestHash:  "hash-abc",
		EngineVersion: "0.1.0",
		IRVersion:     "1",
	}

	err := s.WriteCall(context.Background(), call)
	if err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	var storedID, token, target, argsJSON string
	var seq int64
	err = s.db.QueryRow(`
		SELECT id, token, target, args, seq
		FROM calls
		WHERE id = ?
	`, call.ID).Scan(&storedID, &token, &target, &argsJSON, &seq)

	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if storedID != call.ID {
		t.Errorf("id = %q, want %q", storedID, call.ID)
	}
	if token != call.Token {
		t.Errorf("token = %q, want %q", token, call.Token)
	}
	if target != call.Target {
		t.Errorf("target = %q, want %q", target, call.Target)
	}
	if seq != call.Seq {
		t.Errorf("seq = %d, want %d", seq, call.Seq)
	}
}

func TestWriteCall_CanonicalJSON(t *testing.T) {
	s := createTestStore(t)

	call := createTestCall("call-123", "tok-abc", "greet", 1)
	call.Args = ir.Object{
		"zebra": ir.String("z"),
		"apple": ir.String("a"),
		"mango": ir.String("m"),
	}

	err := s.WriteCall(context.Background(), call)
	if err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	var argsJSON string
	err = s.db.QueryRow("SELECT args FROM calls WHERE id = ?", call.ID).Scan(&argsJSON)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	// Canonical JSON has keys sorted
	expected := `{"apple":"a","mango":"m","zebra":"z"}`
	if argsJSON != expected {
		t.Errorf("args JSON = %q, want %q (canonical order)", argsJSON, expected)
	}
}

func TestWriteCall_Idempotent(t *testing.T) {
	s := createTestStore(t)

	call := createTestCall("call-123", "tok-abc", "greet", 1)

	// Write twice - should not error
	if err := s.WriteCall(context.Background(), call); err != nil {
		t.Fatalf("first WriteCall() failed: %v", err)
	}
	if err := s.WriteCall(context.Background(), call); err != nil {
		t.Fatalf("second WriteCall() failed: %v", err)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM calls WHERE id = ?", call.ID).Scan(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1 (idempotent write)", count)
	}
}

func TestWriteCall_MetaNeverNull(t *testing.T) {
	s := createTestStore(t)

	call := createTestCall("call-123", "tok-abc", "greet", 1)
	call.Meta = ir.Meta{}

	if err := s.WriteCall(context.Background(), call); err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	var metaJSON string
	err := s.db.QueryRow("SELECT meta FROM calls WHERE id = ?", call.ID).Scan(&metaJSON)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	expected := `{"labels":[],"operator":"","origin":""}`
	if metaJSON != expected {
		t.Errorf("meta JSON = %q, want %q", metaJSON, expected)
	}
}

func TestWriteResult_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-123", "tok-abc", "greet", 1)
	if err := s.WriteCall(ctx, call); err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	res := ir.Result{
		ID:      "res-456",
		CallID:  "call-123",
		Outcome: "Ok",
		Output: ir.Object{
			"greeting": ir.String("Hello, world!"),
		},
		Seq:  2,
		Meta: ir.Meta{Origin: "engine"},
	}

	if err := s.WriteResult(ctx, res); err != nil {
		t.Fatalf("WriteResult() failed: %v", err)
	}

	var outcome, outputJSON string
	err := s.db.QueryRow(`
		SELECT outcome, output FROM results WHERE id = ?
	`, res.ID).Scan(&outcome, &outputJSON)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if outcome != "Ok" {
		t.Errorf("outcome = %q, want %q", outcome, "Ok")
	}
	if outputJSON != `{"greeting":"Hello, world!"}` {
		t.Errorf("output JSON = %q", outputJSON)
	}
}

func TestWriteResult_OnePerCall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-123", "tok-abc", "greet", 1)
	if err := s.WriteCall(ctx, call); err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	first := createTestResult("res-1", "call-123", "Ok", 2)
	second := createTestResult("res-2", "call-123", "Stubbed", 3)

	if err := s.WriteResult(ctx, first); err != nil {
		t.Fatalf("first WriteResult() failed: %v", err)
	}
	// Second result for the same call is silently absorbed.
	if err := s.WriteResult(ctx, second); err != nil {
		t.Fatalf("second WriteResult() failed: %v", err)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM results WHERE call_id = ?", "call-123").Scan(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1 (one result per call)", count)
	}

	var outcome string
	s.db.QueryRow("SELECT outcome FROM results WHERE call_id = ?", "call-123").Scan(&outcome)
	if outcome != "Ok" {
		t.Errorf("outcome = %q, want first writer to win", outcome)
	}
}

func TestWriteResult_RequiresCall(t *testing.T) {
	s := createTestStore(t)

	res := createTestResult("res-1", "call-missing", "Ok", 1)
	err := s.WriteResult(context.Background(), res)
	if err == nil {
		t.Error("expected foreign key error for missing call, got nil")
	}
}

func TestWriteChainFiring_InsertAndConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-1", "tok-1", "greet", 1)
	if err := s.WriteCall(ctx, call); err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}
	res := createTestResult("res-1", "call-1", "Ok", 2)
	if err := s.WriteResult(ctx, res); err != nil {
		t.Fatalf("WriteResult() failed: %v", err)
	}

	firing := ir.ChainFiring{
		ResultID:  "res-1",
		ChainID:   "chain-greet",
		ChainHash: "hash-1",
		Seq:       3,
	}

	id1, inserted, err := s.WriteChainFiring(ctx, firing)
	if err != nil {
		t.Fatalf("first WriteChainFiring() failed: %v", err)
	}
	if !inserted {
		t.Error("first write: inserted = false, want true")
	}
	if id1 == 0 {
		t.Error("first write: id = 0, want auto-assigned")
	}

	id2, inserted, err := s.WriteChainFiring(ctx, firing)
	if err != nil {
		t.Fatalf("second WriteChainFiring() failed: %v", err)
	}
	if inserted {
		t.Error("second write: inserted = true, want false (conflict)")
	}
	if id2 != id1 {
		t.Errorf("second write returned id %d, want existing id %d", id2, id1)
	}
}

func TestHasFiring(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-1", "tok-1", "greet", 1)
	s.WriteCall(ctx, call)
	res := createTestResult("res-1", "call-1", "Ok", 2)
	s.WriteResult(ctx, res)

	has, err := s.HasFiring(ctx, "res-1", "chain-greet", "hash-1")
	if err != nil {
		t.Fatalf("HasFiring() failed: %v", err)
	}
	if has {
		t.Error("HasFiring = true before write, want false")
	}

	firing := ir.ChainFiring{ResultID: "res-1", ChainID: "chain-greet", ChainHash: "hash-1", Seq: 3}
	if _, _, err := s.WriteChainFiring(ctx, firing); err != nil {
		t.Fatalf("WriteChainFiring() failed: %v", err)
	}

	has, err = s.HasFiring(ctx, "res-1", "chain-greet", "hash-1")
	if err != nil {
		t.Fatalf("HasFiring() failed: %v", err)
	}
	if !has {
		t.Error("HasFiring = false after write, want true")
	}
}

func TestWriteDispatch_Atomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-1", "tok-1", "greet", 1)
	res := createTestResult("res-1", "call-1", "Ok", 2)
	firing := &ir.ChainFiring{
		ResultID:  "res-1",
		ChainID:   "chain-greet",
		ChainHash: "hash-1",
		Seq:       3,
	}

	inserted, err := s.WriteDispatch(ctx, call, res, firing)
	if err != nil {
		t.Fatalf("WriteDispatch() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true for fresh dispatch")
	}

	// All four rows present.
	counts := map[string]int{}
	for _, table := range []string{"calls", "results", "chain_firings", "provenance_edges"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		counts[table] = n
	}
	for table, n := range counts {
		if n != 1 {
			t.Errorf("%s count = %d, want 1", table, n)
		}
	}

	// The edge links the firing back to the call.
	var edgeCall string
	err = s.db.QueryRow("SELECT call_id FROM provenance_edges LIMIT 1").Scan(&edgeCall)
	if err != nil {
		t.Fatalf("query edge: %v", err)
	}
	if edgeCall != "call-1" {
		t.Errorf("edge call_id = %q, want %q", edgeCall, "call-1")
	}
}

func TestWriteDispatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	call := createTestCall("call-1", "tok-1", "greet", 1)
	res := createTestResult("res-1", "call-1", "Ok", 2)
	firing := &ir.ChainFiring{ResultID: "res-1", ChainID: "chain-greet", ChainHash: "hash-1", Seq: 3}

	if _, err := s.WriteDispatch(ctx, call, res, firing); err != nil {
		t.Fatalf("first WriteDispatch() failed: %v", err)
	}

	inserted, err := s.WriteDispatch(ctx, call, res, firing)
	if err != nil {
		t.Fatalf("second WriteDispatch() failed: %v", err)
	}
	if inserted {
		t.Error("inserted = true on replay, want false")
	}

	for _, table := range []string{"calls", "results", "chain_firings", "provenance_edges"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("%s count = %d after replay, want 1", table, n)
		}
	}
}

func TestWriteDispatch_CallAlreadyJournaled(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// The executor journals the call before dispatching; WriteDispatch
	// re-asserts it without error.
	call := createTestCall("call-1", "tok-1", "greet", 1)
	if err := s.WriteCall(ctx, call); err != nil {
		t.Fatalf("WriteCall() failed: %v", err)
	}

	res := createTestResult("res-1", "call-1", "Ok", 2)
	inserted, err := s.WriteDispatch(ctx, call, res, nil)
	if err != nil {
		t.Fatalf("WriteDispatch() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true (result was new)")
	}

	var n int
	s.db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&n)
	if n != 1 {
		t.Errorf("calls count = %d, want 1", n)
	}
}

func TestWriteDispatch_BareCall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// A target with no chain journals call + result and nothing else.
	call := createTestCall("call-1", "tok-1", "greet", 1)
	res := createTestResult("res-1", "call-1", "Ok", 2)

	inserted, err := s.WriteDispatch(ctx, call, res, nil)
	if err != nil {
		t.Fatalf("WriteDispatch() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}

	var firings, edges int
	s.db.QueryRow("SELECT COUNT(*) FROM chain_firings").Scan(&firings)
	s.db.QueryRow("SELECT COUNT(*) FROM provenance_edges").Scan(&edges)
	if firings != 0 || edges != 0 {
		t.Errorf("bare dispatch wrote firings=%d edges=%d, want 0/0", firings, edges)
	}
}
