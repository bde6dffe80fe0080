package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/garland/internal/ir"
)

// createTestStore creates a file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCall creates a test call with minimal required fields.
func createTestCall(id, token, target string, seq int64) ir.Call {
	return ir.Call{
		ID:            id,
		Token:         token,
		Target:        target,
		Args:          ir.Object{},
		Seq:           seq,
		Meta:          ir.Meta{Origin: "cli"},
		ManifestHash:  "test-hash",
		EngineVersion: "0.1.0",
		IRVersion:     "1",
	}
}

// createTestResult creates a test result with minimal required fields.
func createTestResult(id, callID, outcome string, seq int64) ir.Result {
	return ir.Result{
		ID:      id,
		CallID:  callID,
		Outcome: outcome,
		Output:  ir.Object{},
		Seq:     seq,
		Meta:    ir.Meta{Origin: "engine"},
	}
}
