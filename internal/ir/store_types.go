package ir

// NOTE: These are store-internal types, not part of the canonical IR.
// They use auto-increment IDs for FK references.

// ChainFiring records one chain applying to one result (store-layer).
type ChainFiring struct {
	ID        int64  `json:"id"` // Auto-increment (store FK)
	ResultID  string `json:"result_id"`
	ChainID   string `json:"chain_id"`
	ChainHash string `json:"chain_hash"` // Hash of the call args seen by the chain
	Seq       int64  `json:"seq"`        // Logical clock
}

// ProvenanceEdge links a chain firing to a call it generated (store-layer).
type ProvenanceEdge struct {
	ID            int64  `json:"id"` // Auto-increment (store FK)
	ChainFiringID int64  `json:"chain_firing_id"`
	CallID        string `json:"call_id"` // Content-addressed
}
