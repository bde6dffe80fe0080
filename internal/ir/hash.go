package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCall     = "garland/call/v1"
	DomainResult   = "garland/result/v1"
	DomainChain    = "garland/chain/v1"
	DomainManifest = "garland/manifest/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CallID computes the content-addressed ID for a call.
// The ID is stable across restarts given the same inputs.
// Returns error if args cannot be canonically marshaled.
//
// Meta is intentionally EXCLUDED from CallID: the ID represents what was
// invoked (logical identity), not the ambient context of the invocation.
// Meta is still stored on the Call record for audit.
func CallID(token, target string, args Object, seq int64) (string, error) {
	obj := Object{
		"token":  String(token),
		"target": String(target),
		"args":   args,
		"seq":    Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CallID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainCall, canonical), nil
}

// ResultID computes the content-addressed ID for a result.
// Links to the call it resolves via callID.
// Returns error if output cannot be canonically marshaled.
func ResultID(callID, outcome string, output Object, seq int64) (string, error) {
	obj := Object{
		"call_id": String(callID),
		"outcome": String(outcome),
		"output":  output,
		"seq":     Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ResultID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainResult, canonical), nil
}

// ChainHash computes the hash used for chain-firing idempotency.
// Used in chain_firings: UNIQUE(result_id, chain_id, chain_hash).
// Returns error if args cannot be canonically marshaled.
func ChainHash(args Object) (string, error) {
	canonical, err := MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("ChainHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainChain, canonical), nil
}

// MustCallID is like CallID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCallID(token, target string, args Object, seq int64) string {
	id, err := CallID(token, target, args, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustResultID is like ResultID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustResultID(callID, outcome string, output Object, seq int64) string {
	id, err := ResultID(callID, outcome, output, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustChainHash is like ChainHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChainHash(args Object) string {
	hash, err := ChainHash(args)
	if err != nil {
		panic(err)
	}
	return hash
}

// HashManifestSource computes the content hash of manifest source bytes.
// Calls record this hash so a trace pins the exact manifest text it was
// dispatched under. Compilation output is not hashed; the source is.
func HashManifestSource(src []byte) string {
	return hashWithDomain(DomainManifest, src)
}
