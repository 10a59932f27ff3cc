package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows algorithm migration.
const (
	DomainScopeState = "plancast/scope-state/v1"
	DomainSnapshot   = "plancast/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest computes the checksum of a scope's state. state must be a
// JSON document; it is canonicalized first so map order and string
// normalization never change the digest.
func StateDigest(scope string, state []byte) (string, error) {
	canonical, err := Canonicalize(state)
	if err != nil {
		return "", fmt.Errorf("state digest for scope %q: %w", scope, err)
	}
	return hashWithDomain(DomainScopeState+"/"+scope, canonical), nil
}

// SnapshotDigest computes the integrity digest stored in a snapshot header.
func SnapshotDigest(data []byte) string {
	return hashWithDomain(DomainSnapshot, data)
}
