// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 fingerprinting for deterministic hashing of
// events, audit records, and identifier seeds.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v: object keys
// sorted by UTF-16 code unit, no insignificant whitespace, numbers in their
// minimal lossless form. Two values differing only in key order or numeric
// spelling (1.0 vs 1e0) produce byte-identical output.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}

	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return canon, nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of the canonical JSON
// representation of v. This is the single canonical form used for event
// payload fingerprints, audit record hashing, and identifier derivation.
func Fingerprint(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// MustFingerprint is Fingerprint for callers that have already validated v
// marshals cleanly (e.g. internal structs, not caller-supplied payloads).
// It panics on failure, so it must never be used on untrusted input.
func MustFingerprint(v interface{}) string {
	fp, err := Fingerprint(v)
	if err != nil {
		panic(err)
	}
	return fp
}
