package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// Canonical returns the RFC 8785 (JCS) canonical JSON form of v: object keys
// sorted, no insignificant whitespace, deterministic number formatting. This
// is the exact byte form used for signing and content hashing, so stored
// field order never affects validity.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &types.HashInputError{Err: err}
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, &types.HashInputError{Err: fmt.Errorf("canonicalize: %w", err)}
	}
	return canonical, nil
}

// Sum hashes v with SHA-256 and returns the hex digest. Byte slices and
// strings hash as raw bytes; any other value hashes its canonical JSON form.
func Sum(v any) (string, error) {
	switch vv := v.(type) {
	case []byte:
		return SumBytes(vv), nil
	case string:
		return SumBytes([]byte(vv)), nil
	default:
		canonical, err := Canonical(v)
		if err != nil {
			return "", err
		}
		return SumBytes(canonical), nil
	}
}

// SumBytes returns the SHA-256 hex digest of raw bytes.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
