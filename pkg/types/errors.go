package types

import "fmt"

// KeyInitializationError reports a key pair that could not be loaded or
// generated, including decryption failures with a wrong passphrase.
type KeyInitializationError struct {
	Path string
	Err  error
}

func (e *KeyInitializationError) Error() string {
	return fmt.Sprintf("initialize key %s: %v", e.Path, e.Err)
}

func (e *KeyInitializationError) Unwrap() error { return e.Err }

// SigningUnavailableError reports that cryptographic signing was required by
// configuration but no usable signing key is available.
type SigningUnavailableError struct {
	Reason string
}

func (e *SigningUnavailableError) Error() string {
	return "signing unavailable: " + e.Reason
}

// ArtifactReadError reports an artifact that could not be read or hashed.
type ArtifactReadError struct {
	Path string
	Err  error
}

func (e *ArtifactReadError) Error() string {
	return fmt.Sprintf("read artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactReadError) Unwrap() error { return e.Err }

// AttestationLoadError reports a missing or corrupt sidecar or receipt.
type AttestationLoadError struct {
	Path string
	Err  error
}

func (e *AttestationLoadError) Error() string {
	return fmt.Sprintf("load attestation %s: %v", e.Path, e.Err)
}

func (e *AttestationLoadError) Unwrap() error { return e.Err }

// StructureValidationError reports required attestation fields that are
// missing or malformed.
type StructureValidationError struct {
	Missing []string
}

func (e *StructureValidationError) Error() string {
	return fmt.Sprintf("attestation structure invalid: missing %v", e.Missing)
}

// HashMismatchError reports artifact content that no longer matches the
// recorded hash.
type HashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("artifact hash mismatch for %s: recorded %s, computed %s", e.Path, e.Expected, e.Actual)
}

// SignatureMismatchError reports a signature that failed cryptographic
// verification against the canonical signing payload.
type SignatureMismatchError struct {
	KeyFingerprint string
}

func (e *SignatureMismatchError) Error() string {
	return "signature verification failed for key " + e.KeyFingerprint
}

// PolicyViolationError reports a cryptographically valid attestation rejected
// by the trust policy.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("trust policy violated: %v", e.Violations)
}

// ChainBrokenError reports a broken attestation chain link.
type ChainBrokenError struct {
	Index  int
	Detail string
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("attestation chain broken at index %d: %s", e.Index, e.Detail)
}

// HashInputError reports input that cannot be deterministically serialized
// for hashing, such as cyclic structures.
type HashInputError struct {
	Err error
}

func (e *HashInputError) Error() string {
	return fmt.Sprintf("hash input not serializable: %v", e.Err)
}

func (e *HashInputError) Unwrap() error { return e.Err }
