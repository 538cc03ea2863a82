// Package verify validates attestation structure, recomputes artifact
// hashes, checks signatures, and enforces trust policy.
package verify

import (
	"crypto"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kgen-dev/kgen-attest/internal/attest"
	"github.com/kgen-dev/kgen-attest/internal/hash"
	"github.com/kgen-dev/kgen-attest/internal/policy"
	"github.com/kgen-dev/kgen-attest/internal/sign"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// Verifier holds everything one verification surface needs: key material,
// trust policy, and the result cache. Constructed once and passed by
// reference; no ambient global state.
type Verifier struct {
	Crypto *sign.Manager
	Policy *types.TrustPolicy

	// PublicKey overrides key resolution for external verification, where
	// only the public half is available.
	PublicKey crypto.PublicKey

	cache *resultCache
}

func New(crypto *sign.Manager, pol *types.TrustPolicy) *Verifier {
	return &Verifier{Crypto: crypto, Policy: pol, cache: newResultCache()}
}

// Options controls a full verification call.
type Options struct {
	// Deep rehashes the file at ArtifactPath (or the file next to the
	// sidecar when ArtifactPath is empty) instead of the recorded
	// artifact.path, catching sidecars copied next to a different artifact.
	Deep bool
	// ArtifactPath is the hashing target for deep verification. Ignored
	// without Deep; the recorded artifact.path is authoritative then.
	ArtifactPath string
	SkipCache    bool
}

// FastVerify loads the sidecar for an artifact and runs the structure, hash,
// and (when present) signature stages. Trust policy and the cache are
// skipped; the private key is never needed.
func (v *Verifier) FastVerify(artifactPath string) Result {
	return v.run(attest.SidecarPath(artifactPath), Options{Deep: true, ArtifactPath: artifactPath}, false)
}

// VerifyAttestation runs the full pipeline over a sidecar file. Results are
// cached by attestation content hash unless SkipCache is set.
func (v *Verifier) VerifyAttestation(sidecarPath string, opts Options) Result {
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		res := Result{Path: sidecarPath}
		res.fail(ExitMissing, (&types.AttestationLoadError{Path: sidecarPath, Err: err}).Error())
		return res
	}

	key := hash.SumBytes(raw) + "|" + opts.ArtifactPath
	if opts.Deep {
		key += "|deep"
	}
	if !opts.SkipCache {
		if cached, ok := v.cache.get(key); ok {
			return cached
		}
	}

	res := v.run(sidecarPath, opts, true)
	if !opts.SkipCache {
		v.cache.put(key, res)
	}
	return res
}

// ClearCache empties the verification result cache unconditionally.
func (v *Verifier) ClearCache() { v.cache.clear() }

// CacheSize reports the number of cached results.
func (v *Verifier) CacheSize() int { return v.cache.len() }

// ValidateTrustPolicy loads and schema-validates a trust policy document.
func (v *Verifier) ValidateTrustPolicy(path string) (policy.ValidationResult, error) {
	return policy.Validate(path)
}

// run executes the staged pipeline: load, structure, hash, signature, and
// optionally trust policy. A stage failure short-circuits; stages already
// passed stay reported in Details.
func (v *Verifier) run(sidecarPath string, opts Options, withTrust bool) Result {
	start := time.Now()
	res := Result{Path: sidecarPath, Verified: true, ExitCode: ExitPass}
	defer func(r *Result) { r.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000 }(&res)

	att, err := attest.ReadSidecar(sidecarPath)
	if err != nil {
		res.fail(ExitMissing, err.Error())
		return res
	}
	res.AttestationID = att.AttestationID

	if missing := missingFields(att); len(missing) > 0 {
		structErr := &types.StructureValidationError{Missing: missing}
		res.Details.Structure = &Check{Verified: false, Message: structErr.Error()}
		res.fail(ExitStructureFail, structErr.Error())
		return res
	}
	res.Details.Structure = &Check{Verified: true}

	artifactPath := filepath.FromSlash(att.Artifact.Path)
	if opts.Deep {
		artifactPath = opts.ArtifactPath
		if artifactPath == "" {
			artifactPath = attest.ArtifactPathFor(sidecarPath)
		}
	}
	digest, _, err := hash.DigestFile(artifactPath)
	if err != nil {
		readErr := &types.ArtifactReadError{Path: artifactPath, Err: err}
		res.Details.Hash = &Check{Verified: false, Message: readErr.Error()}
		res.fail(ExitMissing, readErr.Error())
		return res
	}
	if subtle.ConstantTimeCompare([]byte(digest), []byte(att.Artifact.ContentHash)) != 1 {
		mismatch := &types.HashMismatchError{Path: artifactPath, Expected: att.Artifact.ContentHash, Actual: digest}
		res.Details.Hash = &Check{Verified: false, Message: mismatch.Error()}
		res.fail(ExitHashMismatch, mismatch.Error())
		return res
	}
	res.Details.Hash = &Check{Verified: true}

	if att.Signature != nil {
		pub, err := v.resolvePublicKey(att)
		if err != nil {
			res.Details.Signature = &Check{Verified: false, Message: err.Error()}
			res.fail(ExitSignatureFail, err.Error())
			return res
		}
		ok, err := sign.VerifyAttestationWith(att, pub)
		if err != nil {
			res.Details.Signature = &Check{Verified: false, Message: err.Error()}
			res.fail(ExitSignatureFail, err.Error())
			return res
		}
		if !ok {
			sigErr := &types.SignatureMismatchError{KeyFingerprint: att.Signature.KeyFingerprint}
			res.Details.Signature = &Check{Verified: false, Message: sigErr.Error()}
			res.fail(ExitSignatureFail, sigErr.Error())
			return res
		}
		res.Details.Signature = &Check{Verified: true}
	}

	if withTrust && v.Policy != nil {
		eval := EvaluateTrust(att, *v.Policy, time.Now().UTC())
		res.TrustPolicy = &eval
		if !eval.Satisfied {
			res.fail(ExitPolicyFail, (&types.PolicyViolationError{Violations: eval.Violations}).Error())
		}
	}
	return res
}

// resolvePublicKey picks the verification key: an explicit override first,
// then the trust policy signer matching the recorded fingerprint, then the
// local key manager.
func (v *Verifier) resolvePublicKey(att types.Attestation) (crypto.PublicKey, error) {
	if v.PublicKey != nil {
		return v.PublicKey, nil
	}
	if v.Policy != nil && att.Signature != nil {
		if signer, ok := v.Policy.SignerByKeyID(att.Signature.KeyFingerprint); ok {
			pub, err := sign.ParsePublicKeyPEM(signer.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("trusted signer %s: %w", signer.KeyID, err)
			}
			return pub, nil
		}
	}
	if v.Crypto != nil {
		if pub := v.Crypto.PublicKey(); pub != nil {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("no public key available for fingerprint %s", att.Signature.KeyFingerprint)
}

func missingFields(att types.Attestation) []string {
	var missing []string
	if att.AttestationID == "" {
		missing = append(missing, "attestationId")
	}
	if att.ArtifactID == "" {
		missing = append(missing, "artifactId")
	}
	if att.Artifact.Path == "" {
		missing = append(missing, "artifact.path")
	}
	if att.Artifact.ContentHash == "" {
		missing = append(missing, "artifact.contentHash")
	}
	if att.Generation.OperationID == "" {
		missing = append(missing, "generation.operationId")
	}
	if att.Generation.PredicateType == "" {
		missing = append(missing, "generation.predicateType")
	}
	if att.Provenance.GraphHash == "" {
		missing = append(missing, "provenance.graphHash")
	}
	if att.Integrity.HashAlgorithm == "" {
		missing = append(missing, "integrity.hashAlgorithm")
	}
	if att.Timestamps.CreatedAt == "" {
		missing = append(missing, "timestamps.createdAt")
	}
	return missing
}

// LoadAttestations reads a set of sidecar files, preserving order. Used by
// chain verification over files on disk.
func LoadAttestations(paths []string) ([]types.Attestation, error) {
	atts := make([]types.Attestation, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, &types.AttestationLoadError{Path: p, Err: err}
		}
		var att types.Attestation
		if err := json.Unmarshal(raw, &att); err != nil {
			return nil, &types.AttestationLoadError{Path: p, Err: err}
		}
		atts = append(atts, att)
	}
	return atts, nil
}
