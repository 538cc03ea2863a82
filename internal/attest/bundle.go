package attest

import (
	"encoding/json"
	"fmt"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// VerificationBundle is a self-contained document for out-of-system
// verification: a third party holding only OpenSSL or an equivalent
// Ed25519/RSA verifier can confirm the signature over the canonical payload.
type VerificationBundle struct {
	Attestation  types.Attestation  `json:"attestation"`
	PublicKey    string             `json:"publicKey"`
	Instructions BundleInstructions `json:"instructions"`
	Artifact     BundleArtifact     `json:"artifact"`
}

type BundleInstructions struct {
	Algorithm string   `json:"algorithm"`
	Steps     []string `json:"steps"`
}

type BundleArtifact struct {
	Path         string `json:"path"`
	ExpectedHash string `json:"expectedHash"`
}

// ExportBundle builds the offline verification bundle for a signed
// attestation.
func ExportBundle(att types.Attestation, publicKeyPEM string) (VerificationBundle, error) {
	if att.Signature == nil {
		return VerificationBundle{}, fmt.Errorf("cannot export bundle for unsigned attestation")
	}
	steps := []string{
		"Remove the \"signature\" field from the attestation object.",
		"Serialize the remaining fields as RFC 8785 canonical JSON (lexicographically sorted keys, no whitespace).",
		"Base64-decode attestation.signature.signature.",
	}
	switch att.Signature.Algorithm {
	case types.AlgorithmEd25519:
		steps = append(steps, "Verify the Ed25519 signature over the canonical bytes with the bundled public key.")
	case types.AlgorithmRSA:
		steps = append(steps,
			"Compute the SHA-256 digest of the canonical bytes.",
			"Verify the PKCS#1 v1.5 RSA signature over the digest with the bundled public key (openssl dgst -sha256 -verify).")
	}
	steps = append(steps, "Recompute the artifact SHA-256 and compare it to artifact.expectedHash.")

	return VerificationBundle{
		Attestation: att,
		PublicKey:   publicKeyPEM,
		Instructions: BundleInstructions{
			Algorithm: att.Signature.Algorithm,
			Steps:     steps,
		},
		Artifact: BundleArtifact{
			Path:         att.Artifact.Path,
			ExpectedHash: att.Artifact.ContentHash,
		},
	}, nil
}

// WriteBundle serializes a verification bundle to path.
func WriteBundle(path string, b VerificationBundle) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(raw, '\n'), 0o644)
}
