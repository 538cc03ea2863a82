package attest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kgen-dev/kgen-attest/internal/hash"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// NewEnvelope wraps a signed attestation in a DSSE-style envelope. The
// payload is the canonical JSON of the full attestation, so a third party can
// check metadata.attestation_hash and the signature without re-serializing.
func NewEnvelope(att types.Attestation, publicKeyPEM string) (types.Envelope, error) {
	if att.Signature == nil {
		return types.Envelope{}, fmt.Errorf("cannot build envelope for unsigned attestation")
	}
	canonical, err := hash.Canonical(att)
	if err != nil {
		return types.Envelope{}, err
	}
	return types.Envelope{
		PayloadType: types.EnvelopePayloadType,
		Payload:     base64.StdEncoding.EncodeToString(canonical),
		Signatures: []types.EnvelopeSignature{{
			KeyID:        att.Signature.KeyFingerprint,
			Sig:          att.Signature.Signature,
			Algorithm:    att.Signature.Algorithm,
			PublicKeyPEM: publicKeyPEM,
		}},
		Metadata: types.EnvelopeMetadata{
			EnvelopeVersion: "1",
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
			AttestationHash: hash.SumBytes(canonical),
		},
	}, nil
}

// DecodeEnvelopePayload extracts the attestation carried by an envelope.
func DecodeEnvelopePayload(env types.Envelope) (types.Attestation, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return types.Attestation{}, fmt.Errorf("decode envelope payload: %w", err)
	}
	var att types.Attestation
	if err := json.Unmarshal(raw, &att); err != nil {
		return types.Attestation{}, fmt.Errorf("unmarshal envelope payload: %w", err)
	}
	return att, nil
}

func WriteEnvelope(path string, env types.Envelope) error {
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(raw, '\n'), 0o644)
}

func ReadEnvelope(path string) (types.Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Envelope{}, err
	}
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Envelope{}, err
	}
	return env, nil
}
