package types

// Envelope is a DSSE-style wrapper around the canonical attestation payload.
// Payload is the base64 encoding of the canonical JSON bytes, so a third
// party can verify the signature without re-canonicalizing.
type Envelope struct {
	PayloadType string              `json:"payloadType"`
	Payload     string              `json:"payload"`
	Signatures  []EnvelopeSignature `json:"signatures"`
	Metadata    EnvelopeMetadata    `json:"metadata"`
}

type EnvelopeSignature struct {
	KeyID        string `json:"keyid"`
	Sig          string `json:"sig"`
	Algorithm    string `json:"algorithm"`
	PublicKeyPEM string `json:"public_key_pem"`
}

type EnvelopeMetadata struct {
	EnvelopeVersion string `json:"envelope_version"`
	CreatedAt       string `json:"created_at"`
	AttestationHash string `json:"attestation_hash"`
}

const EnvelopePayloadType = "application/vnd.kgen.attestation.v1+json"

// Receipt is a commit-scoped persisted record of an attestation, stored
// outside the artifact's own directory.
type Receipt struct {
	ID           string      `json:"id"`
	GitSHA       string      `json:"gitSHA"`
	ArtifactPath string      `json:"artifactPath"`
	Attestation  Attestation `json:"attestation"`
	Envelope     *Envelope   `json:"envelope,omitempty"`
	Version      string      `json:"version"`
}
