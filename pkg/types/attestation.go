package types

import (
	"encoding/json"
	"time"
)

// PredicateKgenV1 is the predicate type attached to attestations produced by
// this generator. Verifiers constrain acceptable predicate types through the
// trust policy.
const PredicateKgenV1 = "https://kgen.dev/attestation/v1"

const (
	SchemaVersion = "1.0.0"

	AlgorithmEd25519 = "Ed25519"
	AlgorithmRSA     = "RSA-SHA256"

	HashAlgorithmSHA256 = "sha256"

	CanonicalizationRDF = "c14n-rdf"
)

// Artifact identifies the file an attestation is bound to. ContentHash is the
// single source of truth for tamper detection.
type Artifact struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"sizeBytes"`
	ContentHash string `json:"contentHash"`
	MediaType   string `json:"mediaType"`
}

type Agent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// GenerationContext is produced once per generation event by the code
// generation engine and is immutable after creation.
type GenerationContext struct {
	OperationID   string         `json:"operationId"`
	Type          string         `json:"type"`
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       time.Time      `json:"endedAt"`
	TemplateID    string         `json:"templateId,omitempty"`
	TemplateHash  string         `json:"templateHash,omitempty"`
	Agent         Agent          `json:"agent"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ChainIndex    *int           `json:"chainIndex,omitempty"`
	PreviousHash  string         `json:"previousHash,omitempty"`

	// Content-addressed storage roots and source graph digests, embedded as
	// named byproducts inside the generation predicate.
	CASRoots    []string `json:"casRoots,omitempty"`
	SourceGraph string   `json:"sourceGraph,omitempty"`

	// SLSA provenance fields carried through from the build environment.
	BuildInvocationID string     `json:"buildInvocationId,omitempty"`
	Materials         []Material `json:"materials,omitempty"`
}

type Material struct {
	URI    string `json:"uri"`
	Digest string `json:"digest"`
}

type Completeness struct {
	Parameters  bool `json:"parameters"`
	Environment bool `json:"environment"`
	Materials   bool `json:"materials"`
}

type GenerationMetadata struct {
	Completeness *Completeness `json:"completeness,omitempty"`
	Reproducible bool          `json:"reproducible"`
}

// Generation is the predicate describing how the artifact was produced.
type Generation struct {
	OperationID       string              `json:"operationId"`
	Type              string              `json:"type"`
	StartedAt         string              `json:"startedAt"`
	EndedAt           string              `json:"endedAt"`
	TemplateID        string              `json:"templateId,omitempty"`
	TemplateHash      string              `json:"templateHash,omitempty"`
	Agent             Agent               `json:"agent"`
	Configuration     map[string]any      `json:"configuration,omitempty"`
	Parameters        map[string]any      `json:"parameters,omitempty"`
	PredicateType     string              `json:"predicateType"`
	BuildInvocationID string              `json:"buildInvocationId,omitempty"`
	Materials         []Material          `json:"materials,omitempty"`
	Metadata          *GenerationMetadata `json:"metadata,omitempty"`
	Byproducts        map[string]string   `json:"byproducts,omitempty"`
}

type ProvActivity struct {
	Type              string `json:"type"`
	StartedAtTime     string `json:"startedAtTime"`
	EndedAtTime       string `json:"endedAtTime"`
	WasAssociatedWith string `json:"wasAssociatedWith"`
}

type ProvAgent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Provenance is the PROV-O compliant description of the generation activity.
// GraphHash covers the canonical form of the provenance graph itself so the
// description cannot be altered independent of the artifact hash.
type Provenance struct {
	Context                string       `json:"@context"`
	Activity               ProvActivity `json:"activity"`
	Agent                  ProvAgent    `json:"agent"`
	GraphHash              string       `json:"graphHash"`
	CanonicalizationMethod string       `json:"canonicalizationMethod"`
}

// SignatureBlock is the detached signature over the canonical serialization
// of every other attestation field.
type SignatureBlock struct {
	Algorithm      string `json:"algorithm"`
	Signature      string `json:"signature"`
	KeyFingerprint string `json:"keyFingerprint"`
	SignedAt       string `json:"signedAt"`
}

type Integrity struct {
	HashAlgorithm     string   `json:"hashAlgorithm"`
	ChainIndex        *int     `json:"chainIndex,omitempty"`
	PreviousHash      string   `json:"previousHash,omitempty"`
	VerificationChain []string `json:"verificationChain,omitempty"`
}

type SystemInfo struct {
	Generator string `json:"generator"`
	Version   string `json:"version"`
	Platform  string `json:"platform"`
	Runtime   string `json:"runtime"`
}

type Timestamps struct {
	CreatedAt string `json:"createdAt"`
	SignedAt  string `json:"signedAt,omitempty"`
}

// Attestation binds an artifact to the provenance of how it was produced and
// to a detached signature. Created once, never mutated; any field change
// other than the signature itself invalidates the signature.
type Attestation struct {
	AttestationID string          `json:"attestationId"`
	ArtifactID    string          `json:"artifactId"`
	Artifact      Artifact        `json:"artifact"`
	Generation    Generation      `json:"generation"`
	Provenance    Provenance      `json:"provenance"`
	System        SystemInfo      `json:"system"`
	Integrity     Integrity       `json:"integrity"`
	Timestamps    Timestamps      `json:"timestamps"`
	Signature     *SignatureBlock `json:"signature,omitempty"`
}

// SignablePayload returns the attestation as a generic map with the signature
// field removed. This is the exact structure whose canonical serialization is
// signed and verified, so re-serialization never changes validity.
func (a Attestation) SignablePayload() (map[string]any, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "signature")
	return m, nil
}
