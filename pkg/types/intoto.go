package types

// In-toto v1 statement export for SLSA interop. The generation block becomes
// the predicate; the artifact becomes the single subject.

const InTotoStatementType = "https://in-toto.io/Statement/v1"

type InTotoSubject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

type InTotoStatement struct {
	Type          string          `json:"_type"`
	Subject       []InTotoSubject `json:"subject"`
	PredicateType string          `json:"predicateType"`
	Predicate     any             `json:"predicate"`
}

// ToInTotoStatement converts the attestation into an in-toto v1 statement.
// The provenance block rides inside the predicate so the graph hash survives
// the conversion.
func (a Attestation) ToInTotoStatement() InTotoStatement {
	return InTotoStatement{
		Type: InTotoStatementType,
		Subject: []InTotoSubject{{
			Name:   a.Artifact.Path,
			Digest: map[string]string{HashAlgorithmSHA256: a.Artifact.ContentHash},
		}},
		PredicateType: a.Generation.PredicateType,
		Predicate: map[string]any{
			"generation": a.Generation,
			"provenance": a.Provenance,
			"integrity":  a.Integrity,
			"system":     a.System,
		},
	}
}
