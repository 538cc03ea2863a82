package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSignablePayloadExcludesSignature(t *testing.T) {
	att := Attestation{
		AttestationID: "att-1",
		Artifact:      Artifact{Path: "a.txt", ContentHash: "abc"},
		Signature:     &SignatureBlock{Algorithm: AlgorithmEd25519, Signature: "c2ln"},
	}
	payload, err := att.SignablePayload()
	if err != nil {
		t.Fatalf("SignablePayload: %v", err)
	}
	if _, ok := payload["signature"]; ok {
		t.Fatal("signature present in signable payload")
	}
	if payload["attestationId"] != "att-1" {
		t.Fatalf("payload = %v", payload)
	}

	// The payload is identical whether or not the attestation is signed.
	att.Signature = nil
	unsigned, err := att.SignablePayload()
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(payload)
	b, _ := json.Marshal(unsigned)
	if string(a) != string(b) {
		t.Fatalf("payloads differ:\n%s\n%s", a, b)
	}
}

func TestAttestationJSONFieldNames(t *testing.T) {
	idx := 2
	att := Attestation{
		AttestationID: "att-1",
		ArtifactID:    "art-1",
		Artifact:      Artifact{Path: "a.txt", SizeBytes: 1, ContentHash: "h", MediaType: "text/plain"},
		Generation:    Generation{OperationID: "op-1", PredicateType: PredicateKgenV1},
		Provenance:    Provenance{Context: "https://www.w3.org/ns/prov", GraphHash: "g"},
		Integrity:     Integrity{HashAlgorithm: HashAlgorithmSHA256, ChainIndex: &idx, PreviousHash: "p"},
		Timestamps:    Timestamps{CreatedAt: "2026-01-01T00:00:00Z"},
	}
	raw, err := json.Marshal(att)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"attestationId", "artifactId", "artifact", "generation", "provenance", "system", "integrity", "timestamps"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing top-level key %s", key)
		}
	}
	prov := m["provenance"].(map[string]any)
	if _, ok := prov["@context"]; !ok {
		t.Error("provenance missing @context")
	}
	integ := m["integrity"].(map[string]any)
	if integ["chainIndex"].(float64) != 2 {
		t.Errorf("chainIndex = %v", integ["chainIndex"])
	}
	if _, ok := m["signature"]; ok {
		t.Error("unsigned attestation serialized a signature key")
	}
}

func TestToInTotoStatement(t *testing.T) {
	att := Attestation{
		Artifact:   Artifact{Path: "out/a.txt", ContentHash: "abc123"},
		Generation: Generation{OperationID: "op-1", PredicateType: PredicateKgenV1},
		Provenance: Provenance{GraphHash: "g"},
	}
	st := att.ToInTotoStatement()
	if st.Type != InTotoStatementType {
		t.Fatalf("_type = %s", st.Type)
	}
	if len(st.Subject) != 1 || st.Subject[0].Name != "out/a.txt" {
		t.Fatalf("subject = %+v", st.Subject)
	}
	if st.Subject[0].Digest[HashAlgorithmSHA256] != "abc123" {
		t.Fatalf("digest = %v", st.Subject[0].Digest)
	}
	if st.PredicateType != PredicateKgenV1 {
		t.Fatalf("predicateType = %s", st.PredicateType)
	}
	pred := st.Predicate.(map[string]any)
	if pred["provenance"].(Provenance).GraphHash != "g" {
		t.Fatal("graph hash lost in conversion")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &KeyInitializationError{Path: "/k", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("KeyInitializationError does not unwrap")
	}
	var loadErr *AttestationLoadError
	wrapped := &AttestationLoadError{Path: "/a", Err: inner}
	if !errors.As(error(wrapped), &loadErr) {
		t.Fatal("errors.As failed")
	}
	if !errors.Is(wrapped, inner) {
		t.Fatal("AttestationLoadError does not unwrap")
	}
}

func TestTrustPolicyHelpers(t *testing.T) {
	pol := TrustPolicy{
		TrustedSigners: []TrustedSigner{{KeyID: "fp-1", PublicKey: "pem"}},
	}
	if _, ok := pol.SignerByKeyID("fp-1"); !ok {
		t.Fatal("known signer not found")
	}
	if _, ok := pol.SignerByKeyID("fp-2"); ok {
		t.Fatal("unknown signer found")
	}

	if d, err := pol.MaxAge(); err != nil || d != 0 {
		t.Fatalf("empty max age = %v, %v", d, err)
	}
	pol.AdditionalChecks.MaxAttestationAge = "90m"
	if d, err := pol.MaxAge(); err != nil || d.Minutes() != 90 {
		t.Fatalf("max age = %v, %v", d, err)
	}
	pol.AdditionalChecks.MaxAttestationAge = "ninety minutes"
	if _, err := pol.MaxAge(); err == nil {
		t.Fatal("bad duration accepted")
	}
}
