package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

func writePolicy(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trust-policy.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPolicy = `{
  "version": "1.0",
  "trustedSigners": [
    {"keyid": "abc123", "publicKey": "-----BEGIN PUBLIC KEY-----\nMAo=\n-----END PUBLIC KEY-----", "name": "ci"}
  ],
  "requiredSignatures": 1,
  "allowedPredicateTypes": ["https://kgen.dev/attestation/v1"],
  "slsaLevel": 2,
  "additionalChecks": {"requireReproducibleBuilds": false, "maxAttestationAge": "720h"}
}`

func TestValidatePass(t *testing.T) {
	result, err := Validate(writePolicy(t, validPolicy))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("valid policy rejected: %v", result.Errors)
	}
	if result.Policy == nil || result.Policy.RequiredSignatures != 1 {
		t.Fatalf("decoded policy = %+v", result.Policy)
	}
}

func TestValidateMissingVersion(t *testing.T) {
	result, err := Validate(writePolicy(t, `{"slsaLevel": 1}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Fatal("policy without version accepted")
	}
}

func TestValidateUnknownField(t *testing.T) {
	result, err := Validate(writePolicy(t, `{"version": "1.0", "unknownKnob": true}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Fatal("policy with unknown field accepted")
	}
}

func TestValidateBadMaxAge(t *testing.T) {
	doc := `{"version": "1.0", "additionalChecks": {"maxAttestationAge": "3 fortnights"}}`
	result, err := Validate(writePolicy(t, doc))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Fatal("unparseable maxAttestationAge accepted")
	}
}

func TestValidateBadJSON(t *testing.T) {
	if _, err := Validate(writePolicy(t, "{oops")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoad(t *testing.T) {
	pol, err := Load(writePolicy(t, validPolicy))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pol.Version != "1.0" || pol.SLSALevel != 2 {
		t.Fatalf("policy = %+v", pol)
	}
	if !pol.AllowsPredicateType(types.PredicateKgenV1) {
		t.Fatal("allowed predicate type rejected")
	}
	if pol.AllowsPredicateType("https://example.com/other") {
		t.Fatal("disallowed predicate type accepted")
	}
	maxAge, err := pol.MaxAge()
	if err != nil {
		t.Fatal(err)
	}
	if maxAge.Hours() != 720 {
		t.Fatalf("maxAge = %s", maxAge)
	}
}

func TestLoadInvalidPolicy(t *testing.T) {
	_, err := Load(writePolicy(t, `{"slsaLevel": 9}`))
	var polErr *types.PolicyViolationError
	if !errors.As(err, &polErr) {
		t.Fatalf("expected PolicyViolationError, got %v", err)
	}
}
