// Package policy loads and validates trust policy documents.
package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// trustPolicySchema is the JSON schema a trust policy document must satisfy.
const trustPolicySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "trustedSigners": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["keyid", "publicKey"],
        "properties": {
          "keyid": {"type": "string", "minLength": 1},
          "publicKey": {"type": "string", "minLength": 1},
          "name": {"type": "string"}
        }
      }
    },
    "requiredSignatures": {"type": "integer", "minimum": 0},
    "allowedPredicateTypes": {
      "type": "array",
      "items": {"type": "string", "format": "uri"}
    },
    "slsaLevel": {"type": "integer", "minimum": 0, "maximum": 4},
    "additionalChecks": {
      "type": "object",
      "properties": {
        "requireReproducibleBuilds": {"type": "boolean"},
        "maxAttestationAge": {"type": "string"}
      }
    }
  },
  "additionalProperties": false
}`

// ValidationResult reports schema validation of a trust policy document.
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []string           `json:"errors,omitempty"`
	Policy *types.TrustPolicy `json:"policy,omitempty"`
}

// Load reads, schema-validates, and decodes a trust policy file.
func Load(path string) (types.TrustPolicy, error) {
	result, err := Validate(path)
	if err != nil {
		return types.TrustPolicy{}, err
	}
	if !result.Valid {
		return types.TrustPolicy{}, &types.PolicyViolationError{Violations: result.Errors}
	}
	return *result.Policy, nil
}

// Validate checks a trust policy document against the embedded schema and
// returns the decoded policy when valid.
func Validate(path string) (ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("read trust policy %s: %w", path, err)
	}

	schemaLoader := gojsonschema.NewStringLoader(trustPolicySchema)
	docLoader := gojsonschema.NewBytesLoader(raw)
	schemaResult, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate trust policy %s: %w", path, err)
	}
	if !schemaResult.Valid() {
		errs := make([]string, 0, len(schemaResult.Errors()))
		for _, e := range schemaResult.Errors() {
			errs = append(errs, e.String())
		}
		return ValidationResult{Valid: false, Errors: errs}, nil
	}

	var pol types.TrustPolicy
	if err := json.Unmarshal(raw, &pol); err != nil {
		return ValidationResult{}, fmt.Errorf("decode trust policy %s: %w", path, err)
	}
	if _, err := pol.MaxAge(); err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("additionalChecks.maxAttestationAge: %v", err)},
		}, nil
	}
	return ValidationResult{Valid: true, Policy: &pol}, nil
}
