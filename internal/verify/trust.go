package verify

import (
	"fmt"
	"time"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// EvaluateTrust applies a trust policy to an attestation that already passed
// structural and cryptographic checks. Every check runs; all violations are
// reported together. A cryptographically valid attestation can still end up
// unverified overall when the policy is not satisfied.
func EvaluateTrust(att types.Attestation, pol types.TrustPolicy, now time.Time) TrustEval {
	eval := TrustEval{SLSALevel: InferSLSALevel(att)}

	if !pol.AllowsPredicateType(att.Generation.PredicateType) {
		eval.Violations = append(eval.Violations,
			fmt.Sprintf("predicate type %s not in allowed set", att.Generation.PredicateType))
	}

	if pol.RequiredSignatures > 0 {
		if att.Signature == nil {
			eval.Violations = append(eval.Violations,
				fmt.Sprintf("policy requires %d signature(s), attestation is unsigned", pol.RequiredSignatures))
		} else if _, ok := pol.SignerByKeyID(att.Signature.KeyFingerprint); !ok {
			eval.Violations = append(eval.Violations,
				fmt.Sprintf("signer %s is not a trusted signer", att.Signature.KeyFingerprint))
		}
	}

	if eval.SLSALevel < pol.SLSALevel {
		eval.Violations = append(eval.Violations,
			fmt.Sprintf("slsa level %d below required level %d", eval.SLSALevel, pol.SLSALevel))
	}

	if maxAge, err := pol.MaxAge(); err != nil {
		eval.Violations = append(eval.Violations,
			fmt.Sprintf("additionalChecks.maxAttestationAge %q is not a valid duration", pol.AdditionalChecks.MaxAttestationAge))
	} else if maxAge > 0 {
		createdAt, parseErr := time.Parse(time.RFC3339, att.Timestamps.CreatedAt)
		if parseErr != nil {
			eval.Violations = append(eval.Violations, "timestamps.createdAt is not RFC 3339")
		} else if now.Sub(createdAt) > maxAge {
			eval.Violations = append(eval.Violations,
				fmt.Sprintf("attestation age %s exceeds maximum %s", now.Sub(createdAt).Round(time.Second), maxAge))
		}
	}

	if pol.AdditionalChecks.RequireReproducibleBuilds {
		if att.Generation.Metadata == nil || !att.Generation.Metadata.Reproducible {
			eval.Violations = append(eval.Violations, "reproducible build not recorded")
		}
	}

	eval.Satisfied = len(eval.Violations) == 0
	return eval
}

// InferSLSALevel derives the attestation's SLSA level from recorded
// provenance completeness: level 1 for a structurally complete attestation,
// level 2 once it is signed, level 3 when the build invocation, materials,
// and completeness metadata are all present.
func InferSLSALevel(att types.Attestation) int {
	level := 1
	if att.Signature != nil {
		level = 2
		if att.Generation.BuildInvocationID != "" &&
			len(att.Generation.Materials) > 0 &&
			att.Generation.Metadata != nil &&
			att.Generation.Metadata.Completeness != nil {
			level = 3
		}
	}
	return level
}
