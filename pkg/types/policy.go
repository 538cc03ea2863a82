package types

import "time"

// TrustedSigner identifies an acceptable signing key. PublicKey holds the
// PKIX PEM encoding so verification works offline without a key store.
type TrustedSigner struct {
	KeyID     string `json:"keyid"`
	PublicKey string `json:"publicKey"`
	Name      string `json:"name,omitempty"`
}

type AdditionalChecks struct {
	RequireReproducibleBuilds bool   `json:"requireReproducibleBuilds,omitempty"`
	MaxAttestationAge         string `json:"maxAttestationAge,omitempty"`
}

// TrustPolicy is the declarative rule set constraining which signers,
// predicate types, and SLSA levels are acceptable. Loaded once per verifier
// and immutable during use.
type TrustPolicy struct {
	Version               string           `json:"version"`
	TrustedSigners        []TrustedSigner  `json:"trustedSigners,omitempty"`
	RequiredSignatures    int              `json:"requiredSignatures"`
	AllowedPredicateTypes []string         `json:"allowedPredicateTypes,omitempty"`
	SLSALevel             int              `json:"slsaLevel"`
	AdditionalChecks      AdditionalChecks `json:"additionalChecks,omitempty"`
}

// SignerByKeyID returns the trusted signer whose keyid matches.
func (p TrustPolicy) SignerByKeyID(keyid string) (TrustedSigner, bool) {
	for _, s := range p.TrustedSigners {
		if s.KeyID == keyid {
			return s, true
		}
	}
	return TrustedSigner{}, false
}

// AllowsPredicateType reports whether the predicate type is acceptable. An
// empty allowlist accepts any type.
func (p TrustPolicy) AllowsPredicateType(pt string) bool {
	if len(p.AllowedPredicateTypes) == 0 {
		return true
	}
	for _, allowed := range p.AllowedPredicateTypes {
		if allowed == pt {
			return true
		}
	}
	return false
}

// MaxAge parses additionalChecks.maxAttestationAge as a Go duration. Zero
// means no age limit.
func (p TrustPolicy) MaxAge() (time.Duration, error) {
	if p.AdditionalChecks.MaxAttestationAge == "" {
		return 0, nil
	}
	return time.ParseDuration(p.AdditionalChecks.MaxAttestationAge)
}
