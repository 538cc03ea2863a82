package verify

// Exit codes surfaced by the CLI: 0 means verified, anything else maps a
// specific failure class.
const (
	ExitPass          = 0
	ExitMissing       = 10
	ExitSignatureFail = 11
	ExitHashMismatch  = 12
	ExitPolicyFail    = 13
	ExitStructureFail = 14
	ExitChainBroken   = 15
)

// Check records one verification stage. Stages that ran before a failure are
// still reported so callers can distinguish tampering from malformed input
// from untrusted-signer rejection.
type Check struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

type Details struct {
	Structure *Check `json:"structure,omitempty"`
	Hash      *Check `json:"hash,omitempty"`
	Signature *Check `json:"signature,omitempty"`
}

// TrustEval is the trust policy portion of a result. Satisfied is true only
// when every policy check passes.
type TrustEval struct {
	Satisfied  bool     `json:"satisfied"`
	Violations []string `json:"violations,omitempty"`
	SLSALevel  int      `json:"slsaLevel"`
}

// Result is the outcome of one verification call. Verification failures are
// captured here rather than returned as errors, so batch and chain
// verification continue across independent inputs.
type Result struct {
	Verified      bool       `json:"verified"`
	Path          string     `json:"path,omitempty"`
	AttestationID string     `json:"attestationId,omitempty"`
	Errors        []string   `json:"errors,omitempty"`
	Details       Details    `json:"details"`
	TrustPolicy   *TrustEval `json:"trustPolicy,omitempty"`
	ElapsedMS     float64    `json:"elapsedMs"`
	ExitCode      int        `json:"exitCode"`
}

func (r *Result) fail(exit int, msg string) {
	r.Verified = false
	r.Errors = append(r.Errors, msg)
	if r.ExitCode == ExitPass || exit > r.ExitCode {
		r.ExitCode = exit
	}
}

// ChainResult reports chain verification. BrokenLinks holds the index of
// each attestation whose link to its predecessor failed.
type ChainResult struct {
	Verified    bool     `json:"verified"`
	Length      int      `json:"length"`
	ValidLinks  int      `json:"validLinks"`
	BrokenLinks []int    `json:"brokenLinks,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// BatchResult aggregates per-item results of a batch verification.
type BatchResult struct {
	Total         int      `json:"total"`
	Verified      int      `json:"verified"`
	Failed        int      `json:"failed"`
	AverageTimeMS float64  `json:"averageTimeMs"`
	Results       []Result `json:"results"`
}
