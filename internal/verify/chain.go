package verify

import (
	"crypto/subtle"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// VerifyChain validates a sequence of attestations linked by hash pointers:
// chainIndex must be strictly increasing with no gaps, and each
// integrity.previousHash must equal the prior attestation's artifact hash.
// Reordering, skipping, duplication, and hash substitution all surface as
// broken links at the offending index.
func VerifyChain(atts []types.Attestation) ChainResult {
	res := ChainResult{Verified: true, Length: len(atts)}
	if len(atts) == 0 {
		return res
	}

	breakLink := func(i int, detail string) {
		res.Verified = false
		res.BrokenLinks = append(res.BrokenLinks, i)
		res.Errors = append(res.Errors, (&types.ChainBrokenError{Index: i, Detail: detail}).Error())
	}

	if atts[0].Integrity.ChainIndex == nil {
		breakLink(0, "missing chainIndex")
	}

	for i := 1; i < len(atts); i++ {
		prev, cur := atts[i-1], atts[i]
		if cur.Integrity.ChainIndex == nil {
			breakLink(i, "missing chainIndex")
			continue
		}
		if prev.Integrity.ChainIndex != nil && *cur.Integrity.ChainIndex != *prev.Integrity.ChainIndex+1 {
			breakLink(i, "chainIndex not contiguous")
			continue
		}
		if cur.Integrity.PreviousHash == "" {
			breakLink(i, "missing previousHash")
			continue
		}
		if subtle.ConstantTimeCompare([]byte(cur.Integrity.PreviousHash), []byte(prev.Artifact.ContentHash)) != 1 {
			breakLink(i, "previousHash does not match predecessor artifact hash")
			continue
		}
		res.ValidLinks++
	}
	return res
}
