// Package report renders verification results as JSON or markdown.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/kgen-dev/kgen-attest/internal/verify"
)

// BuildMarkdown renders a batch result as a human-readable report.
func BuildMarkdown(r verify.BatchResult) string {
	status := "PASS"
	if r.Failed > 0 {
		status = "FAIL"
	}
	var b strings.Builder
	b.WriteString("# Attestation Verification Report\n\n")
	b.WriteString(fmt.Sprintf("- Status: **%s**\n", status))
	b.WriteString(fmt.Sprintf("- Attestations Checked: `%d`\n", r.Total))
	b.WriteString(fmt.Sprintf("- Verified: `%d`\n", r.Verified))
	b.WriteString(fmt.Sprintf("- Failed: `%d`\n", r.Failed))
	b.WriteString(fmt.Sprintf("- Average Time: `%.2fms`\n\n", r.AverageTimeMS))

	b.WriteString("## Results\n\n")
	b.WriteString("| Sidecar | Verified | Structure | Hash | Signature | Policy | Errors |\n")
	b.WriteString("|---|---:|---|---|---|---|---|\n")
	for _, item := range r.Results {
		b.WriteString(fmt.Sprintf("| %s | %t | %s | %s | %s | %s | %s |\n",
			item.Path, item.Verified,
			checkCell(item.Details.Structure),
			checkCell(item.Details.Hash),
			checkCell(item.Details.Signature),
			policyCell(item.TrustPolicy),
			escapeCell(strings.Join(item.Errors, "; "))))
	}

	violations := make([]string, 0)
	for _, item := range r.Results {
		if item.TrustPolicy != nil {
			for _, v := range item.TrustPolicy.Violations {
				violations = append(violations, fmt.Sprintf("%s: %s", item.Path, v))
			}
		}
	}
	if len(violations) > 0 {
		b.WriteString("\n## Trust Policy Violations\n\n")
		for _, v := range violations {
			b.WriteString("- " + v + "\n")
		}
	}
	return b.String()
}

// WriteMarkdown renders a batch result to a markdown file.
func WriteMarkdown(path string, r verify.BatchResult) error {
	return os.WriteFile(path, []byte(BuildMarkdown(r)), 0o644)
}

func checkCell(c *verify.Check) string {
	if c == nil {
		return "-"
	}
	if c.Verified {
		return "ok"
	}
	return "fail"
}

func policyCell(t *verify.TrustEval) string {
	if t == nil {
		return "-"
	}
	if t.Satisfied {
		return fmt.Sprintf("ok (slsa %d)", t.SLSALevel)
	}
	return fmt.Sprintf("fail (%d violation(s))", len(t.Violations))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
