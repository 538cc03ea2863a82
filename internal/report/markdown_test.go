package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kgen-dev/kgen-attest/internal/verify"
)

func sampleBatch() verify.BatchResult {
	return verify.BatchResult{
		Total:         2,
		Verified:      1,
		Failed:        1,
		AverageTimeMS: 1.5,
		Results: []verify.Result{
			{
				Path:     "out/a.txt.attest.json",
				Verified: true,
				Details: verify.Details{
					Structure: &verify.Check{Verified: true},
					Hash:      &verify.Check{Verified: true},
					Signature: &verify.Check{Verified: true},
				},
				TrustPolicy: &verify.TrustEval{Satisfied: true, SLSALevel: 2},
			},
			{
				Path:     "out/b.txt.attest.json",
				Verified: false,
				Errors:   []string{"hash mismatch | tampered"},
				Details: verify.Details{
					Structure: &verify.Check{Verified: true},
					Hash:      &verify.Check{Verified: false, Message: "hash mismatch"},
				},
				TrustPolicy: &verify.TrustEval{
					Satisfied:  false,
					SLSALevel:  1,
					Violations: []string{"predicate type not allowed"},
				},
				ExitCode: verify.ExitHashMismatch,
			},
		},
	}
}

func TestBuildMarkdown(t *testing.T) {
	md := BuildMarkdown(sampleBatch())

	for _, want := range []string{
		"Status: **FAIL**",
		"Attestations Checked: `2`",
		"| out/a.txt.attest.json | true | ok | ok | ok | ok (slsa 2) |",
		"| out/b.txt.attest.json | false | ok | fail | - | fail (1 violation(s)) |",
		"## Trust Policy Violations",
		"out/b.txt.attest.json: predicate type not allowed",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	// Pipes inside error text must not break the table.
	if !strings.Contains(md, `hash mismatch \| tampered`) {
		t.Fatalf("unescaped pipe in:\n%s", md)
	}
}

func TestBuildMarkdownAllPass(t *testing.T) {
	r := sampleBatch()
	r.Failed = 0
	r.Results = r.Results[:1]
	md := BuildMarkdown(r)
	if !strings.Contains(md, "Status: **PASS**") {
		t.Fatalf("markdown:\n%s", md)
	}
	if strings.Contains(md, "## Trust Policy Violations") {
		t.Fatal("violations section rendered with no violations")
	}
}

func TestWriteMarkdownAndJSON(t *testing.T) {
	dir := t.TempDir()
	batch := sampleBatch()

	mdPath := filepath.Join(dir, "report.md")
	if err := WriteMarkdown(mdPath, batch); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	raw, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "# Attestation Verification Report") {
		t.Fatalf("report starts with %q", string(raw[:40]))
	}

	jsonPath := filepath.Join(dir, "report.json")
	if err := WriteJSON(jsonPath, batch); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	rawJSON, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var decoded verify.BatchResult
	if err := json.Unmarshal(rawJSON, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Total != batch.Total || decoded.Failed != batch.Failed {
		t.Fatalf("decoded = %+v", decoded)
	}
}
