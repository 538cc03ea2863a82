// Package provenance builds the PROV-O compliant record for a generation
// event and its canonical graph hash.
package provenance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kgen-dev/kgen-attest/internal/hash"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

const (
	ContextIRI = "https://www.w3.org/ns/prov"

	RedactionMarker = "[REDACTED]"

	predAssociatedWith = "http://www.w3.org/ns/prov#wasAssociatedWith"
	predUsedTemplate   = "https://kgen.dev/prov#usedTemplate"
	predTemplateHash   = "https://kgen.dev/prov#templateHash"
	predParameter      = "https://kgen.dev/prov#parameter/"
	predConfiguration  = "https://kgen.dev/prov#configuration/"
	predOperationType  = "https://kgen.dev/prov#operationType"
)

// Names matching these fragments carry secrets and are redacted before any
// value reaches the provenance graph.
var redactFragments = []string{"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "PRIVATE"}

// Build derives the provenance record from a generation context. The graph
// hash covers a canonical triple representation of the context, so the
// provenance description cannot be silently altered independent of the
// artifact hash.
func Build(ctx types.GenerationContext) (types.Provenance, error) {
	if ctx.OperationID == "" {
		return types.Provenance{}, fmt.Errorf("generation context missing operationId")
	}

	op := "urn:uuid:" + ctx.OperationID
	agentIRI := "urn:agent:" + ctx.Agent.ID

	triples := []hash.Triple{
		{Subject: op, Predicate: predAssociatedWith, Object: agentIRI},
		{Subject: op, Predicate: predOperationType, Object: ctx.Type, Literal: true},
	}
	if ctx.TemplateID != "" {
		triples = append(triples, hash.Triple{Subject: op, Predicate: predUsedTemplate, Object: "urn:template:" + ctx.TemplateID})
	}
	if ctx.TemplateHash != "" {
		triples = append(triples, hash.Triple{Subject: op, Predicate: predTemplateHash, Object: ctx.TemplateHash, Literal: true})
	}
	triples = append(triples, valueTriples(op, predParameter, Redact(ctx.Parameters))...)
	triples = append(triples, valueTriples(op, predConfiguration, Redact(ctx.Configuration))...)

	return types.Provenance{
		Context: ContextIRI,
		Activity: types.ProvActivity{
			Type:              "prov:Activity",
			StartedAtTime:     ctx.StartedAt.UTC().Format(time.RFC3339),
			EndedAtTime:       ctx.EndedAt.UTC().Format(time.RFC3339),
			WasAssociatedWith: agentIRI,
		},
		Agent: types.ProvAgent{
			Type: "prov:SoftwareAgent",
			Name: ctx.Agent.Name,
		},
		GraphHash:              hash.GraphHash(triples),
		CanonicalizationMethod: types.CanonicalizationRDF,
	}, nil
}

// valueTriples emits one literal triple per entry. Values are folded to
// their content hash so arbitrary parameter payloads never bloat the graph.
func valueTriples(subject, predicatePrefix string, values map[string]any) []hash.Triple {
	if len(values) == 0 {
		return nil
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	triples := make([]hash.Triple, 0, len(names))
	for _, name := range names {
		digest, err := hash.Sum(values[name])
		if err != nil {
			digest = hash.SumBytes([]byte(fmt.Sprintf("%v", values[name])))
		}
		triples = append(triples, hash.Triple{
			Subject:   subject,
			Predicate: predicatePrefix + name,
			Object:    digest,
			Literal:   true,
		})
	}
	return triples
}

// Redact returns a copy of values with every sensitively named entry
// replaced by the redaction marker. The input map is never mutated.
func Redact(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for name, value := range values {
		if Sensitive(name) {
			out[name] = RedactionMarker
			continue
		}
		out[name] = value
	}
	return out
}

// Sensitive reports whether a parameter or environment name matches the
// redaction denylist.
func Sensitive(name string) bool {
	upper := strings.ToUpper(name)
	for _, fragment := range redactFragments {
		if strings.Contains(upper, fragment) {
			return true
		}
	}
	return false
}
