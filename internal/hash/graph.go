package hash

import (
	"sort"
	"strconv"
	"strings"
)

// Triple is a subject/predicate/object statement in the provenance graph.
// Object is treated as an IRI unless Literal is set.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
}

// GraphHash canonicalizes a set of triples into sorted N-Triples lines and
// returns the SHA-256 hex digest. Any deterministic canonical form satisfies
// the graph hash contract; sorted N-Triples is the one this implementation
// commits to.
func GraphHash(triples []Triple) string {
	lines := make([]string, 0, len(triples))
	for _, t := range triples {
		obj := "<" + t.Object + ">"
		if t.Literal {
			obj = strconv.Quote(t.Object)
		}
		lines = append(lines, "<"+t.Subject+"> <"+t.Predicate+"> "+obj+" .")
	}
	sort.Strings(lines)
	return SumBytes([]byte(strings.Join(lines, "\n") + "\n"))
}
