// Package candidate holds scored catalog records flowing through the pipeline.
package candidate

import (
	"cmp"
	"slices"

	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// Candidate is a catalog record with a relevance score.
// Seq is the catalog insertion order, used to break score ties.
type Candidate struct {
	Record service.Record
	Score  float64
	Seq    int64
}

// Set is an ordered candidate list, best first.
type Set []Candidate

// Sort orders by descending score, ties by ascending insertion order.
func (s Set) Sort() {
	slices.SortStableFunc(s, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

// Truncate returns at most n leading candidates.
func (s Set) Truncate(n int) Set {
	if n < 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// Clone copies the slice; records are shared.
func (s Set) Clone() Set {
	return slices.Clone(s)
}

// Records extracts the records in order.
func (s Set) Records() []service.Record {
	out := make([]service.Record, len(s))
	for i := range s {
		out[i] = s[i].Record
	}
	return out
}

// IDs extracts record ids in order.
func (s Set) IDs() []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Record.ID
	}
	return out
}

// Dedup collapses candidates sharing a duplicate key, keeping the earliest (best-ranked) one.
func (s Set) Dedup() (Set, int) {
	seen := make(map[string]struct{}, len(s))
	out := make(Set, 0, len(s))
	for i := range s {
		key := s[i].Record.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s[i])
	}
	return out, len(s) - len(out)
}
