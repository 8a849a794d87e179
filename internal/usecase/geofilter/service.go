// Package geofilter restricts and re-orders candidates by distance to the user.
package geofilter

import (
	"cmp"
	"math"
	"slices"

	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
)

// Defaults shared with the recommend configuration.
const (
	DefaultRelevancyWeight = 0.5
	DefaultRadius          = 5000.0
)

// Service blends similarity with proximity.
type Service struct {
	weight        float64
	defaultRadius float64
}

// New creates a geo filter. weight is the share of similarity in the blended score.
func New(weight, defaultRadius float64) *Service {
	if weight < 0 || weight > 1 || math.IsNaN(weight) {
		weight = DefaultRelevancyWeight
	}
	if defaultRadius <= 0 || math.IsNaN(defaultRadius) {
		defaultRadius = DefaultRadius
	}
	return &Service{weight: weight, defaultRadius: defaultRadius}
}

// Filter applies the location constraint.
//
// With no center the input is returned unchanged. With a radius, candidates without a
// location or farther than radius meters are dropped. Without one nothing is dropped and
// unlocated candidates get zero proximity. Survivors are scored
// w*similarity + (1-w)*(1 - min(d/scale, 1)) and stably re-sorted by that score.
func (s *Service) Filter(candidates candidate.Set, center *geo.Point, radius *float64) candidate.Set {
	if center == nil {
		return candidates
	}

	scale := s.defaultRadius
	if radius != nil {
		scale = *radius
	}

	out := make(candidate.Set, 0, len(candidates))
	for _, c := range candidates {
		proximity := 0.0
		if c.Record.HasLocation() {
			d := center.DistanceTo(*c.Record.Location)
			if radius != nil && d > *radius {
				continue
			}
			proximity = 1 - math.Min(d/scale, 1)
		} else if radius != nil {
			continue
		}
		c.Score = s.weight*c.Score + (1-s.weight)*proximity
		out = append(out, c)
	}

	sortByScore(out)
	return out
}

// sortByScore orders by blended score; equal scores keep the retriever's order.
func sortByScore(set candidate.Set) {
	slices.SortStableFunc(set, func(a, b candidate.Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
