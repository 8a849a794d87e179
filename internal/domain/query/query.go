// Package query holds the user's recommendation request.
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
)

// MaxTextBytes bounds the free-text need description, refinement context included.
const MaxTextBytes = 8192

// Query describes a need, optionally anchored to a location.
type Query struct {
	Text     string
	Location *geo.Point
	// Radius in meters. Meaningless without Location.
	Radius  *float64
	Rerank  bool
	Filters filter.Expression
}

// New validates inputs and builds a Query. A radius without a location is dropped.
func New(text string, loc *geo.Point, radius *float64, rerank bool, filters filter.Expression) (Query, error) {
	q := Query{
		Text:     strings.TrimSpace(text),
		Location: loc,
		Radius:   radius,
		Rerank:   rerank,
		Filters:  filters,
	}
	if q.Location == nil {
		q.Radius = nil
	}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// Validate checks the query; all failures wrap domain.ErrInvalidInput.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query text is required", domain.ErrInvalidInput)
	}
	if len(q.Text) > MaxTextBytes {
		return fmt.Errorf("%w: query text exceeds %d bytes", domain.ErrInvalidInput, MaxTextBytes)
	}
	if q.Location != nil && !geo.ValidateCoordinates(q.Location.Lat, q.Location.Lon) {
		return fmt.Errorf("%w: coordinates out of range (lat=%g, lon=%g)",
			domain.ErrInvalidInput, q.Location.Lat, q.Location.Lon)
	}
	if q.Radius != nil {
		r := *q.Radius
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return fmt.Errorf("%w: radius must be a positive number of meters, got %g", domain.ErrInvalidInput, r)
		}
	}
	return nil
}

// EffectiveRadius returns the radius only when a location anchors it.
func (q Query) EffectiveRadius() *float64 {
	if q.Location == nil {
		return nil
	}
	return q.Radius
}

// WithText returns a copy carrying different text; location, radius, rerank and filters are kept.
func (q Query) WithText(text string) Query {
	q.Text = text
	return q
}
