package geo

import (
	"math"
	"testing"
)

func almost(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestHaversine_SamePoint(t *testing.T) {
	d := Haversine(43.6532, -79.3832, 43.6532, -79.3832)
	if d != 0 {
		t.Fatalf("want 0, got %f", d)
	}
}

func TestHaversine_TorontoMontreal(t *testing.T) {
	// Toronto -> Montreal is roughly 504 km.
	d := Haversine(43.6532, -79.3832, 45.5017, -73.5673)
	if !almost(d, 504_000, 5_000) {
		t.Fatalf("want ~504km, got %.0f m", d)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Haversine(43.7, -79.4, 43.8, -79.2)
	b := Haversine(43.8, -79.2, 43.7, -79.4)
	if !almost(a, b, 1e-9) {
		t.Fatalf("asymmetric: %f vs %f", a, b)
	}
}

func TestPoint_DistanceTo(t *testing.T) {
	p := Point{Lat: 0, Lon: 0}
	q := Point{Lat: 0, Lon: 1}
	// One degree of longitude on the equator.
	want := EarthRadiusMeters * math.Pi / 180
	if got := p.DistanceTo(q); !almost(got, want, 1) {
		t.Fatalf("want %.1f, got %.1f", want, got)
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"bounds", 90, -180, true},
		{"lat too high", 90.01, 0, false},
		{"lon too low", 0, -180.5, false},
		{"nan", math.NaN(), 0, false},
		{"inf", 0, math.Inf(1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateCoordinates(tc.lat, tc.lon); got != tc.want {
				t.Errorf("ValidateCoordinates(%g, %g) = %v, want %v", tc.lat, tc.lon, got, tc.want)
			}
		})
	}
}

func TestNewPoint_Invalid(t *testing.T) {
	if _, err := NewPoint(120, 0); err == nil {
		t.Fatal("expected error")
	}
	p, err := NewPoint(43.65, -79.38)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Lat != 43.65 || p.Lon != -79.38 {
		t.Fatalf("unexpected point %+v", p)
	}
}
