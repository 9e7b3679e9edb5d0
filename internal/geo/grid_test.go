package geo

import (
	"math"
	"testing"
)

func TestValidLatLon(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"berlin", 52.52, 13.405, true},
		{"south pole", -90, 0, true},
		{"dateline", 0, 180, true},
		{"null island", 0, 0, false},
		{"lat too high", 90.01, 0, false},
		{"lat too low", -90.01, 0, false},
		{"lon too high", 0, 180.01, false},
		{"lon too low", 0, -180.01, false},
		{"nan lat", math.NaN(), 0, false},
		{"inf lon", 0, math.Inf(1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidLatLon(tc.lat, tc.lon); got != tc.want {
				t.Fatalf("ValidLatLon(%v, %v) = %v, want %v", tc.lat, tc.lon, got, tc.want)
			}
		})
	}
}

func TestCellForIsDeterministic(t *testing.T) {
	a, err := CellFor(52.52, 13.405)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}
	b, err := CellFor(52.52, 13.405)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}
	if a != b {
		t.Fatalf("same point produced different cells: %s vs %s", a, b)
	}
	if a == "" {
		t.Fatal("expected non-empty cell identifier")
	}
}

func TestCellForRejectsInvalidCoordinates(t *testing.T) {
	if _, err := CellFor(0, 0); err != ErrInvalidCoordinates {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
	if _, err := CellFor(91, 0); err != ErrInvalidCoordinates {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestCentroidRoundTripsToSameCell(t *testing.T) {
	cell, err := CellFor(40.7128, -74.0060)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}
	lat, lon, err := Centroid(cell)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	back, err := CellFor(lat, lon)
	if err != nil {
		t.Fatalf("CellFor(centroid): %v", err)
	}
	if back != cell {
		t.Fatalf("centroid mapped to different cell: %s vs %s", back, cell)
	}
}

func TestNeighborsExcludesOrigin(t *testing.T) {
	cell, err := CellFor(52.52, 13.405)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}
	neighbors, err := Neighbors(cell)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(neighbors) != 6 {
		t.Fatalf("expected 6 neighbors for a hexagon, got %d", len(neighbors))
	}
	for _, n := range neighbors {
		if n == cell {
			t.Fatal("neighbor set contains the origin cell")
		}
	}
}

func TestDistance(t *testing.T) {
	cell, err := CellFor(52.52, 13.405)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}
	if d := Distance(cell, cell); d != 0 {
		t.Fatalf("distance to self = %d, want 0", d)
	}

	neighbors, err := Neighbors(cell)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if d := Distance(cell, neighbors[0]); d != 1 {
		t.Fatalf("distance to neighbor = %d, want 1", d)
	}

	if d := Distance(cell, "not-a-cell"); d != FarAway {
		t.Fatalf("distance to garbage = %d, want FarAway", d)
	}
	if d := Distance("", cell); d != FarAway {
		t.Fatalf("distance from empty = %d, want FarAway", d)
	}
}

func TestCoverage(t *testing.T) {
	// Small radius: a point claim occupies exactly one cell.
	cells, err := Coverage(52.52, 13.405, 50)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("expected single-cell coverage for 50m radius, got %d cells", len(cells))
	}

	// Field claim: a filled disk around the center.
	field, err := Coverage(52.52, 13.405, 500)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(field) <= len(cells) {
		t.Fatalf("expected multi-cell coverage for 500m radius, got %d cells", len(field))
	}
	found := false
	for _, c := range field {
		if c == cells[0] {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("field coverage does not contain the center cell")
	}
}

func TestGeohashNeighborhood(t *testing.T) {
	prefixes, err := GeohashNeighborhood(52.52, 13.405)
	if err != nil {
		t.Fatalf("GeohashNeighborhood: %v", err)
	}
	if len(prefixes) != 9 {
		t.Fatalf("expected center + 8 neighbors, got %d prefixes", len(prefixes))
	}
	seen := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		if len(p) != GeohashPrecision {
			t.Fatalf("prefix %q has length %d, want %d", p, len(p), GeohashPrecision)
		}
		if seen[p] {
			t.Fatalf("duplicate prefix %q", p)
		}
		seen[p] = true
	}
}

func TestHaversineM(t *testing.T) {
	// One hundredth of a degree of latitude is ~1113 m everywhere.
	d := HaversineM(10, 10, 10.01, 10)
	if d < 1100 || d > 1125 {
		t.Fatalf("expected ~1113m, got %.1fm", d)
	}
	if d := HaversineM(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Fatalf("distance to self = %.4fm, want 0", d)
	}
}
