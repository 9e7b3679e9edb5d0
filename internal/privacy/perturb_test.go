package privacy

import (
	"testing"

	"sparkfield/internal/geo"
)

func TestPerturbStaysWithinRadius(t *testing.T) {
	lat, lon := 52.52, 13.405
	radiusM := 75.0

	for i := 0; i < 1000; i++ {
		pLat, pLon := Perturb(lat, lon, radiusM)
		if !geo.ValidLatLon(pLat, pLon) {
			t.Fatalf("perturbed point out of range: %v, %v", pLat, pLon)
		}
		// Small slack for the flat-earth meters-to-degrees conversion.
		if d := geo.HaversineM(lat, lon, pLat, pLon); d > radiusM*1.05 {
			t.Fatalf("perturbation of %.2fm exceeds radius %.0fm", d, radiusM)
		}
	}
}

func TestPerturbActuallyMoves(t *testing.T) {
	lat, lon := 40.7128, -74.0060
	moved := false
	for i := 0; i < 100; i++ {
		pLat, pLon := Perturb(lat, lon, 75)
		if pLat != lat || pLon != lon {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("100 perturbations never displaced the point")
	}
}

func TestPerturbZeroRadiusIsIdentity(t *testing.T) {
	lat, lon := Perturb(52.52, 13.405, 0)
	if lat != 52.52 || lon != 13.405 {
		t.Fatalf("zero radius moved the point to %v, %v", lat, lon)
	}
}

func TestPerturbNearPoles(t *testing.T) {
	for i := 0; i < 100; i++ {
		lat, lon := Perturb(89.9999, 10, 75)
		if !geo.ValidLatLon(lat, lon) && !(lat == 90) {
			t.Fatalf("polar perturbation out of range: %v, %v", lat, lon)
		}
		if lat > 90 || lon > 180 || lon < -180 {
			t.Fatalf("polar perturbation not clamped: %v, %v", lat, lon)
		}
	}
}
