package privacy

import (
	"math"
	"math/rand"
)

// Meters per degree of latitude (and of longitude at the equator).
const metersPerDegree = 111320.0

// Perturb displaces a point uniformly over a disk of the given radius:
// angle uniform, radius scaled by sqrt(uniform) for area-uniform placement,
// converted from meters to degrees at the point's latitude. The stored
// record is never mutated; this applies only to response copies.
func Perturb(lat, lon, radiusM float64) (float64, float64) {
	if radiusM <= 0 {
		return lat, lon
	}

	angle := 2 * math.Pi * rand.Float64()
	r := radiusM * math.Sqrt(rand.Float64())

	dLat := (r * math.Cos(angle)) / metersPerDegree

	lonScale := math.Cos(lat * math.Pi / 180)
	if math.Abs(lonScale) < 0.01 {
		lonScale = 0.01 // polar degenerate case
	}
	dLon := (r * math.Sin(angle)) / (metersPerDegree * lonScale)

	newLat := lat + dLat
	if newLat > 90 {
		newLat = 90
	} else if newLat < -90 {
		newLat = -90
	}
	newLon := lon + dLon
	for newLon > 180 {
		newLon -= 360
	}
	for newLon < -180 {
		newLon += 360
	}
	return newLat, newLon
}
