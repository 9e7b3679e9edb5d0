// Package geo converts raw coordinates to fixed-resolution hex grid cells
// and legacy geohash prefixes used for index-assisted range search.
package geo

import (
	"errors"
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/uber/h3-go/v4"
)

// TruthResolution is H3 resolution 9 (~174 m hexagon edges). All claims and
// votes are bucketed at this single resolution tier.
const TruthResolution = 9

// GeohashPrecision is the fixed base-32 geohash length for the legacy
// radius search path (~1.2 km x 0.6 km boxes).
const GeohashPrecision = 6

// FarAway is the grid distance reported when two cells are farther apart
// than the library can resolve. Any value >= 2 carries zero vote weight,
// so the exact magnitude is irrelevant.
const FarAway = 1 << 20

// Approximate center-to-center spacing of res-9 hexagons, in meters.
const cellSpacingM = 300.0

// ErrInvalidCoordinates is returned for out-of-range or degenerate input.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidLatLon validates geographic coordinates.
// Rejects NaN, Inf, out-of-range, and 0,0 (common default value, located in the ocean).
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lon < -180 || lon > 180 {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return true
}

// CellFor returns the truth-resolution cell identifier for a point.
func CellFor(lat, lon float64) (string, error) {
	if !ValidLatLon(lat, lon) {
		return "", ErrInvalidCoordinates
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), TruthResolution)
	if err != nil || cell == 0 {
		return "", ErrInvalidCoordinates
	}
	return cell.String(), nil
}

// Centroid returns the center point of a cell.
func Centroid(cellID string) (float64, float64, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, 0, err
	}
	latLng, err := h3.CellToLatLng(cell)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	return latLng.Lat, latLng.Lng, nil
}

// Neighbors returns the 1-ring neighbor set of a cell, excluding the cell itself.
func Neighbors(cellID string) ([]string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return nil, err
	}
	disk, err := h3.GridDisk(cell, 1)
	if err != nil {
		return nil, ErrInvalidCoordinates
	}
	neighbors := make([]string, 0, len(disk))
	for _, c := range disk {
		if c == cell || c == 0 {
			continue
		}
		neighbors = append(neighbors, c.String())
	}
	return neighbors, nil
}

// Distance returns the hex grid distance between two cells. Cells the
// library cannot relate are reported as FarAway rather than an error.
func Distance(a, b string) int {
	cellA, errA := parseCell(a)
	cellB, errB := parseCell(b)
	if errA != nil || errB != nil {
		return FarAway
	}
	d, err := h3.GridDistance(cellA, cellB)
	if err != nil || d < 0 {
		return FarAway
	}
	return d
}

// Coverage returns the set of cells a claim with the given effective radius
// occupies. Small radii stay within a single cell; larger radii produce a
// filled disk ("field" claims).
func Coverage(lat, lon, radiusM float64) ([]string, error) {
	if !ValidLatLon(lat, lon) {
		return nil, ErrInvalidCoordinates
	}
	center, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), TruthResolution)
	if err != nil || center == 0 {
		return nil, ErrInvalidCoordinates
	}

	k := 0
	if radiusM > cellSpacingM/2 {
		k = int(math.Ceil(radiusM / cellSpacingM))
	}
	if k == 0 {
		return []string{center.String()}, nil
	}

	disk, err := h3.GridDisk(center, k)
	if err != nil {
		return []string{center.String()}, nil
	}
	cells := make([]string, 0, len(disk))
	for _, c := range disk {
		if c == 0 {
			continue
		}
		cells = append(cells, c.String())
	}
	return cells, nil
}

// GeohashFor returns the fixed-precision geohash prefix for a point.
func GeohashFor(lat, lon float64) (string, error) {
	if !ValidLatLon(lat, lon) {
		return "", ErrInvalidCoordinates
	}
	return geohash.EncodeWithPrecision(lat, lon, GeohashPrecision), nil
}

// GeohashNeighborhood returns the point's geohash prefix plus its 8
// cardinal/diagonal neighbor prefixes, for index-assisted range search.
func GeohashNeighborhood(lat, lon float64) ([]string, error) {
	center, err := GeohashFor(lat, lon)
	if err != nil {
		return nil, err
	}
	return append([]string{center}, geohash.Neighbors(center)...), nil
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func parseCell(cellID string) (h3.Cell, error) {
	if cellID == "" {
		return 0, ErrInvalidCoordinates
	}
	cell := h3.Cell(h3.IndexFromString(cellID))
	if cell == 0 || !cell.IsValid() {
		return 0, ErrInvalidCoordinates
	}
	return cell, nil
}
