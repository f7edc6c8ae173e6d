// Package geo computes great-circle distances and geofence verdicts.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinates is returned for out-of-range or non-finite input.
var ErrInvalidCoordinates = errors.New("coordinates out of range")

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Validate checks that the point is finite and within range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return ErrInvalidCoordinates
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// rounding can push h marginally above 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Verdict is the outcome of a geofence test.
type Verdict struct {
	Within         bool
	DistanceMeters float64
	AllowedRadius  float64
}

// Check tests whether p lies inside the circle of radius meters around center.
// The boundary counts as inside.
func Check(center Point, radius float64, p Point) Verdict {
	d := Distance(center, p)
	return Verdict{
		Within:         d <= radius,
		DistanceMeters: d,
		AllowedRadius:  radius,
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
