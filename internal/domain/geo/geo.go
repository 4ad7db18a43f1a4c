package geo

import "math"

// earthRadiusMiles is the mean Earth radius used by the distance formula.
// Distances everywhere in this system are in statute miles.
const earthRadiusMiles = 3958.8

// DisplayFloorMiles is the minimum distance surfaced to consumers. True
// distances below it are clamped up so a post taken at the observer's own
// position still reads as "0.1 miles" rather than zero.
const DisplayFloorMiles = 0.1

// Coordinate is an immutable latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is within the WGS84 value ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Distance returns the great-circle distance in miles between a and b,
// computed with the haversine formula. Inputs are assumed to have passed
// Valid; the result is symmetric and never negative.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ClampDistance applies the display floor to a computed distance. The
// clamp happens exactly once, at post assembly; callers must not apply it
// again on the way out.
func ClampDistance(miles float64) float64 {
	if miles < DisplayFloorMiles {
		return DisplayFloorMiles
	}
	return miles
}
