package airquality

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b Coordinate) float64 {
	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// Nearest returns the candidate closest to c and its distance in km.
// It returns false when candidates is empty.
func Nearest(c Coordinate, candidates []ReferenceLocation) (ReferenceLocation, float64, bool) {
	if len(candidates) == 0 {
		return ReferenceLocation{}, 0, false
	}

	best := candidates[0]
	bestDist := HaversineKm(c, best.Coordinate)
	for _, loc := range candidates[1:] {
		if d := HaversineKm(c, loc.Coordinate); d < bestDist {
			best, bestDist = loc, d
		}
	}
	return best, bestDist, true
}
