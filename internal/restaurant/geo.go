package restaurant

import "math"

const earthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	d := 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}
