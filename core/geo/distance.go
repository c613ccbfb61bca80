// Package geo provides great-circle helpers used by unit matching.
package geo

import (
	"math"

	"github.com/medidispatch/dispatch-core/core/model"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Distance returns the haversine great-circle distance between a and b in
// kilometers. Inputs are assumed to be validated; the result is not rounded.
func Distance(a, b model.Coordinate) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := lat2 - lat1
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h slightly above 1 for antipodal points
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// ETAMinutes converts a distance into whole minutes at speedKmh, rounding up.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 || distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
