// Package geo contains pure geographic computation helpers.
package geo

import (
	"errors"
	"math"
)

const earthRadiusMeters = 6371000.0

// defaultSpeedKmh is the assumed average vehicle speed for travel estimates.
const defaultSpeedKmh = 25.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// DistanceMeters returns the great-circle distance in whole meters between two
// points specified in decimal degrees, using the Haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) (int, error) {
	for _, lat := range []float64{lat1, lat2} {
		if math.IsNaN(lat) || lat < -90 || lat > 90 {
			return 0, ErrInvalidCoordinate
		}
	}
	for _, lng := range []float64{lng1, lng2} {
		if math.IsNaN(lng) || lng < -180 || lng > 180 {
			return 0, ErrInvalidCoordinate
		}
	}

	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return int(earthRadiusMeters * c), nil
}

// IsWithinRadius reports whether a point lies within radiusMeters of a center.
func IsWithinRadius(centerLat, centerLng, pointLat, pointLng float64, radiusMeters int) (bool, error) {
	d, err := DistanceMeters(centerLat, centerLng, pointLat, pointLng)
	if err != nil {
		return false, err
	}
	return d <= radiusMeters, nil
}

// EstimateTravelSeconds estimates travel time for a distance at the default
// average speed. Pass speedKmh <= 0 to use the default.
func EstimateTravelSeconds(distanceMeters int, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = defaultSpeedKmh
	}
	hours := float64(distanceMeters) / 1000.0 / speedKmh
	return int(hours * 3600)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
