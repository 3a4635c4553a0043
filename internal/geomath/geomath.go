package geomath

import (
	"errors"
	"math"

	"github.com/example/courier-dispatch/internal/models"
)

// ErrInvalidCoordinate is returned for NaN/Inf or out-of-range lat/lng.
var ErrInvalidCoordinate = errors.New("geomath: invalid coordinate")

const earthRadiusKm = 6371.0

// ValidateCoord rejects NaN, Inf and coordinates outside WGS84 bounds.
func ValidateCoord(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return ErrInvalidCoordinate
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// DistanceKm returns the haversine great-circle distance in kilometers.
func DistanceKm(a, b models.Coord) (float64, error) {
	if err := ValidateCoord(a); err != nil {
		return 0, err
	}
	if err := ValidateCoord(b); err != nil {
		return 0, err
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c, nil
}

// WithinRadius reports whether point lies within radiusKm of center.
func WithinRadius(center, point models.Coord, radiusKm float64) (bool, error) {
	d, err := DistanceKm(center, point)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}

// ShortestHeadingDelta returns the signed delta in (-180, 180] that rotates
// from to to by the shorter path, e.g. 350° -> 10° yields +20, not -340.
func ShortestHeadingDelta(fromDeg, toDeg float64) float64 {
	d := math.Mod(toDeg-fromDeg, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// NormalizeHeading maps any angle onto [0, 360).
func NormalizeHeading(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	return m
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
