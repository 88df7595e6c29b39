// Package geo implements the polygon geometry engine: codec, ring
// normalization, self-intersection detection, antimeridian classification and
// intersection against a corpus of accepted polygons.
//
// All functions are pure. Nothing in this package retains state between calls
// or mutates its inputs.
package geo

import (
	"fmt"
	"math"

	apperrors "github.com/cobrun/geofence/errors"
)

// Coordinate is a (longitude, latitude) pair in degrees.
type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// C is shorthand for Coordinate{Lng: lng, Lat: lat}.
func C(lng, lat float64) Coordinate {
	return Coordinate{Lng: lng, Lat: lat}
}

// IsValid checks that both components are finite and inside the WGS84 range.
func (c Coordinate) IsValid() bool {
	return validateCoordinate(0, c) == nil
}

// Equal uses exact float comparison.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.Lng == o.Lng && c.Lat == o.Lat
}

// Less orders by longitude, then latitude.
func (c Coordinate) Less(o Coordinate) bool {
	if c.Lng != o.Lng {
		return c.Lng < o.Lng
	}
	return c.Lat < o.Lat
}

// Pair returns the coordinate as [lng, lat].
func (c Coordinate) Pair() []float64 {
	return []float64{c.Lng, c.Lat}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%g %g)", c.Lng, c.Lat)
}

// CoordinatesFromPairs converts [[lng, lat], ...] into coordinates.
// Pairs with fewer than two values are InvalidCoordinate; extra ordinates
// (Z, M) are dropped.
func CoordinatesFromPairs(pairs [][]float64) ([]Coordinate, error) {
	coords := make([]Coordinate, len(pairs))
	for i, p := range pairs {
		if len(p) < 2 {
			return nil, apperrors.InvalidCoordinate(i, "pair", "coordinate must have longitude and latitude")
		}
		coords[i] = Coordinate{Lng: p[0], Lat: p[1]}
	}
	return coords, nil
}

func validateCoordinate(i int, c Coordinate) *apperrors.AppError {
	switch {
	case math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0):
		return apperrors.InvalidCoordinate(i, "lng", "longitude is not a finite number")
	case math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0):
		return apperrors.InvalidCoordinate(i, "lat", "latitude is not a finite number")
	case c.Lng < -180 || c.Lng > 180:
		return apperrors.InvalidCoordinate(i, "lng", "longitude out of range [-180, 180]")
	case c.Lat < -90 || c.Lat > 90:
		return apperrors.InvalidCoordinate(i, "lat", "latitude out of range [-90, 90]")
	}
	return nil
}

// Bounds is an axis-aligned bounding box in degrees.
type Bounds struct {
	MinLng, MinLat float64
	MaxLng, MaxLat float64
}

// Overlaps reports whether the boxes share any point, boundaries included.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// LngSpan is MaxLng - MinLng.
func (b Bounds) LngSpan() float64 {
	return b.MaxLng - b.MinLng
}
