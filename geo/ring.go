package geo

import (
	"strconv"

	apperrors "github.com/cobrun/geofence/errors"
)

// Ring is a closed sequence of coordinates. A Ring produced by Normalize
// satisfies: first == last, len >= 4, and no two consecutive coordinates are
// equal.
type Ring []Coordinate

// NormalizeOptions tune Normalize. The zero value applies no vertex limit.
type NormalizeOptions struct {
	// MaxVertices caps the number of distinct vertices. Zero means unlimited.
	MaxVertices int
}

// Normalize builds a Ring from a raw coordinate sequence.
//
// Coordinates must be finite and within WGS84 range (InvalidCoordinate,
// reporting the offending index). Consecutive duplicates are collapsed, then
// the ring is closed by appending the first coordinate unless the last one
// already equals it. Fewer than three distinct coordinates is
// InsufficientVertices. Equality is exact.
func Normalize(coords []Coordinate) (Ring, error) {
	return NormalizeWithOptions(coords, NormalizeOptions{})
}

// NormalizeWithOptions is Normalize with limits applied.
func NormalizeWithOptions(coords []Coordinate, opts NormalizeOptions) (Ring, error) {
	for i, c := range coords {
		if err := validateCoordinate(i, c); err != nil {
			return nil, err
		}
	}

	ring := make(Ring, 0, len(coords)+1)
	for _, c := range coords {
		if len(ring) > 0 && ring[len(ring)-1].Equal(c) {
			continue
		}
		ring = append(ring, c)
	}

	distinct := countDistinct(ring)
	if distinct < 3 {
		return nil, apperrors.InsufficientVertices(distinct)
	}
	if opts.MaxVertices > 0 && distinct > opts.MaxVertices {
		return nil, apperrors.InvalidCoordinate(opts.MaxVertices, "ring", "polygon has too many vertices").
			WithDetail("reason", "too_many_vertices").
			WithDetail("max", strconv.Itoa(opts.MaxVertices))
	}

	if !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func countDistinct(coords []Coordinate) int {
	seen := make(map[Coordinate]struct{}, len(coords))
	for _, c := range coords {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// IsClosed reports whether the first and last coordinates are equal.
func (r Ring) IsClosed() bool {
	return len(r) > 0 && r[0].Equal(r[len(r)-1])
}

// Vertices returns the ring without its closing coordinate. The result
// aliases r.
func (r Ring) Vertices() []Coordinate {
	if r.IsClosed() && len(r) > 1 {
		return r[:len(r)-1]
	}
	return r
}

// Equal compares coordinate by coordinate, exactly.
func (r Ring) Equal(o Ring) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Reverse returns a new ring with the opposite orientation.
func (r Ring) Reverse() Ring {
	out := make(Ring, len(r))
	for i, c := range r {
		out[len(r)-1-i] = c
	}
	return out
}

// Bounds returns the ring's bounding box. The zero Bounds is returned for an
// empty ring.
func (r Ring) Bounds() Bounds {
	if len(r) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLng: r[0].Lng, MaxLng: r[0].Lng, MinLat: r[0].Lat, MaxLat: r[0].Lat}
	for _, c := range r[1:] {
		if c.Lng < b.MinLng {
			b.MinLng = c.Lng
		}
		if c.Lng > b.MaxLng {
			b.MaxLng = c.Lng
		}
		if c.Lat < b.MinLat {
			b.MinLat = c.Lat
		}
		if c.Lat > b.MaxLat {
			b.MaxLat = c.Lat
		}
	}
	return b
}

// SignedArea is the planar shoelace area in square degrees. Positive for
// counter-clockwise rings, negative for clockwise ones.
func (r Ring) SignedArea() float64 {
	v := r.Vertices()
	n := len(v)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += v[i].Lng*v[j].Lat - v[j].Lng*v[i].Lat
	}
	return sum / 2
}

// Area is the absolute planar area in square degrees.
func (r Ring) Area() float64 {
	a := r.SignedArea()
	if a < 0 {
		return -a
	}
	return a
}

// Clockwise reports whether the ring winds clockwise.
func (r Ring) Clockwise() bool {
	return r.SignedArea() < 0
}

// Pairs returns the ring as [[lng, lat], ...].
func (r Ring) Pairs() [][]float64 {
	out := make([][]float64, len(r))
	for i, c := range r {
		out[i] = c.Pair()
	}
	return out
}
