package geo

import (
	"math"
	"sort"
)

// Kink is a point where two non-adjacent edges of a ring meet. Edge k joins
// ring[k] and ring[k+1]. Collinear is set when the edges overlap along a
// segment rather than meeting at a single point; Point is then the first
// shared endpoint found.
type Kink struct {
	EdgeI     int        `json:"edge_i"`
	EdgeJ     int        `json:"edge_j"`
	Point     Coordinate `json:"point"`
	Collinear bool       `json:"collinear,omitempty"`
}

type edge struct {
	idx        int
	a, b       Coordinate
	minX, maxX float64
	minY, maxY float64
}

// FindSelfIntersections reports every pair of non-adjacent edges of a
// normalized ring that intersect, ordered by (EdgeI, EdgeJ). Edges sharing
// an endpoint in ring order, including the first and last edge, are never
// compared. Non-adjacent edges that only touch at a vertex are reported.
//
// Arithmetic is exact float64 cross products with no tolerance, so nearly
// touching edges that differ in the last bit are not reported.
func FindSelfIntersections(r Ring) []Kink {
	if !r.IsClosed() && len(r) > 0 {
		closed := make(Ring, len(r), len(r)+1)
		copy(closed, r)
		r = append(closed, r[0])
	}

	m := len(r) - 1
	if m < 4 {
		// A triangle has only adjacent edge pairs.
		return nil
	}

	edges := make([]edge, m)
	for k := 0; k < m; k++ {
		a, b := r[k], r[k+1]
		edges[k] = edge{
			idx:  k,
			a:    a,
			b:    b,
			minX: math.Min(a.Lng, b.Lng),
			maxX: math.Max(a.Lng, b.Lng),
			minY: math.Min(a.Lat, b.Lat),
			maxY: math.Max(a.Lat, b.Lat),
		}
	}

	sorted := make([]edge, m)
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].minX < sorted[j].minX })

	var kinks []Kink
	for s := 0; s < m; s++ {
		e := sorted[s]
		for t := s + 1; t < m && sorted[t].minX <= e.maxX; t++ {
			o := sorted[t]
			if o.minY > e.maxY || o.maxY < e.minY {
				continue
			}
			i, j := e.idx, o.idx
			if i > j {
				i, j = j, i
			}
			if adjacent(i, j, m) {
				continue
			}
			if p, collinear, ok := segmentIntersection(edges[i].a, edges[i].b, edges[j].a, edges[j].b); ok {
				kinks = append(kinks, Kink{EdgeI: i, EdgeJ: j, Point: p, Collinear: collinear})
			}
		}
	}

	sort.Slice(kinks, func(a, b int) bool {
		if kinks[a].EdgeI != kinks[b].EdgeI {
			return kinks[a].EdgeI < kinks[b].EdgeI
		}
		return kinks[a].EdgeJ < kinks[b].EdgeJ
	})
	return kinks
}

// IsSimple reports whether the ring has no self-intersections.
func IsSimple(r Ring) bool {
	return len(FindSelfIntersections(r)) == 0
}

func adjacent(i, j, m int) bool {
	return j == i+1 || (i == 0 && j == m-1)
}

// orient is the cross product (b-a) x (c-a): positive when c lies left of
// the directed line a->b, negative when right, zero when collinear.
func orient(a, b, c Coordinate) float64 {
	return (b.Lng-a.Lng)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lng-a.Lng)
}

// within reports whether p, known to be collinear with a-b, lies on the
// closed segment a-b.
func within(a, b, p Coordinate) bool {
	return math.Min(a.Lng, b.Lng) <= p.Lng && p.Lng <= math.Max(a.Lng, b.Lng) &&
		math.Min(a.Lat, b.Lat) <= p.Lat && p.Lat <= math.Max(a.Lat, b.Lat)
}

func opposite(x, y float64) bool {
	return (x > 0 && y < 0) || (x < 0 && y > 0)
}

// segmentIntersection tests closed segments p1-p2 and q1-q2. It returns the
// meeting point, whether the segments are collinear and overlapping, and
// whether they meet at all.
func segmentIntersection(p1, p2, q1, q2 Coordinate) (Coordinate, bool, bool) {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)

	if opposite(d1, d2) && opposite(d3, d4) {
		t := d1 / (d1 - d2)
		return Coordinate{
			Lng: p1.Lng + t*(p2.Lng-p1.Lng),
			Lat: p1.Lat + t*(p2.Lat-p1.Lat),
		}, false, true
	}

	collinear := d1 == 0 && d2 == 0 && d3 == 0 && d4 == 0
	switch {
	case d1 == 0 && within(q1, q2, p1):
		return p1, collinear, true
	case d2 == 0 && within(q1, q2, p2):
		return p2, collinear, true
	case d3 == 0 && within(p1, p2, q1):
		return q1, collinear, true
	case d4 == 0 && within(p1, p2, q2):
		return q2, collinear, true
	}
	return Coordinate{}, false, false
}
