package geo

// Polygon is a single outer ring with an identity. Holes are not modelled.
type Polygon struct {
	ID                  string `json:"id,omitempty"`
	Name                string `json:"name"`
	Ring                Ring   `json:"ring"`
	CrossesAntimeridian bool   `json:"crosses_antimeridian"`
}

// NewPolygon normalizes coords and classifies the result. The returned
// polygon owns a fresh ring.
func NewPolygon(id, name string, coords []Coordinate) (*Polygon, error) {
	ring, err := Normalize(coords)
	if err != nil {
		return nil, err
	}
	return &Polygon{
		ID:                  id,
		Name:                name,
		Ring:                ring,
		CrossesAntimeridian: CrossesAntimeridian(ring),
	}, nil
}

// Bounds returns the bounding box of the outer ring.
func (p *Polygon) Bounds() Bounds {
	return p.Ring.Bounds()
}

// Area returns the planar area in square degrees.
func (p *Polygon) Area() float64 {
	return p.Ring.Area()
}

// Contains checks if a coordinate is strictly inside the polygon using ray
// casting. Points on the boundary may land on either side.
func (p *Polygon) Contains(c Coordinate) bool {
	v := p.Ring.Vertices()
	n := len(v)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := v[i], v[j]
		if (vi.Lat > c.Lat) != (vj.Lat > c.Lat) &&
			c.Lng < (vj.Lng-vi.Lng)*(c.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			inside = !inside
		}
		j = i
	}
	return inside
}

// WithRing returns a copy of p carrying ring and its derived attributes.
func (p *Polygon) WithRing(ring Ring) *Polygon {
	cp := *p
	cp.Ring = ring
	cp.CrossesAntimeridian = CrossesAntimeridian(ring)
	return &cp
}
