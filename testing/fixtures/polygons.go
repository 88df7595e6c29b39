// Package fixtures provides test data for unit and integration tests.
package fixtures

import (
	"fmt"

	"github.com/google/uuid"
)

// Square returns the WKT of an axis-aligned square with its south-west
// corner at (x, y).
func Square(x, y, size float64) string {
	return fmt.Sprintf("POLYGON ((%[1]g %[2]g, %[1]g %[4]g, %[3]g %[4]g, %[3]g %[2]g, %[1]g %[2]g))",
		x, y, x+size, y+size)
}

// Bowtie is a ring whose edges cross once at (1, 1).
const Bowtie = "POLYGON ((0 0, 2 2, 2 0, 0 2, 0 0))"

// Antimeridian spans the date line; its longitude span exceeds 180 degrees.
const Antimeridian = "POLYGON ((170 60, 170 70, -170 70, -170 60, 170 60))"

// Triangle is a minimal valid ring.
const Triangle = "POLYGON ((0 0, 0 1, 1 0, 0 0))"

// PolygonFixture is a named polygon.
type PolygonFixture struct {
	ID   string
	Name string
	WKT  string
}

// NewPolygon creates a fixture with a fresh id.
func NewPolygon(name, wkt string) PolygonFixture {
	return PolygonFixture{
		ID:   uuid.NewString(),
		Name: name,
		WKT:  wkt,
	}
}

// DisjointSquares returns n unit squares two units apart along the equator.
func DisjointSquares(n int) []PolygonFixture {
	out := make([]PolygonFixture, n)
	for i := range out {
		out[i] = NewPolygon(fmt.Sprintf("zone-%d", i), Square(float64(i*2), 0, 1))
	}
	return out
}
