package geo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cobrun/geofence/errors"
)

// swapClip replaces the clipper for the duration of t.
func swapClip(t *testing.T, fn func(orig func(a, b geom.Polygon) geom.Polygon) func(a, b geom.Polygon) geom.Polygon) {
	orig := clip
	clip = fn(orig)
	t.Cleanup(func() { clip = orig })
}

func mustPolygon(t *testing.T, id, name string, coords ...Coordinate) *Polygon {
	t.Helper()
	p, err := NewPolygon(id, name, coords)
	require.NoError(t, err)
	return p
}

func square(t *testing.T, id, name string, x0, y0, x1, y1 float64) *Polygon {
	return mustPolygon(t, id, name, C(x0, y0), C(x0, y1), C(x1, y1), C(x1, y0))
}

func TestIntersectWithCorpus_OverlappingSquares(t *testing.T) {
	candidate := mustPolygon(t, "", "candidate", C(0, 0), C(0, 2), C(2, 2), C(2, 0), C(0, 0))
	corpus := []*Polygon{
		mustPolygon(t, "north", "north", C(1, 1), C(1, 3), C(3, 3), C(3, 1), C(1, 1)),
	}

	records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, "north", rec.ID)
	assert.Equal(t, "north", rec.Name)
	require.Len(t, rec.Rings, 1)
	assert.Equal(t, Ring{C(1, 1), C(1, 2), C(2, 2), C(2, 1), C(1, 1)}, rec.Rings[0])
	assert.Equal(t, 1.0, rec.Area)
}

func TestIntersectWithCorpus_EmptyCorpus(t *testing.T) {
	candidate := square(t, "", "candidate", 0, 0, 2, 2)

	records, err := IntersectWithCorpus(context.Background(), candidate, nil, IntersectOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIntersectWithCorpus_NoInteriorOverlap(t *testing.T) {
	candidate := square(t, "", "candidate", 0, 0, 2, 2)
	corpus := []*Polygon{
		// bounding boxes overlap but the shapes do not
		mustPolygon(t, "", "corner triangle", C(1.5, 3), C(3, 3), C(3, 1.5)),
		// touches at a single point
		square(t, "", "diagonal", 2, 2, 4, 4),
		// far away
		square(t, "", "remote", 50, 50, 51, 51),
	}

	records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIntersectWithCorpus_Exclusion(t *testing.T) {
	corpus := []*Polygon{square(t, "a", "stored", 1, 1, 3, 3)}

	t.Run("exclude id", func(t *testing.T) {
		candidate := square(t, "", "edited", 0, 0, 2, 2)
		records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{ExcludeID: "a"})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("candidate id", func(t *testing.T) {
		candidate := square(t, "a", "edited", 0, 0, 2, 2)
		records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("other id", func(t *testing.T) {
		candidate := square(t, "b", "edited", 0, 0, 2, 2)
		records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{ExcludeID: "c"})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestIntersectWithCorpus_PreservesCorpusOrder(t *testing.T) {
	candidate := square(t, "", "candidate", 0, 0, 10, 10)
	a := square(t, "", "a", 8, 8, 12, 12)
	b := square(t, "", "b", 20, 20, 30, 30)
	c := square(t, "", "c", -2, -2, 1, 1)
	d := square(t, "", "d", 4, -5, 6, 15)

	names := func(records []IntersectionRecord) []string {
		var out []string
		for _, r := range records {
			out = append(out, r.Name)
		}
		return out
	}

	for _, workers := range []int{1, 4} {
		records, err := IntersectWithCorpus(context.Background(), candidate, []*Polygon{a, b, c, d}, IntersectOptions{Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "d"}, names(records))
		assert.Equal(t, []int{0, 2, 3}, []int{records[0].Index, records[1].Index, records[2].Index})

		records, err = IntersectWithCorpus(context.Background(), candidate, []*Polygon{d, c, b, a}, IntersectOptions{Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c", "a"}, names(records))
	}
}

func TestIntersectWithCorpus_MultiPartIntersection(t *testing.T) {
	// A U shape crossed by a bar meets it in two separate pieces.
	candidate := mustPolygon(t, "", "u",
		C(0, 0), C(3, 0), C(3, 3), C(2, 3), C(2, 1), C(1, 1), C(1, 3), C(0, 3))
	bar := mustPolygon(t, "", "bar", C(-1, 2), C(4, 2), C(4, 2.5), C(-1, 2.5))

	records, err := IntersectWithCorpus(context.Background(), candidate, []*Polygon{bar}, IntersectOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Rings, 2)
	assert.InDelta(t, 1.0, records[0].Area, 1e-12)

	doc, err := EncodeGeoJSON(records[0].Rings...)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"MultiPolygon"`)
}

func TestIntersectWithCorpus_PrefiltersByBounds(t *testing.T) {
	var calls atomic.Int32
	swapClip(t, func(orig func(a, b geom.Polygon) geom.Polygon) func(a, b geom.Polygon) geom.Polygon {
		return func(a, b geom.Polygon) geom.Polygon {
			calls.Add(1)
			return orig(a, b)
		}
	})

	candidate := square(t, "", "candidate", 0, 0, 2, 2)
	corpus := make([]*Polygon, 0, 120)
	for i := 0; i < 120; i++ {
		x, y := float64(10+(i%12)*3), float64(10+(i/12)*3)
		corpus = append(corpus, square(t, fmt.Sprintf("far-%d", i), "far", x, y, x+1, y+1))
	}
	corpus[37] = square(t, "near-a", "near-a", 1, 1, 3, 3)
	corpus[88] = square(t, "near-b", "near-b", -1, -1, 1, 0.5)

	records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{Workers: 4})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 37, records[0].Index)
	assert.Equal(t, "near-a", records[0].ID)
	assert.Equal(t, 1.0, records[0].Area)
	assert.Equal(t, 88, records[1].Index)
	assert.Equal(t, "near-b", records[1].ID)
	assert.Equal(t, 0.5, records[1].Area)
	assert.Equal(t, int32(2), calls.Load(), "only members whose bounds meet the candidate are clipped")
}

func TestIntersectWithCorpus_SkipsUnclippableMember(t *testing.T) {
	swapClip(t, func(orig func(a, b geom.Polygon) geom.Polygon) func(a, b geom.Polygon) geom.Polygon {
		return func(a, b geom.Polygon) geom.Polygon {
			if b.Bounds().Min.X == 1.5 {
				panic("bad contour")
			}
			return orig(a, b)
		}
	})

	candidate := square(t, "", "candidate", 0, 0, 2, 2)
	corpus := []*Polygon{
		square(t, "a", "a", 1, 1, 3, 3),
		square(t, "broken", "broken", 1.5, 0, 2.5, 1),
		square(t, "c", "c", -1, -1, 0.5, 0.5),
	}

	var skipped []int
	var skipErr error
	records, err := IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{
		Skip: func(index int, err error) {
			skipped = append(skipped, index)
			skipErr = err
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
	assert.Equal(t, []int{1}, skipped)
	assert.Equal(t, apperrors.CodeInternal, apperrors.Code(skipErr))

	records, err = IntersectWithCorpus(context.Background(), candidate, corpus, IntersectOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIntersectWithCorpus_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidate := square(t, "", "candidate", 0, 0, 2, 2)
	corpus := []*Polygon{square(t, "", "overlap", 1, 1, 3, 3)}

	_, err := IntersectWithCorpus(ctx, candidate, corpus, IntersectOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Ring
		clockwise bool
		want      Ring
	}{
		{
			name:      "rotates to smallest vertex",
			in:        Ring{C(2, 2), C(2, 1), C(1, 1), C(1, 2), C(2, 2)},
			clockwise: true,
			want:      Ring{C(1, 1), C(1, 2), C(2, 2), C(2, 1), C(1, 1)},
		},
		{
			name:      "reverses winding",
			in:        Ring{C(1, 1), C(1, 2), C(2, 2), C(2, 1), C(1, 1)},
			clockwise: false,
			want:      Ring{C(1, 1), C(2, 1), C(2, 2), C(1, 2), C(1, 1)},
		},
		{
			name:      "drops collinear and repeated vertices",
			in:        Ring{C(0, 0), C(0, 1), C(0, 2), C(2, 2), C(2, 2), C(2, 0), C(1, 0), C(0, 0)},
			clockwise: true,
			want:      Ring{C(0, 0), C(0, 2), C(2, 2), C(2, 0), C(0, 0)},
		},
		{
			name:      "open input",
			in:        Ring{C(3, 0), C(0, 0), C(0, 3)},
			clockwise: true,
			want:      Ring{C(0, 0), C(0, 3), C(3, 0), C(0, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.in, tt.clockwise))
		})
	}

	assert.Nil(t, Canonicalize(Ring{C(0, 0), C(1, 1), C(2, 2), C(0, 0)}, false), "degenerate ring")
}

func TestCrossesAntimeridian(t *testing.T) {
	tests := []struct {
		name   string
		coords []Coordinate
		want   bool
	}{
		{"wide box", []Coordinate{C(170, 10), C(-170, 10), C(-170, 20), C(170, 20)}, true},
		{"regular box", []Coordinate{C(0, 0), C(0, 1), C(1, 1), C(1, 0)}, false},
		{"exactly half the globe", []Coordinate{C(-90, 0), C(90, 0), C(90, 10)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolygon(t, "", tt.name, tt.coords...)
			assert.Equal(t, tt.want, p.CrossesAntimeridian)
			assert.True(t, IsSimple(p.Ring), "classification never makes a ring invalid")
		})
	}
}

func TestWrapLongitudes(t *testing.T) {
	in := []Coordinate{C(170, 10), C(190, 10), C(190, 20), C(170, 20)}

	out, wrapped := WrapLongitudes(in)
	assert.True(t, wrapped)
	assert.Equal(t, []Coordinate{C(170, 10), C(-170, 10), C(-170, 20), C(170, 20)}, out)
	assert.Equal(t, C(190, 10), in[1])

	_, wrapped = WrapLongitudes([]Coordinate{C(0, 0), C(1, 1)})
	assert.False(t, wrapped)
}
