package geo

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/cobrun/geofence/errors"
)

// IntersectionRecord names a corpus polygon that overlaps the candidate and
// carries the overlap region. Index is the member's position in the corpus.
type IntersectionRecord struct {
	Index int     `json:"-"`
	ID    string  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Rings []Ring  `json:"rings"`
	Area  float64 `json:"area"`
}

// IntersectOptions control IntersectWithCorpus.
type IntersectOptions struct {
	// ExcludeID skips the corpus member with this id, typically the stored
	// version of the polygon being edited.
	ExcludeID string
	// Workers bounds parallel clipping. Zero means GOMAXPROCS.
	Workers int
	// Skip receives members whose clipping failed, in corpus order, after
	// all members are checked. Those members produce no record.
	Skip func(index int, err error)
}

// indexed is a corpus member held in the rtree.
type indexed struct {
	geom.Polygon
	i int
}

// clip is swapped in tests to simulate clipper failures.
var clip = func(a, b geom.Polygon) geom.Polygon {
	return a.Intersection(b)
}

// IntersectWithCorpus clips candidate against every corpus member whose
// interior it overlaps and returns one record per conflicting member, in
// corpus order. Members touching the candidate only along edges or at points
// produce no record. Members sharing the candidate's id or opts.ExcludeID are
// skipped. A member whose clipping fails is reported to opts.Skip and does
// not fail the call. An empty corpus yields no records.
//
// Both candidate and corpus rings must already be normalized.
func IntersectWithCorpus(ctx context.Context, candidate *Polygon, corpus []*Polygon, opts IntersectOptions) ([]IntersectionRecord, error) {
	if len(corpus) == 0 {
		return nil, nil
	}

	tree := rtree.NewTree(25, 50)
	for i, member := range corpus {
		if member == nil || excluded(candidate, member, opts.ExcludeID) {
			continue
		}
		tree.Insert(indexed{Polygon: toClip(member.Ring), i: i})
	}

	var hits []int
	for _, s := range tree.SearchIntersect(toClip(candidate.Ring).Bounds()) {
		hits = append(hits, s.(indexed).i)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Ints(hits)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	found := make([]*IntersectionRecord, len(hits))
	failed := make([]error, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, i := range hits {
		k, i := k, i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			member := corpus[i]
			rings, err := Intersect(candidate.Ring, member.Ring)
			if err != nil {
				failed[k] = err
				return nil
			}
			if len(rings) == 0 {
				return nil
			}
			rec := &IntersectionRecord{Index: i, ID: member.ID, Name: member.Name, Rings: rings}
			for _, r := range rings {
				rec.Area += r.Area()
			}
			found[k] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []IntersectionRecord
	for k, rec := range found {
		if failed[k] != nil && opts.Skip != nil {
			opts.Skip(hits[k], failed[k])
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func excluded(candidate, member *Polygon, excludeID string) bool {
	if member.ID == "" {
		return false
	}
	return member.ID == excludeID || (candidate != nil && member.ID == candidate.ID)
}

// Intersect returns the canonical rings of the region shared by the interiors
// of a and b. Zero-area pieces are dropped, so rings that only touch yield
// nothing. Output rings are wound like a.
func Intersect(a, b Ring) (rings []Ring, err error) {
	defer func() {
		if r := recover(); r != nil {
			rings, err = nil, apperrors.Internal(fmt.Sprintf("polygon clipping failed: %v", r))
		}
	}()

	clipped := clip(toClip(a), toClip(b))
	clockwise := a.Clockwise()
	for _, path := range clipped {
		r := make(Ring, len(path))
		for i, p := range path {
			r[i] = Coordinate{Lng: p.X, Lat: p.Y}
		}
		if c := Canonicalize(r, clockwise); c != nil && c.Area() > 0 {
			rings = append(rings, c)
		}
	}
	return rings, nil
}

// toClip converts a ring to the clipping library's polygon, dropping the
// closing coordinate since contours are implicitly closed.
func toClip(r Ring) geom.Polygon {
	v := r.Vertices()
	path := make([]geom.Point, len(v))
	for i, c := range v {
		path[i] = geom.Point{X: c.Lng, Y: c.Lat}
	}
	return geom.Polygon{path}
}

// Canonicalize removes repeated and collinear vertices, starts the ring at
// its smallest (lng, lat) vertex, winds it clockwise or counter-clockwise as
// asked, and closes it. It returns nil if fewer than three vertices remain.
func Canonicalize(r Ring, clockwise bool) Ring {
	v := simplifyVertices(r.Vertices())
	if len(v) < 3 {
		return nil
	}

	start := 0
	for i := range v {
		if v[i].Less(v[start]) {
			start = i
		}
	}

	n := len(v)
	out := make(Ring, 0, n+1)
	for k := 0; k < n; k++ {
		out = append(out, v[(start+k)%n])
	}
	out = append(out, out[0])

	if out.Clockwise() != clockwise {
		rev := make(Ring, 0, n+1)
		rev = append(rev, out[0])
		for k := n - 1; k >= 1; k-- {
			rev = append(rev, out[k])
		}
		out = append(rev, out[0])
	}
	return out
}

// simplifyVertices drops cyclic duplicates and vertices lying on the straight
// line between their neighbours, repeating until nothing changes.
func simplifyVertices(in []Coordinate) []Coordinate {
	v := make([]Coordinate, 0, len(in))
	for _, c := range in {
		if len(v) > 0 && v[len(v)-1].Equal(c) {
			continue
		}
		v = append(v, c)
	}
	for len(v) > 1 && v[0].Equal(v[len(v)-1]) {
		v = v[:len(v)-1]
	}

	for changed := true; changed && len(v) >= 3; {
		changed = false
		n := len(v)
		for i := 0; i < n; i++ {
			prev, cur, next := v[(i+n-1)%n], v[i], v[(i+1)%n]
			if cur.Equal(next) || (orient(prev, cur, next) == 0 && within(prev, next, cur)) {
				v = append(v[:i], v[i+1:]...)
				changed = true
				break
			}
		}
	}
	return v
}
