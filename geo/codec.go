package geo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	apperrors "github.com/cobrun/geofence/errors"
)

// DefaultSRID is WGS84, the only reference system the engine reasons in.
const DefaultSRID = 4326

var sridTag = regexp.MustCompile(`(?i)^\s*(?:srid\s*=|epsg:)\s*(\d+)\s*$`)

// Geometry is a decoded single-ring polygon. Ring is the outer ring exactly as
// written; it has not been normalized. SRID is zero when the text carried no
// spatial reference tag.
type Geometry struct {
	Ring Ring
	SRID int
}

// SourceKind discriminates the representations a Source can hold.
type SourceKind int

const (
	SourceCoordinates SourceKind = iota
	SourceText
	SourceGeoJSON
)

func (k SourceKind) String() string {
	switch k {
	case SourceCoordinates:
		return "coordinates"
	case SourceText:
		return "text"
	case SourceGeoJSON:
		return "geojson"
	}
	return "unknown"
}

// Source is the boundary representation of candidate or corpus geometry: a
// raw coordinate sequence, geometry text (WKT, EWKT or GeoJSON), or a GeoJSON
// document. It is resolved once by Decode and never passed further inward.
type Source struct {
	kind   SourceKind
	coords []Coordinate
	text   string
	raw    []byte
}

// FromCoordinates wraps an ordered coordinate sequence, closed or not.
func FromCoordinates(coords []Coordinate) Source {
	return Source{kind: SourceCoordinates, coords: coords}
}

// FromText wraps WKT, SRID-prefixed WKT or GeoJSON text.
func FromText(text string) Source {
	return Source{kind: SourceText, text: text}
}

// FromGeoJSON wraps a GeoJSON Polygon geometry or Feature.
func FromGeoJSON(raw []byte) Source {
	return Source{kind: SourceGeoJSON, raw: raw}
}

// Kind returns the representation held by s.
func (s Source) Kind() SourceKind {
	return s.kind
}

// Decode resolves s to its raw outer ring.
func (s Source) Decode() (*Geometry, error) {
	switch s.kind {
	case SourceCoordinates:
		ring := make(Ring, len(s.coords))
		copy(ring, s.coords)
		return &Geometry{Ring: ring}, nil
	case SourceText:
		return DecodeText(s.text)
	case SourceGeoJSON:
		return DecodeGeoJSON(s.raw)
	}
	return nil, apperrors.MalformedGeometry(fmt.Sprintf("unknown geometry source %d", s.kind), nil)
}

// DecodeText parses geometry text. Text starting with '{' is read as GeoJSON;
// anything else as WKT with an optional "SRID=n;" style prefix.
func DecodeText(text string) (*Geometry, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return DecodeGeoJSON([]byte(trimmed))
	}
	return DecodeWKT(trimmed)
}

// DecodeWKT parses a WKT POLYGON, stripping a leading spatial reference tag.
// Only the outer ring is returned; interior rings are discarded.
func DecodeWKT(text string) (*Geometry, error) {
	body, srid := splitSRID(text)
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.MalformedGeometry("geometry text is empty", nil)
	}

	g, err := wkt.Unmarshal(body)
	if err != nil {
		return nil, apperrors.MalformedGeometry("cannot parse WKT", err)
	}

	ring, err := outerRing(g)
	if err != nil {
		return nil, err
	}
	return &Geometry{Ring: ring, SRID: srid}, nil
}

// DecodeGeoJSON parses a GeoJSON Polygon geometry or a Feature wrapping one.
func DecodeGeoJSON(data []byte) (*Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, apperrors.MalformedGeometry("cannot parse GeoJSON", err)
	}

	var g geom.T
	switch probe.Type {
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, apperrors.MalformedGeometry("cannot parse GeoJSON feature", err)
		}
		g = f.Geometry
	default:
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, apperrors.MalformedGeometry("cannot parse GeoJSON geometry", err)
		}
	}

	ring, err := outerRing(g)
	if err != nil {
		return nil, err
	}
	return &Geometry{Ring: ring, SRID: DefaultSRID}, nil
}

// splitSRID strips "tag;" from the front of text. The SRID is parsed from
// SRID=n or EPSG:n tags and is zero otherwise.
func splitSRID(text string) (string, int) {
	semi := strings.IndexByte(text, ';')
	if semi < 0 || strings.ContainsAny(text[:semi], "()") {
		return text, 0
	}

	srid := 0
	if m := sridTag.FindStringSubmatch(text[:semi]); m != nil {
		srid, _ = strconv.Atoi(m[1])
	}
	return text[semi+1:], srid
}

func outerRing(g geom.T) (Ring, error) {
	poly, ok := g.(*geom.Polygon)
	if !ok || poly == nil {
		return nil, apperrors.MalformedGeometry(fmt.Sprintf("expected a polygon, got %s", typeName(g)), nil)
	}
	if poly.NumLinearRings() == 0 {
		return nil, apperrors.MalformedGeometry("polygon has no rings", nil)
	}

	// Z and M ordinates are dropped, as for coordinate pairs.
	coords := poly.LinearRing(0).Coords()
	ring := make(Ring, len(coords))
	for i, c := range coords {
		ring[i] = Coordinate{Lng: c.X(), Lat: c.Y()}
	}
	return ring, nil
}

func typeName(g geom.T) string {
	if g == nil {
		return "nothing"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", g), "*geom.")
}

func toGeomPolygon(r Ring) (*geom.Polygon, error) {
	coords := make([]geom.Coord, len(r))
	for i, c := range r {
		coords[i] = geom.Coord{c.Lng, c.Lat}
	}
	return geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
}

// EncodeWKT serializes a ring as a WKT POLYGON. DecodeWKT(EncodeWKT(r))
// yields r exactly.
func EncodeWKT(r Ring) (string, error) {
	poly, err := toGeomPolygon(r)
	if err != nil {
		return "", apperrors.MalformedGeometry("cannot build polygon", err)
	}
	s, err := wkt.Marshal(poly)
	if err != nil {
		return "", apperrors.MalformedGeometry("cannot encode WKT", err)
	}
	return s, nil
}

// EncodeEWKT serializes a ring as "SRID=n;POLYGON (...)".
func EncodeEWKT(r Ring, srid int) (string, error) {
	s, err := EncodeWKT(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SRID=%d;%s", srid, s), nil
}

// EncodeGeoJSON serializes one ring as a GeoJSON Polygon, or several as a
// MultiPolygon of single-ring polygons.
func EncodeGeoJSON(rings ...Ring) (json.RawMessage, error) {
	var g geom.T
	switch len(rings) {
	case 0:
		return nil, apperrors.MalformedGeometry("no rings to encode", nil)
	case 1:
		poly, err := toGeomPolygon(rings[0])
		if err != nil {
			return nil, apperrors.MalformedGeometry("cannot build polygon", err)
		}
		g = poly
	default:
		multi := geom.NewMultiPolygon(geom.XY)
		for _, r := range rings {
			poly, err := toGeomPolygon(r)
			if err != nil {
				return nil, apperrors.MalformedGeometry("cannot build polygon", err)
			}
			if err := multi.Push(poly); err != nil {
				return nil, apperrors.MalformedGeometry("cannot build multipolygon", err)
			}
		}
		g = multi
	}

	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, apperrors.MalformedGeometry("cannot encode GeoJSON", err)
	}
	return data, nil
}

// EncodeFeature wraps a ring as a GeoJSON Feature.
func EncodeFeature(id string, r Ring, properties map[string]interface{}) (*geojson.Feature, error) {
	poly, err := toGeomPolygon(r)
	if err != nil {
		return nil, apperrors.MalformedGeometry("cannot build polygon", err)
	}
	return &geojson.Feature{ID: id, Geometry: poly, Properties: properties}, nil
}
