package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cobrun/geofence/errors"
)

func TestDecodeWKT(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantRing Ring
		wantSRID int
	}{
		{
			name:     "plain",
			text:     "POLYGON ((0 0, 0 1, 1 1, 1 0, 0 0))",
			wantRing: Ring{C(0, 0), C(0, 1), C(1, 1), C(1, 0), C(0, 0)},
		},
		{
			name:     "srid prefix",
			text:     "SRID=4326;POLYGON ((30 10, 40 40, 20 40, 10 20, 30 10))",
			wantRing: Ring{C(30, 10), C(40, 40), C(20, 40), C(10, 20), C(30, 10)},
			wantSRID: 4326,
		},
		{
			name:     "epsg prefix with spaces",
			text:     "  EPSG:3857 ; POLYGON ((0 0, 0 1, 1 1, 0 0))",
			wantRing: Ring{C(0, 0), C(0, 1), C(1, 1), C(0, 0)},
			wantSRID: 3857,
		},
		{
			name:     "hole discarded",
			text:     "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 3 2, 3 3, 2 2))",
			wantRing: Ring{C(0, 0), C(10, 0), C(10, 10), C(0, 10), C(0, 0)},
		},
		{
			name:     "negative and fractional",
			text:     "POLYGON ((-73.9857 40.7484, -73.98 40.75, -73.99 40.76, -73.9857 40.7484))",
			wantRing: Ring{C(-73.9857, 40.7484), C(-73.98, 40.75), C(-73.99, 40.76), C(-73.9857, 40.7484)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := DecodeText(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRing, g.Ring)
			assert.Equal(t, tt.wantSRID, g.SRID)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prefix only", "SRID=4326;"},
		{"garbage", "not a polygon"},
		{"point", "POINT (1 2)"},
		{"linestring", "LINESTRING (0 0, 1 1)"},
		{"empty polygon", "POLYGON EMPTY"},
		{"unbalanced", "POLYGON ((0 0, 0 1, 1 1, 0 0)"},
		{"geojson point", `{"type":"Point","coordinates":[1,2]}`},
		{"broken json", `{"type":"Polygon","coordinates":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeText(tt.text)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeMalformedGeometry, apperrors.Code(err))
		})
	}
}

func TestDecodeGeoJSON(t *testing.T) {
	polygon := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}`
	feature := `{"type":"Feature","properties":{"name":"a"},"geometry":` + polygon + `}`
	want := Ring{C(0, 0), C(0, 1), C(1, 1), C(1, 0), C(0, 0)}

	for name, doc := range map[string]string{"geometry": polygon, "feature": feature} {
		t.Run(name, func(t *testing.T) {
			g, err := FromGeoJSON([]byte(doc)).Decode()
			require.NoError(t, err)
			assert.Equal(t, want, g.Ring)
			assert.Equal(t, DefaultSRID, g.SRID)
		})
	}
}

func TestDecode_DropsExtraOrdinates(t *testing.T) {
	want := Ring{C(0, 0), C(0, 1), C(1, 1), C(1, 0), C(0, 0)}
	pairs, err := CoordinatesFromPairs([][]float64{{0, 0, 7}, {0, 1, 7}, {1, 1, 7}, {1, 0, 7}, {0, 0, 7}})
	require.NoError(t, err)

	tests := []struct {
		name string
		src  Source
	}{
		{"wkt z", FromText("POLYGON Z ((0 0 5, 0 1 5, 1 1 5, 1 0 5, 0 0 5))")},
		{"wkt m", FromText("SRID=4326;POLYGON M ((0 0 2, 0 1 2, 1 1 2, 1 0 2, 0 0 2))")},
		{"wkt zm", FromText("POLYGON ZM ((0 0 5 2, 0 1 5 2, 1 1 5 2, 1 0 5 2, 0 0 5 2))")},
		{"geojson z", FromGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[0,0,5],[0,1,5],[1,1,5],[1,0,5],[0,0,5]]]}`))},
		{"pairs", FromCoordinates(pairs)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.src.Decode()
			require.NoError(t, err)
			assert.Equal(t, want, g.Ring)
		})
	}
}

func TestEncodeWKT_RoundTrip(t *testing.T) {
	rings := []Ring{
		{C(0, 0), C(0, 1), C(1, 1), C(1, 0), C(0, 0)},
		{C(-179.999999, -89.5), C(179.25, 0.1), C(12.345678901234, 45.000000001), C(-179.999999, -89.5)},
		{C(0.1, 0.2), C(0.30000000000000004, 1e-9), C(-1e-7, 3), C(0.1, 0.2)},
	}

	for _, r := range rings {
		text, err := EncodeWKT(r)
		require.NoError(t, err)

		g, err := DecodeWKT(text)
		require.NoError(t, err)
		assert.True(t, r.Equal(g.Ring), "round trip of %v via %q gave %v", r, text, g.Ring)

		ewkt, err := EncodeEWKT(r, DefaultSRID)
		require.NoError(t, err)
		g, err = DecodeText(ewkt)
		require.NoError(t, err)
		assert.True(t, r.Equal(g.Ring))
		assert.Equal(t, DefaultSRID, g.SRID)
	}
}

func TestEncodeGeoJSON(t *testing.T) {
	a := Ring{C(0, 0), C(0, 1), C(1, 1), C(0, 0)}
	b := Ring{C(5, 5), C(5, 6), C(6, 6), C(5, 5)}

	single, err := EncodeGeoJSON(a)
	require.NoError(t, err)
	var doc struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(single, &doc))
	assert.Equal(t, "Polygon", doc.Type)

	g, err := DecodeGeoJSON(single)
	require.NoError(t, err)
	assert.True(t, a.Equal(g.Ring))

	multi, err := EncodeGeoJSON(a, b)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(multi, &doc))
	assert.Equal(t, "MultiPolygon", doc.Type)

	_, err = EncodeGeoJSON()
	assert.Error(t, err)
}

func TestSource_Kinds(t *testing.T) {
	coords := []Coordinate{C(0, 0), C(0, 1), C(1, 1)}
	src := FromCoordinates(coords)
	assert.Equal(t, SourceCoordinates, src.Kind())

	g, err := src.Decode()
	require.NoError(t, err)
	g.Ring[0] = C(9, 9)
	assert.Equal(t, C(0, 0), coords[0], "decode must not alias the caller's slice")

	assert.Equal(t, SourceText, FromText("POLYGON ((0 0, 0 1, 1 1, 0 0))").Kind())
	assert.Equal(t, "geojson", FromGeoJSON(nil).Kind().String())
}

func TestEncodeFeature(t *testing.T) {
	r := mustRing(t, C(0, 0), C(0, 1), C(1, 1), C(1, 0))

	f, err := EncodeFeature("p-1", r, map[string]interface{}{"name": "north"})
	require.NoError(t, err)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var probe struct {
		Type       string                 `json:"type"`
		ID         string                 `json:"id"`
		Properties map[string]interface{} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &probe))
	assert.Equal(t, "Feature", probe.Type)
	assert.Equal(t, "p-1", probe.ID)
	assert.Equal(t, "north", probe.Properties["name"])

	g, err := DecodeGeoJSON(data)
	require.NoError(t, err)
	assert.True(t, r.Equal(g.Ring))
}
