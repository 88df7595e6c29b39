package geo

// AntimeridianSpan is the longitude span above which a ring is treated as
// crossing the ±180° meridian.
const AntimeridianSpan = 180.0

// CrossesAntimeridian classifies a ring by its naive longitude span: a ring
// whose max longitude minus min longitude exceeds 180° is taken to wrap
// around the antimeridian. The result is descriptive only and never
// invalidates a polygon.
func CrossesAntimeridian(r Ring) bool {
	if len(r) == 0 {
		return false
	}
	return r.Bounds().LngSpan() > AntimeridianSpan
}

// WrapLongitudes shifts longitudes greater than 180 down by 360, so input
// drawn past the antimeridian on an unwrapped map lands in range. It reports
// whether any coordinate was shifted. The input slice is not modified.
func WrapLongitudes(coords []Coordinate) ([]Coordinate, bool) {
	out := make([]Coordinate, len(coords))
	wrapped := false
	for i, c := range coords {
		if c.Lng > 180 {
			c.Lng -= 360
			wrapped = true
		}
		out[i] = c
	}
	return out, wrapped
}
