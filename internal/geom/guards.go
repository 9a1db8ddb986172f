package geom

// Coverage restricts a source to a servable region. Queries whose bbox does
// not overlap the coverage yield a blank result instead of a render.
type Coverage struct {
	BBox BBox
	SRS  string
}

// Intersects reports whether the query bbox overlaps the coverage. A coverage
// declared for a different spatial reference never matches; reprojection is a
// concern of the layers above this service.
func (c *Coverage) Intersects(bbox BBox, srs string) bool {
	if c.SRS != "" && srs != "" && c.SRS != srs {
		return false
	}
	return c.BBox.Intersects(bbox)
}

// ResRange restricts a source to a band of map resolutions (map units per
// pixel). Min is the coarsest allowed resolution (exclusive), Max the finest
// (inclusive). A zero bound is open.
type ResRange struct {
	Min float64
	Max float64
}

// Contains reports whether the resolution implied by bbox and pixel width
// falls inside the range.
func (r *ResRange) Contains(bbox BBox, width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	res := bbox.Width() / float64(width)
	if r.Min > 0 && res >= r.Min {
		return false
	}
	if r.Max > 0 && res < r.Max {
		return false
	}
	return true
}
