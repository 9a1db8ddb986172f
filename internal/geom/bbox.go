package geom

import "fmt"

// BBox is an axis-aligned bounding box in map units (minx, miny, maxx, maxy).
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b BBox) Width() float64 {
	return b.MaxX - b.MinX
}

func (b BBox) Height() float64 {
	return b.MaxY - b.MinY
}

// Intersects reports whether the two boxes share any area. Touching edges
// do not count as an intersection.
func (b BBox) Intersects(other BBox) bool {
	return b.MinX < other.MaxX && b.MaxX > other.MinX &&
		b.MinY < other.MaxY && b.MaxY > other.MinY
}

// Contains reports whether other lies fully inside b.
func (b BBox) Contains(other BBox) bool {
	return other.MinX >= b.MinX && other.MaxX <= b.MaxX &&
		other.MinY >= b.MinY && other.MaxY <= b.MaxY
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// ParseBBox parses a "minx,miny,maxx,maxy" string.
func ParseBBox(s string) (BBox, error) {
	var b BBox
	n, err := fmt.Sscanf(s, "%f,%f,%f,%f", &b.MinX, &b.MinY, &b.MaxX, &b.MaxY)
	if err != nil || n != 4 {
		return BBox{}, fmt.Errorf("invalid bbox %q", s)
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return BBox{}, fmt.Errorf("degenerate bbox %q", s)
	}
	return b, nil
}
