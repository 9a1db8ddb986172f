// Package grid provides the fixed webmercator (EPSG:3857) tile grid used to
// resolve zoom-level placeholders in resource identifiers and to address XYZ
// tiles.
package grid

import (
	"fmt"
	"math"
	"strings"

	"maprender/internal/geom"
)

const (
	// LevelPlaceholder in a resource identifier is replaced by the
	// webmercator zoom level derived from the query before the identifier
	// is used as a cache key.
	LevelPlaceholder = "{webmercator_level}"

	// TileSize is the pixel edge length of one grid tile.
	TileSize = 256

	// MaxLevel is the deepest zoom level of the grid.
	MaxLevel = 19

	halfCircumference = 20037508.342789244
)

// res0 is the map resolution (units per pixel) at zoom 0, where one tile
// covers the full webmercator extent.
var res0 = 2 * halfCircumference / TileSize

// Resolution returns the map resolution of the given zoom level.
func Resolution(level int) float64 {
	return res0 / math.Pow(2, float64(level))
}

// AffectedLevel returns the grid zoom level whose resolution is closest to
// the resolution implied by bbox and pixel width.
func AffectedLevel(bbox geom.BBox, width int) int {
	if width <= 0 {
		return 0
	}
	res := bbox.Width() / float64(width)
	if res <= 0 {
		return MaxLevel
	}
	level := int(math.Round(math.Log2(res0 / res)))
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// HasLevelPlaceholder reports whether the resource identifier is templated
// on the zoom level.
func HasLevelPlaceholder(resource string) bool {
	return strings.Contains(resource, LevelPlaceholder)
}

// ResolveResource substitutes the zoom-level placeholder, if any, with the
// level affected by the query geometry.
func ResolveResource(resource string, bbox geom.BBox, width int) string {
	if !HasLevelPlaceholder(resource) {
		return resource
	}
	level := AffectedLevel(bbox, width)
	return strings.ReplaceAll(resource, LevelPlaceholder, fmt.Sprintf("%d", level))
}

// TileBBox returns the webmercator bbox of tile (x, y) at the given zoom
// level, with y counted from the top (XYZ addressing).
func TileBBox(z, x, y int) geom.BBox {
	tiles := math.Pow(2, float64(z))
	size := 2 * halfCircumference / tiles
	return geom.BBox{
		MinX: -halfCircumference + float64(x)*size,
		MinY: halfCircumference - float64(y+1)*size,
		MaxX: -halfCircumference + float64(x+1)*size,
		MaxY: halfCircumference - float64(y)*size,
	}
}

// ValidTile reports whether the tile coordinate exists at the given level.
func ValidTile(z, x, y int) bool {
	if z < 0 || z > MaxLevel {
		return false
	}
	tiles := 1 << uint(z)
	return x >= 0 && x < tiles && y >= 0 && y < tiles
}
