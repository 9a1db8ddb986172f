package cache

import "fmt"

// TileKey addresses one rendered tile.
type TileKey struct {
	Source string
	Z      int
	X      int
	Y      int
	Format string
}

// String renders the key in path-friendly form: {source}/{z}/{x}_{y}.{format}
func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d_%d.%s", k.Source, k.Z, k.X, k.Y, k.Format)
}

// Cache stores rendered tiles. Backends swallow their own storage errors: a
// broken cache degrades to misses, it never fails a render.
type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Clear()
	Close() error
}
