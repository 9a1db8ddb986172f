package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileCache stores tiles on disk.
// Layout: {cacheDir}/{source}/{z}/{x}_{y}.{format}
type FileCache struct {
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{cacheDir: cacheDir}, nil
}

func (c *FileCache) buildFilePath(key TileKey) string {
	dir := filepath.Join(c.cacheDir, key.Source, fmt.Sprintf("%d", key.Z))
	fileName := fmt.Sprintf("%d_%d.%s", key.X, key.Y, key.Format)
	return filepath.Join(dir, fileName)
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *FileCache) Set(key TileKey, value []byte) {
	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		return
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
	}
}

func (c *FileCache) Clear() {
	if err := os.RemoveAll(c.cacheDir); err != nil {
		return
	}
	os.MkdirAll(c.cacheDir, 0755)
}

func (c *FileCache) Close() error {
	return nil
}
