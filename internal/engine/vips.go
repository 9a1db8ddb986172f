package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"

	"maprender/internal/geom"
)

// VipsEngine renders raster map descriptions through libvips. The resource
// identifier is a file path (relative to BaseDir) and the raster is
// georeferenced by a single extent covering the full image.
type VipsEngine struct {
	BaseDir string
	Extent  geom.BBox
}

// NewVipsEngine creates an engine serving rasters below baseDir, covering
// the given map extent.
func NewVipsEngine(baseDir string, extent geom.BBox) *VipsEngine {
	return &VipsEngine{BaseDir: baseDir, Extent: extent}
}

// Construct probes the raster once and returns a handle bound to it. The
// probe validates the file and records its pixel dimensions; pixel data is
// read lazily per draw via random access.
func (e *VipsEngine) Construct(resource string) (Handle, error) {
	path := resource
	if e.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.BaseDir, resource)
	}

	img, err := loadRaster(path)
	if err != nil {
		return nil, err
	}
	h := &vipsHandle{
		path:   path,
		width:  img.Width(),
		height: img.Height(),
		extent: e.Extent,
	}
	img.Close()

	if h.width == 0 || h.height == 0 {
		return nil, fmt.Errorf("empty raster: %s", path)
	}
	return h, nil
}

type vipsHandle struct {
	path          string
	width, height int
	extent        geom.BBox
	view          View
}

func (h *vipsHandle) Configure(view View) error {
	if view.Width <= 0 || view.Height <= 0 {
		return fmt.Errorf("invalid view size %dx%d", view.Width, view.Height)
	}
	// Layer filtering is meaningless for a flat raster; the allow-list is
	// accepted and ignored.
	h.view = view
	return nil
}

func (h *vipsHandle) Draw() (Canvas, error) {
	view := h.view

	// Map the requested bbox onto source pixel coordinates. Pixel y grows
	// downward while map y grows upward.
	scaleX := float64(h.width) / (h.extent.MaxX - h.extent.MinX)
	scaleY := float64(h.height) / (h.extent.MaxY - h.extent.MinY)

	startX := int(math.Floor((view.BBox.MinX - h.extent.MinX) * scaleX))
	startY := int(math.Floor((h.extent.MaxY - view.BBox.MaxY) * scaleY))
	endX := int(math.Ceil((view.BBox.MaxX - h.extent.MinX) * scaleX))
	endY := int(math.Ceil((h.extent.MaxY - view.BBox.MinY) * scaleY))

	startX = clamp(startX, 0, h.width)
	startY = clamp(startY, 0, h.height)
	endX = clamp(endX, 0, h.width)
	endY = clamp(endY, 0, h.height)

	srcW := endX - startX
	srcH := endY - startY
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("view %s outside raster extent", view.BBox)
	}

	img, err := loadRaster(h.path)
	if err != nil {
		return nil, err
	}

	if err := img.ExtractArea(startX, startY, srcW, srcH); err != nil {
		img.Close()
		return nil, fmt.Errorf("extract area: %w", err)
	}

	scale := float64(view.Width) / float64(srcW)
	if view.ScaleFactor > 0 {
		scale *= view.ScaleFactor
	}
	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := img.Resize(scale, resizeOpts); err != nil {
		img.Close()
		return nil, fmt.Errorf("resize: %w", err)
	}

	// Edge windows come out smaller than the requested size; pad with a
	// neutral background anchored at the top-left.
	if img.Width() < view.Width || img.Height() < view.Height {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{221, 221, 221}
		if err := img.Embed(0, 0, view.Width, view.Height, embedOpts); err != nil {
			img.Close()
			return nil, fmt.Errorf("pad: %w", err)
		}
	}

	return &vipsCanvas{img: img}, nil
}

type vipsCanvas struct {
	img *vips.Image
}

func (c *vipsCanvas) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		opts := vips.DefaultJpegsaveBufferOptions()
		opts.Q = 82
		return c.img.JpegsaveBuffer(opts)
	case "png":
		return c.img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	case "webp":
		return c.img.WebpsaveBuffer(vips.DefaultWebpsaveBufferOptions())
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func (c *vipsCanvas) Close() {
	c.img.Close()
}

// loadRaster opens an image with random access, which keeps per-draw window
// extraction cheap on large files.
func loadRaster(path string) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	access := vips.AccessRandom

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported raster format: %s", ext)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
