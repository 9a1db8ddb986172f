package http

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"maprender/internal/cache"
	"maprender/internal/config"
	"maprender/internal/geom"
	"maprender/internal/grid"
	"maprender/internal/metrics"
	"maprender/internal/render"
	"maprender/internal/source"
)

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	source    *source.Source
	tileCache cache.Cache
	// sourceKey names the source in tile cache keys.
	sourceKey string
}

func New(cfg *config.Config, logger *zap.Logger, src *source.Source, tileCache cache.Cache) *Handlers {
	return &Handlers{
		config:    cfg,
		logger:    logger,
		source:    src,
		tileCache: tileCache,
		sourceKey: strings.TrimSuffix(filepath.Base(cfg.Source.Mapfile), filepath.Ext(cfg.Source.Mapfile)),
	}
}

// Router wires all routes on a fresh mux.
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wms", h.HandleWMS)
	mux.HandleFunc("/tiles/", h.HandleTile)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := h.config.HTTP.AllowedOrigin
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleWMS serves WMS-style GetMap requests:
// /wms?BBOX=minx,miny,maxx,maxy&WIDTH=..&HEIGHT=..&SRS=..&FORMAT=..&LAYERS=..
func (h *Handlers) HandleWMS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := parseWMSQuery(r, h.config.Source.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.source.GetMap(r.Context(), q)
	if err != nil {
		if errors.Is(err, source.ErrBlankImage) {
			h.writeBlank(w, q.Width, q.Height)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeImage(w, result.Format, result.Data)
}

// HandleTile serves XYZ tiles on the webmercator grid, fronted by the tile
// cache: /tiles/{z}/{x}/{y}.{format}
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	z, x, y, format, err := parseTilePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !grid.ValidTile(z, x, y) {
		http.Error(w, "Tile out of range", http.StatusBadRequest)
		return
	}

	key := cache.TileKey{Source: h.sourceKey, Z: z, X: x, Y: y, Format: format}
	if data, ok := h.tileCache.Get(key); ok {
		metrics.TileCacheHits.Inc()
		h.writeTile(w, r, format, data)
		return
	}
	metrics.TileCacheMisses.Inc()

	q := render.Query{
		BBox:   grid.TileBBox(z, x, y),
		Width:  grid.TileSize,
		Height: grid.TileSize,
		SRS:    "EPSG:3857",
		Format: format,
	}

	result, err := h.source.GetMap(r.Context(), q)
	if err != nil {
		if errors.Is(err, source.ErrBlankImage) {
			h.writeBlank(w, q.Width, q.Height)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.tileCache.Set(key, result.Data)
	metrics.TileCacheStores.Inc()

	h.writeTile(w, r, format, result.Data)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) writeTile(w http.ResponseWriter, r *http.Request, format string, data []byte) {
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", contentType(format))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

func (h *Handlers) writeImage(w http.ResponseWriter, format string, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", contentType(format))
	w.Write(data)
}

// writeBlank answers a query outside the servable region with a transparent
// image of the requested size.
func (h *Handlers) writeBlank(w http.ResponseWriter, width, height int) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeImage(w, "png", buf.Bytes())
}

func parseWMSQuery(r *http.Request, defaultFormat string) (render.Query, error) {
	params := r.URL.Query()

	bboxParam := params.Get("BBOX")
	if bboxParam == "" {
		bboxParam = params.Get("bbox")
	}
	if bboxParam == "" {
		return render.Query{}, fmt.Errorf("missing BBOX parameter")
	}
	bbox, err := geom.ParseBBox(bboxParam)
	if err != nil {
		return render.Query{}, err
	}

	width, err := positiveIntParam(params, "WIDTH", "width")
	if err != nil {
		return render.Query{}, err
	}
	height, err := positiveIntParam(params, "HEIGHT", "height")
	if err != nil {
		return render.Query{}, err
	}

	srs := firstParam(params, "SRS", "srs", "CRS", "crs")
	if srs == "" {
		srs = "EPSG:3857"
	}

	format := firstParam(params, "FORMAT", "format")
	format = strings.TrimPrefix(format, "image/")
	if format == "" {
		format = defaultFormat
	}

	var layers []string
	if l := firstParam(params, "LAYERS", "layers"); l != "" {
		layers = strings.Split(l, ",")
	}

	return render.Query{
		BBox:   bbox,
		Width:  width,
		Height: height,
		SRS:    srs,
		Format: format,
		Layers: layers,
	}, nil
}

func parseTilePath(path string) (z, x, y int, format string, err error) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/tiles/"), "/"), "/")
	if len(parts) != 3 {
		return 0, 0, 0, "", fmt.Errorf("invalid tile path")
	}

	if z, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid zoom level")
	}
	if x, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid x coordinate")
	}

	ext := filepath.Ext(parts[2])
	if y, err = strconv.Atoi(strings.TrimSuffix(parts[2], ext)); err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid y coordinate")
	}

	format = strings.TrimPrefix(ext, ".")
	switch format {
	case "jpg":
		format = "jpeg"
	case "jpeg", "png", "webp":
	default:
		return 0, 0, 0, "", fmt.Errorf("invalid format")
	}

	return z, x, y, format, nil
}

func positiveIntParam(params map[string][]string, names ...string) (int, error) {
	raw := firstParam(params, names...)
	if raw == "" {
		return 0, fmt.Errorf("missing %s parameter", names[0])
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > 8192 {
		return 0, fmt.Errorf("invalid %s parameter", names[0])
	}
	return v, nil
}

func firstParam(params map[string][]string, names ...string) string {
	for _, name := range names {
		if vs, ok := params[name]; ok && len(vs) > 0 && vs[0] != "" {
			return vs[0]
		}
	}
	return ""
}

func contentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
