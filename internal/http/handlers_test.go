package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"maprender/internal/cache"
	"maprender/internal/config"
	"maprender/internal/engine/enginetest"
	"maprender/internal/geom"
	"maprender/internal/registry"
	"maprender/internal/render"
	"maprender/internal/source"
)

func newTestServer(t *testing.T, eng *enginetest.Engine, srcOpts source.Options) *httptest.Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.Source.Mapfile = "base.xml"
	cfg.Source.Format = "png"

	log := zaptest.NewLogger(t)
	d := render.NewDispatcher(eng, registry.New(), log, render.Options{ContextID: "test-ctx"})
	if srcOpts.Resource == "" {
		srcOpts.Resource = "base.xml"
	}
	src := source.New(d, log, srcOpts)

	h := New(cfg, log, src, cache.NewMemoryCache(100))
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleWMS(t *testing.T) {
	eng := enginetest.New()
	ts := newTestServer(t, eng, source.Options{})

	resp, err := http.Get(ts.URL + "/wms?BBOX=0,0,10,10&WIDTH=256&HEIGHT=256&SRS=EPSG:3857&FORMAT=image/png")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.EqualValues(t, 1, eng.Draws())
}

func TestHandleWMSBadRequest(t *testing.T) {
	ts := newTestServer(t, enginetest.New(), source.Options{})

	for _, url := range []string{
		"/wms",
		"/wms?BBOX=bogus&WIDTH=256&HEIGHT=256",
		"/wms?BBOX=0,0,10,10&WIDTH=-1&HEIGHT=256",
		"/wms?BBOX=0,0,10,10&WIDTH=256",
	} {
		resp, err := http.Get(ts.URL + url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, url)
	}
}

func TestHandleWMSBlankOutsideCoverage(t *testing.T) {
	eng := enginetest.New()
	ts := newTestServer(t, eng, source.Options{
		Coverage: &geom.Coverage{BBox: geom.BBox{MinX: 100, MinY: 100, MaxX: 200, MaxY: 200}},
	})

	resp, err := http.Get(ts.URL + "/wms?BBOX=0,0,10,10&WIDTH=64&HEIGHT=64")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.EqualValues(t, 0, eng.Constructs(), "blank responses never touch the engine")
}

func TestHandleWMSRenderFailure(t *testing.T) {
	eng := enginetest.New()
	eng.FailDraw(errors.New("datasource gone"))
	ts := newTestServer(t, eng, source.Options{})

	resp, err := http.Get(ts.URL + "/wms?BBOX=0,0,10,10&WIDTH=64&HEIGHT=64")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleTileCaches(t *testing.T) {
	eng := enginetest.New()
	ts := newTestServer(t, eng, source.Options{})

	resp, err := http.Get(ts.URL + "/tiles/2/1/1.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, eng.Draws())

	// Second request for the same tile is served from the cache.
	resp, err = http.Get(ts.URL + "/tiles/2/1/1.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, eng.Draws())
}

func TestHandleTileBadPaths(t *testing.T) {
	ts := newTestServer(t, enginetest.New(), source.Options{})

	for _, url := range []string{
		"/tiles/2/1.png",
		"/tiles/a/1/1.png",
		"/tiles/2/1/1.gif",
		"/tiles/2/9/1.png", // x out of range at level 2
	} {
		resp, err := http.Get(ts.URL + url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, url)
	}
}

func TestHandleHealthz(t *testing.T) {
	ts := newTestServer(t, enginetest.New(), source.Options{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseTilePath(t *testing.T) {
	z, x, y, format, err := parseTilePath("/tiles/3/2/5.jpg")
	require.NoError(t, err)
	assert.Equal(t, 3, z)
	assert.Equal(t, 2, x)
	assert.Equal(t, 5, y)
	assert.Equal(t, "jpeg", format)
}
