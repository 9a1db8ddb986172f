package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"maprender/internal/engine"
	"maprender/internal/engine/enginetest"
	"maprender/internal/geom"
	"maprender/internal/registry"
)

func testQuery() Query {
	return Query{
		BBox:   geom.BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10},
		Width:  256,
		Height: 256,
		SRS:    "EPSG:3857",
		Format: "png",
	}
}

func newTestDispatcher(t *testing.T, eng engine.Engine, opts Options) (*Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	if opts.ContextID == "" {
		opts.ContextID = "test-ctx"
	}
	return NewDispatcher(eng, registry.New(), zap.New(core), opts), logs
}

func renderRecords(logs *observer.ObservedLogs) []observer.LoggedEntry {
	return logs.FilterMessage("render").All()
}

func TestRenderSuccess(t *testing.T) {
	eng := enginetest.New()
	d, logs := newTestDispatcher(t, eng, Options{})

	res, err := d.Render(context.Background(), "base.xml", testQuery())
	require.NoError(t, err)
	assert.Equal(t, 256, res.Width)
	assert.Equal(t, 256, res.Height)
	assert.Equal(t, "png", res.Format)
	assert.NotEmpty(t, res.Data)

	assert.EqualValues(t, 1, eng.Constructs())
	assert.EqualValues(t, 1, eng.Draws())
	assert.EqualValues(t, 1, eng.Encodes())

	records := renderRecords(logs)
	require.Len(t, records, 1)
	fields := records[0].ContextMap()
	assert.Equal(t, "200", fields["status"])
	assert.Equal(t, "base.xml", fields["resource"])
	assert.Equal(t, "256x256", fields["size"])
	assert.Contains(t, fields, "bytes")
}

func TestRenderReusesHandle(t *testing.T) {
	eng := enginetest.New()
	d, _ := newTestDispatcher(t, eng, Options{})

	for i := 0; i < 3; i++ {
		_, err := d.Render(context.Background(), "base.xml", testQuery())
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, eng.Constructs(), "handle constructed once")
	assert.EqualValues(t, 3, eng.Draws(), "renders are never cached")
}

func TestRenderDrawFailure(t *testing.T) {
	eng := enginetest.New()
	eng.FailDraw(errors.New("style parse error"))
	d, logs := newTestDispatcher(t, eng, Options{})

	_, err := d.Render(context.Background(), "base.xml", testQuery())
	require.Error(t, err)

	var renderErr *engine.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Contains(t, err.Error(), "style parse error")

	// Exactly one request record, failed status, no byte size.
	records := renderRecords(logs)
	require.Len(t, records, 1)
	fields := records[0].ContextMap()
	assert.Equal(t, "500", fields["status"])
	assert.NotContains(t, fields, "bytes")
}

func TestRenderEncodeFailure(t *testing.T) {
	eng := enginetest.New()
	eng.FailEncode(errors.New("bad format"))
	d, logs := newTestDispatcher(t, eng, Options{})

	_, err := d.Render(context.Background(), "base.xml", testQuery())
	var renderErr *engine.RenderError
	require.ErrorAs(t, err, &renderErr)

	require.Len(t, renderRecords(logs), 1)
}

func TestRenderInitFailureSurfacesAsInitError(t *testing.T) {
	eng := enginetest.New()
	eng.FailNextConstruct(errors.New("no such mapfile"))
	d, logs := newTestDispatcher(t, eng, Options{})

	_, err := d.Render(context.Background(), "missing.xml", testQuery())
	var initErr *engine.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, err.Error(), "no such mapfile")

	records := renderRecords(logs)
	require.Len(t, records, 1)
	assert.Equal(t, "500", records[0].ContextMap()["status"])
}

func TestRenderResolvesLevelPlaceholder(t *testing.T) {
	eng := enginetest.New()
	d, logs := newTestDispatcher(t, eng, Options{})

	// World-spanning webmercator bbox at 256px resolves to level 0.
	q := testQuery()
	q.BBox = geom.BBox{
		MinX: -20037508.342789244, MinY: -20037508.342789244,
		MaxX: 20037508.342789244, MaxY: 20037508.342789244,
	}

	_, err := d.Render(context.Background(), "tiles-{webmercator_level}.xml", q)
	require.NoError(t, err)

	records := renderRecords(logs)
	require.Len(t, records, 1)
	assert.Equal(t, "tiles-0.xml", records[0].ContextMap()["resource"])
}

func TestRenderPassesViewPerCall(t *testing.T) {
	eng := enginetest.New()
	d, _ := newTestDispatcher(t, eng, Options{ScaleFactor: 2})

	q := testQuery()
	q.Layers = []string{"roads", "water"}

	_, err := d.Render(context.Background(), "base.xml", q)
	require.NoError(t, err)

	h := eng.LastHandle()
	require.NotNil(t, h)
	view := h.View()
	assert.Equal(t, []string{"roads", "water"}, view.Layers)
	assert.Equal(t, 2.0, view.ScaleFactor)
	assert.Equal(t, 256, view.Width)

	// A second call without an allow-list reconfigures the same cached
	// handle; nothing from the previous call sticks.
	_, err = d.Render(context.Background(), "base.xml", Query{
		BBox: q.BBox, Width: 512, Height: 512, SRS: q.SRS, Format: "png",
	})
	require.NoError(t, err)

	view = h.View()
	assert.Nil(t, view.Layers)
	assert.Equal(t, 512, view.Width)

	assert.EqualValues(t, 1, eng.Constructs())
	assert.EqualValues(t, 2, eng.Draws())
}

func TestRenderAbandonedWaitStillCompletes(t *testing.T) {
	eng := enginetest.New()
	eng.SetConstructLag(50 * time.Millisecond)
	d, logs := newTestDispatcher(t, eng, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := d.Render(ctx, "base.xml", testQuery())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The detached worker finishes the construction and render regardless.
	assert.Eventually(t, func() bool {
		return eng.Constructs() == 1 && eng.Draws() == 1
	}, time.Second, 5*time.Millisecond)

	// And it still emits its request record.
	assert.Eventually(t, func() bool {
		return len(renderRecords(logs)) == 1
	}, time.Second, 5*time.Millisecond)

	// The populated cache serves the next call without reconstruction.
	eng.SetConstructLag(0)
	_, err = d.Render(context.Background(), "base.xml", testQuery())
	require.NoError(t, err)
	assert.EqualValues(t, 1, eng.Constructs())
}

// Concurrent renders sharing one cached handle must never overlap in
// configure+draw; the per-handle lock enforces it.
func TestRenderPerHandleExclusive(t *testing.T) {
	eng := enginetest.New()
	eng.SetDrawLag(2 * time.Millisecond)
	d, _ := newTestDispatcher(t, eng, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Render(context.Background(), "base.xml", testQuery())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, eng.Constructs())
	assert.EqualValues(t, 10, eng.Draws())
	h := eng.LastHandle()
	require.NotNil(t, h)
	assert.EqualValues(t, 1, h.MaxDrawOverlap())
}

func TestRenderGlobalLockSerializes(t *testing.T) {
	eng := enginetest.New()
	lock := &countingLock{}
	d, _ := newTestDispatcher(t, eng, Options{RenderLock: lock})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Render(context.Background(), "base.xml", testQuery())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, lock.acquisitions, "every render must take the lock")
	assert.False(t, lock.overlap, "no overlapping renders under the global lock")
	assert.EqualValues(t, 8, eng.Draws())
}

// countingLock verifies every render holds the lock for its full span.
type countingLock struct {
	mu           sync.Mutex
	acquisitions int
	held         bool
	overlap      bool
}

func (l *countingLock) Lock() {
	l.mu.Lock()
	l.acquisitions++
	if l.held {
		l.overlap = true
	}
	l.held = true
}

func (l *countingLock) Unlock() {
	l.held = false
	l.mu.Unlock()
}
