// Package render executes blocking engine render calls on worker goroutines
// so callers suspend instead of blocking, with handles shared through the
// registry.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"maprender/internal/engine"
	"maprender/internal/geom"
	"maprender/internal/grid"
	"maprender/internal/metrics"
	"maprender/internal/registry"
)

// Query describes one map render request. Consumed read-only.
type Query struct {
	BBox   geom.BBox
	Width  int
	Height int
	SRS    string
	Format string
	// Layers, when non-nil, restricts this render to the named layers
	// without touching cached handle state.
	Layers []string
}

// Result is the encoded render output. Returned by value; nothing retains a
// reference after the call.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format string
	// Opacity is pass-through metadata attached by the pipeline for
	// downstream compositing. It does not alter pixels.
	Opacity float64
}

// Options configure a Dispatcher.
type Options struct {
	// ContextID identifies this execution context in cache keys. Defaults
	// to the process-wide id.
	ContextID string
	// Workers bounds the number of concurrent render workers; 0 means
	// unbounded.
	Workers int
	// RenderLock, when set, is held for the whole acquire+configure+draw+
	// encode span of every render. For engines that are not reentrant
	// across goroutines at all; it disables render-level concurrency
	// entirely.
	RenderLock sync.Locker
	// ScaleFactor is forwarded to the engine view when positive.
	ScaleFactor float64
}

// Dispatcher offloads render calls to worker goroutines. Once submitted, a
// render always runs to completion; abandoning the wait never cancels the
// native call.
type Dispatcher struct {
	engine      engine.Engine
	registry    *registry.Registry
	contextID   string
	workers     chan struct{}
	renderLock  sync.Locker
	scaleFactor float64
	logger      *zap.Logger
}

func NewDispatcher(eng engine.Engine, reg *registry.Registry, logger *zap.Logger, opts Options) *Dispatcher {
	contextID := opts.ContextID
	if contextID == "" {
		contextID = registry.ProcessContextID()
	}
	var workers chan struct{}
	if opts.Workers > 0 {
		workers = make(chan struct{}, opts.Workers)
	}
	return &Dispatcher{
		engine:      eng,
		registry:    reg,
		contextID:   contextID,
		workers:     workers,
		renderLock:  opts.RenderLock,
		scaleFactor: opts.ScaleFactor,
		logger:      logger,
	}
}

// Render resolves any zoom-level placeholder in resource, runs the render on
// a worker goroutine and suspends the caller until it finishes. When ctx is
// cancelled the caller stops waiting; the worker still completes and
// populates the handle cache.
func (d *Dispatcher) Render(ctx context.Context, resource string, q Query) (*Result, error) {
	resource = grid.ResolveResource(resource, q.BBox, q.Width)

	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)

	go func() {
		if d.workers != nil {
			d.workers <- struct{}{}
			defer func() { <-d.workers }()
		}
		if d.renderLock != nil {
			d.renderLock.Lock()
			defer d.renderLock.Unlock()
		}
		res, err := d.renderResource(resource, q)
		out <- outcome{res: res, err: err}
	}()

	select {
	case o := <-out:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// renderResource runs inside the worker: acquire the shared handle,
// configure it for this request under the per-handle lock, draw and encode.
// Exactly one request-log record is emitted per call, success or failure.
func (d *Dispatcher) renderResource(resource string, q Query) (res *Result, err error) {
	start := time.Now()
	defer func() {
		d.logRequest(resource, q, res, time.Since(start))
	}()

	key := registry.Key{ContextID: d.contextID, Resource: resource}
	ent, aerr := d.registry.Acquire(context.Background(), key, d.construct)
	if aerr != nil {
		err = aerr
		return
	}

	ent.Lock()
	defer ent.Unlock()

	h := ent.Handle()
	view := engine.View{
		Width:       q.Width,
		Height:      q.Height,
		SRS:         q.SRS,
		BBox:        q.BBox,
		Layers:      q.Layers,
		ScaleFactor: d.scaleFactor,
	}
	if cerr := h.Configure(view); cerr != nil {
		err = &engine.RenderError{Resource: resource, Err: cerr}
		return
	}
	canvas, derr := h.Draw()
	if derr != nil {
		err = &engine.RenderError{Resource: resource, Err: derr}
		return
	}
	defer canvas.Close()

	data, eerr := canvas.Encode(q.Format)
	if eerr != nil {
		err = &engine.RenderError{Resource: resource, Err: eerr}
		return
	}

	res = &Result{Data: data, Width: q.Width, Height: q.Height, Format: q.Format}
	return
}

func (d *Dispatcher) construct(resource string) (engine.Handle, error) {
	h, err := d.engine.Construct(resource)
	if err != nil {
		metrics.HandleLoadFailures.Inc()
		return nil, err
	}
	metrics.HandleLoads.Inc()
	return h, nil
}

func (d *Dispatcher) logRequest(resource string, q Query, res *Result, duration time.Duration) {
	status := "200"
	if res == nil {
		status = "500"
	}
	fields := []zap.Field{
		zap.String("resource", resource),
		zap.String("bbox", q.BBox.String()),
		zap.String("srs", q.SRS),
		zap.String("size", fmt.Sprintf("%dx%d", q.Width, q.Height)),
		zap.String("status", status),
		zap.Duration("duration", duration),
	}
	if res != nil {
		fields = append(fields, zap.Int("bytes", len(res.Data)))
	}
	d.logger.Info("render", fields...)

	metrics.RendersTotal.WithLabelValues(status).Inc()
	metrics.RenderDuration.Observe(duration.Seconds())
}
