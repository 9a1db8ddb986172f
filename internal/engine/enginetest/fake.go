// Package enginetest provides an instrumented in-memory engine for tests.
package enginetest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"maprender/internal/engine"
)

// Engine counts constructions and draws, and can be told to fail or stall.
// All fields guarded by mu unless atomic.
type Engine struct {
	mu sync.Mutex

	constructs   atomic.Int64
	draws        atomic.Int64
	encodes      atomic.Int64
	constructLag time.Duration
	drawLag      time.Duration

	failConstruct []error
	failDraw      error
	failEncode    error
	lastHandle    *Handle
}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{}
}

// FailNextConstruct queues an error for the next construction; subsequent
// constructions succeed again.
func (e *Engine) FailNextConstruct(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failConstruct = append(e.failConstruct, err)
}

// FailDraw makes every draw fail with err until reset with nil.
func (e *Engine) FailDraw(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failDraw = err
}

// FailEncode makes every encode fail with err until reset with nil.
func (e *Engine) FailEncode(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failEncode = err
}

// SetConstructLag delays constructions, widening the window in which
// concurrent callers can race on a loading entry.
func (e *Engine) SetConstructLag(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constructLag = d
}

// SetDrawLag delays draws, widening the window in which overlapping draws
// on one handle would be observable.
func (e *Engine) SetDrawLag(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drawLag = d
}

func (e *Engine) Constructs() int64 { return e.constructs.Load() }
func (e *Engine) Draws() int64      { return e.draws.Load() }
func (e *Engine) Encodes() int64    { return e.encodes.Load() }

func (e *Engine) Construct(resource string) (engine.Handle, error) {
	e.mu.Lock()
	lag := e.constructLag
	var fail error
	if len(e.failConstruct) > 0 {
		fail = e.failConstruct[0]
		e.failConstruct = e.failConstruct[1:]
	}
	e.mu.Unlock()

	if lag > 0 {
		time.Sleep(lag)
	}
	e.constructs.Add(1)
	if fail != nil {
		return nil, fail
	}
	h := &Handle{engine: e, Resource: resource}
	e.mu.Lock()
	e.lastHandle = h
	e.mu.Unlock()
	return h, nil
}

// LastHandle returns the most recently constructed handle, or nil.
func (e *Engine) LastHandle() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHandle
}

// Handle records the last applied view so tests can assert per-call
// configuration, and tracks overlapping draws.
type Handle struct {
	engine   *Engine
	Resource string

	mu       sync.Mutex
	LastView engine.View

	activeDraws atomic.Int64
	maxOverlap  atomic.Int64
}

// MaxDrawOverlap reports the largest number of draws observed running on
// this handle at the same time.
func (h *Handle) MaxDrawOverlap() int64 {
	return h.maxOverlap.Load()
}

func (h *Handle) Configure(view engine.View) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastView = view
	return nil
}

func (h *Handle) View() engine.View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.LastView
}

func (h *Handle) Draw() (engine.Canvas, error) {
	h.engine.mu.Lock()
	fail := h.engine.failDraw
	lag := h.engine.drawLag
	h.engine.mu.Unlock()

	active := h.activeDraws.Add(1)
	defer h.activeDraws.Add(-1)
	for {
		max := h.maxOverlap.Load()
		if active <= max || h.maxOverlap.CompareAndSwap(max, active) {
			break
		}
	}
	if lag > 0 {
		time.Sleep(lag)
	}

	h.engine.draws.Add(1)
	if fail != nil {
		return nil, fail
	}
	view := h.View()
	return &Canvas{engine: h.engine, width: view.Width, height: view.Height}, nil
}

type Canvas struct {
	engine        *Engine
	width, height int
}

func (c *Canvas) Encode(format string) ([]byte, error) {
	c.engine.mu.Lock()
	fail := c.engine.failEncode
	c.engine.mu.Unlock()

	c.engine.encodes.Add(1)
	if fail != nil {
		return nil, fail
	}
	return []byte(fmt.Sprintf("%s:%dx%d", format, c.width, c.height)), nil
}

func (c *Canvas) Close() {}
