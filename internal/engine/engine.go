// Package engine defines the boundary to the native rendering engine: an
// expensive-to-construct handle per loaded map description, configured and
// drawn per request. Handles are cached by internal/registry; nothing in this
// package caches.
package engine

import (
	"fmt"

	"maprender/internal/geom"
)

// View is the per-request configuration applied to a handle before drawing.
// Layers, when non-nil, is an allow-list restricting this render only; it
// must never mutate state that outlives the draw call.
type View struct {
	Width, Height int
	SRS           string
	BBox          geom.BBox
	Layers        []string
	ScaleFactor   float64
}

// Handle is a loaded map description owned by the engine. Construction is
// expensive; Configure and Draw are cheap by comparison. Handles are not
// assumed safe for concurrent Configure/Draw; callers serialize access.
type Handle interface {
	Configure(view View) error
	Draw() (Canvas, error)
}

// Canvas is the raw drawn output, pending encoding.
type Canvas interface {
	Encode(format string) ([]byte, error)
	Close()
}

// Engine constructs handles from resource identifiers (map description
// paths). Construct failures are reported as *InitError by the callers that
// wrap them.
type Engine interface {
	Construct(resource string) (Handle, error)
}

// InitError reports a failed handle construction. It is retryable: the
// registry drops the failed entry and the next request constructs again.
type InitError struct {
	Resource string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine init failed for %s: %v", e.Resource, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// RenderError reports a failure during configure, draw or encode on a ready
// handle. The native error never crosses this boundary, only its message.
type RenderError struct {
	Resource string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for %s: %v", e.Resource, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
