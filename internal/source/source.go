// Package source is the request-facing render pipeline: it guards queries
// against the servable region and resolution band, delegates rendering to
// the dispatcher and translates engine failures into stable domain errors.
package source

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"maprender/internal/geom"
	"maprender/internal/render"
)

// ErrBlankImage signals that the query lies outside the servable region or
// resolution band. It is not a failure; callers respond with a blank image.
var ErrBlankImage = errors.New("query outside servable area")

// Error is the domain-level render failure. The engine's error text is
// carried in Message; engine error types never cross this boundary.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Options configure a Source.
type Options struct {
	// Resource is the map description identifier, possibly templated on
	// the webmercator zoom level.
	Resource string
	// Coverage, when set, limits the source to a region.
	Coverage *geom.Coverage
	// ResRange, when set, limits the source to a resolution band.
	ResRange *geom.ResRange
	// Layers, when non-nil, restricts every render to the named layers.
	Layers []string
	// Opacity is attached to results for downstream compositing.
	Opacity float64
}

// Source renders maps for one configured resource. Stateless; all shared
// state lives in the handle registry behind the dispatcher.
type Source struct {
	resource   string
	dispatcher *render.Dispatcher
	coverage   *geom.Coverage
	resRange   *geom.ResRange
	layers     []string
	opacity    float64
	logger     *zap.Logger
}

func New(dispatcher *render.Dispatcher, logger *zap.Logger, opts Options) *Source {
	opacity := opts.Opacity
	if opacity == 0 {
		opacity = 1
	}
	return &Source{
		resource:   opts.Resource,
		dispatcher: dispatcher,
		coverage:   opts.Coverage,
		resRange:   opts.ResRange,
		layers:     opts.Layers,
		opacity:    opacity,
		logger:     logger,
	}
}

// GetMap renders one query. Queries outside the configured guards return
// ErrBlankImage without touching the engine; render failures surface as
// *Error carrying the engine's message.
func (s *Source) GetMap(ctx context.Context, q render.Query) (*render.Result, error) {
	if s.resRange != nil && !s.resRange.Contains(q.BBox, q.Width, q.Height) {
		return nil, ErrBlankImage
	}
	if s.coverage != nil && !s.coverage.Intersects(q.BBox, q.SRS) {
		return nil, ErrBlankImage
	}

	if q.Layers == nil {
		q.Layers = s.layers
	}

	res, err := s.dispatcher.Render(ctx, s.resource, q)
	if err != nil {
		s.logger.Error("could not render map",
			zap.String("resource", s.resource),
			zap.Error(err),
		)
		return nil, &Error{Message: err.Error()}
	}

	res.Opacity = s.opacity
	return res, nil
}

// Resource returns the configured (possibly templated) resource identifier.
func (s *Source) Resource() string { return s.resource }
