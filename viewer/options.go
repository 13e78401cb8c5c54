package viewer

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/fetch"
	"github.com/gogpu/annot/render"
)

// EventHandler observes the fetch events of every annotation. It runs on
// the goroutine of the annotation and must not block on the same Handle.
type EventHandler func(h *Handle, ev fetch.Event)

type options struct {
	config     annot.Config
	registerer prometheus.Registerer
	logger     *slog.Logger
	onEvent    EventHandler
	selectors  render.Selectors
}

func defaultOptions() options {
	return options{
		config:    annot.DefaultConfig(),
		selectors: render.DefaultSelectors(),
	}
}

// Option configures a Viewer.
type Option func(*options)

// WithConfig sets the fetch and render tunables.
func WithConfig(cfg annot.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithRegisterer registers the fetch metrics of the viewer on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger sets the package logger used by every annot package.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEventHandler sets a handler notified of every fetch event.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) {
		o.onEvent = h
	}
}

// WithFillOpacity sets the initial global fill opacity.
func WithFillOpacity(f float64) Option {
	return func(o *options) {
		o.selectors.FillOpacity = f
	}
}
