// Package viewer wires annotations, their fetch coordinators and their
// render bridges to one renderer.
//
// Every annotation added to a Viewer gets its own goroutine (its
// coordinator), which owns the annotation, its element store and its
// bridge. Viewer-wide state such as the viewport and the highlight
// selectors is fanned out to every annotation.
//
//	v, err := viewer.New(client, renderer, viewer.WithConfig(cfg))
//	h := v.Add(ann)
//	v.SetView(view)
//	mode, err := h.Load(ctx)
package viewer

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/fetch"
	"github.com/gogpu/annot/region"
	"github.com/gogpu/annot/render"
)

// ErrClosed is returned by a closed Viewer.
var ErrClosed = errors.New("viewer: closed")

// Client is the server API a Viewer needs: element and centroid queries
// plus annotation saves. *rest.Client implements it.
type Client interface {
	fetch.Client
	Create(ctx context.Context, itemID string, body annotation.Body) (*annotation.Document, error)
	Update(ctx context.Context, id string, body annotation.Body) (*annotation.Document, error)
	Patch(ctx context.Context, id string, changes []element.ChangeEntry) (*annotation.Document, error)
	Delete(ctx context.Context, id string) error
}

// Viewer shows a set of annotations through one renderer.
type Viewer struct {
	client   Client
	renderer render.Renderer
	opts     options
	metrics  *fetch.Metrics

	mu        sync.Mutex
	handles   []*Handle
	view      region.View
	hasView   bool
	selectors render.Selectors
	closed    bool
}

// New creates a viewer. The configuration is validated.
func New(client Client, renderer render.Renderer, opts ...Option) (*Viewer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if o.logger != nil {
		annot.SetLogger(o.logger)
	}
	return &Viewer{
		client:    client,
		renderer:  renderer,
		opts:      o,
		metrics:   fetch.NewMetrics(o.registerer),
		selectors: o.selectors,
	}, nil
}

// Add starts showing a. Saved annotations are fetched right away for the
// current view. The viewer takes ownership of a.
func (v *Viewer) Add(a *annotation.Annotation) (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}

	h := &Handle{v: v}
	h.coord = fetch.NewCoordinator(a, v.client,
		fetch.WithConfig(v.opts.config),
		fetch.WithMetrics(v.metrics),
		fetch.WithHandler(h.handle),
	)
	layer := v.renderer.NewLayer()
	sel := v.selectors
	_ = h.coord.Do(func(a *annotation.Annotation) {
		h.bridge = render.NewBridge(layer, a,
			render.WithFadeOpacity(v.opts.config.FadeOpacity),
			render.WithDispatch(h.dispatch),
		)
		h.bridge.SetSelectors(sel)
		h.sync()
	})
	if v.hasView {
		h.coord.SetView(v.view)
	}
	if !a.IsNew() {
		h.initial = h.coord.Fetch(fetch.Options{})
	}
	v.handles = append(v.handles, h)
	return h, nil
}

// Remove stops showing the annotation of h and releases its layer.
func (v *Viewer) Remove(h *Handle) {
	v.mu.Lock()
	v.handles = slices.DeleteFunc(v.handles, func(x *Handle) bool { return x == h })
	v.mu.Unlock()
	h.close()
}

// Handles returns the annotations currently shown.
func (v *Viewer) Handles() []*Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.handles)
}

// SetView reports a viewport change to every annotation.
func (v *Viewer) SetView(view region.View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.view, v.hasView = view, true
	for _, h := range v.handles {
		h.coord.SetView(view)
	}
}

// Highlight fades every element except the given one. An empty elementID
// highlights the whole annotation; an empty annotationID clears the
// highlight.
func (v *Viewer) Highlight(annotationID, elementID string) {
	v.updateSelectors(func(s *render.Selectors) {
		s.HighlightAnnotation, s.HighlightElement = annotationID, elementID
	})
}

// Hide hides an element, or a whole annotation when elementID is empty. An
// empty annotationID shows everything again.
func (v *Viewer) Hide(annotationID, elementID string) {
	v.updateSelectors(func(s *render.Selectors) {
		s.HideAnnotation, s.HideElement = annotationID, elementID
	})
}

// SetFillOpacity multiplies the fill opacity of every element.
func (v *Viewer) SetFillOpacity(f float64) {
	v.updateSelectors(func(s *render.Selectors) {
		s.FillOpacity = f
	})
}

// Selectors returns the current selectors.
func (v *Viewer) Selectors() render.Selectors {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selectors
}

func (v *Viewer) updateSelectors(fn func(*render.Selectors)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.selectors)
	sel := v.selectors
	for _, h := range v.handles {
		_ = h.coord.Do(func(*annotation.Annotation) {
			if h.bridge != nil {
				h.bridge.SetSelectors(sel)
			}
		})
	}
}

// Refresh starts a new fetch epoch for every saved annotation.
func (v *Viewer) Refresh() {
	for _, h := range v.Handles() {
		h.coord.Refresh()
	}
}

// Metrics returns the fetch metrics shared by the annotations.
func (v *Viewer) Metrics() *fetch.Metrics {
	return v.metrics
}

// Close removes every annotation. Close must not be called from an
// EventHandler.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	handles := v.handles
	v.handles = nil
	v.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	return nil
}
