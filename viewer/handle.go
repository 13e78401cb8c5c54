package viewer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/fetch"
	"github.com/gogpu/annot/render"
)

// Handle is one annotation shown by a Viewer. Its methods may be called
// from any goroutine except the annotation's own (an EventHandler).
type Handle struct {
	v     *Viewer
	coord *fetch.Coordinator

	mu      sync.Mutex
	initial <-chan fetch.Result // fetch started by Add, not yet waited for

	// Owned by the coordinator goroutine.
	bridge  *render.Bridge
	summary *centroid.Summary
	epoch   uint64
}

// handle receives the coordinator events.
func (h *Handle) handle(_ *annotation.Annotation, ev fetch.Event) {
	if ev.Kind == fetch.EventFetched {
		h.summary, h.epoch = ev.Centroids, ev.Epoch
		h.sync()
	}
	if h.v.opts.onEvent != nil {
		h.v.opts.onEvent(h, ev)
	}
}

// sync brings the layer up to date. Runs on the coordinator goroutine.
func (h *Handle) sync() {
	if h.bridge != nil {
		h.bridge.Sync(h.summary, h.epoch)
	}
}

func (h *Handle) dispatch(fn func()) bool {
	return h.coord.Do(func(*annotation.Annotation) { fn() }) == nil
}

// Load waits for the fetch started by Add, or fetches the annotation if
// that one was already waited for. For a partial annotation it also waits
// until the elements of the current view are paged in.
func (h *Handle) Load(ctx context.Context) (annotation.Mode, error) {
	h.mu.Lock()
	ch := h.initial
	h.initial = nil
	h.mu.Unlock()
	if ch == nil {
		ch = h.coord.Fetch(fetch.Options{})
	}
	mode, err := h.wait(ctx, ch)
	if err != nil || mode != annotation.ModePartial {
		return mode, err
	}
	return h.wait(ctx, h.coord.Idle())
}

// Refresh discards the fetch state and fetches again.
func (h *Handle) Refresh(ctx context.Context) (annotation.Mode, error) {
	return h.wait(ctx, h.coord.Refresh())
}

func (h *Handle) wait(ctx context.Context, ch <-chan fetch.Result) (annotation.Mode, error) {
	select {
	case r := <-ch:
		return r.Mode, r.Err
	case <-ctx.Done():
		return annotation.ModeUnknown, ctx.Err()
	}
}

// State returns the fetch state of the annotation.
func (h *Handle) State(ctx context.Context) (fetch.State, error) {
	return h.coord.State(ctx)
}

// LOD returns the level of detail the annotation is shown at.
func (h *Handle) LOD(ctx context.Context) (render.LOD, error) {
	var lod render.LOD
	err := h.coord.Call(ctx, func(*annotation.Annotation) error {
		if h.bridge != nil {
			lod = h.bridge.LOD()
		}
		return nil
	})
	return lod, err
}

// Do runs fn with the annotation on its goroutine and redraws afterwards.
func (h *Handle) Do(ctx context.Context, fn func(a *annotation.Annotation) error) error {
	return h.coord.Call(ctx, func(a *annotation.Annotation) error {
		err := fn(a)
		h.sync()
		return err
	})
}

// ID returns the server id of the annotation, empty while it is unsaved.
func (h *Handle) ID(ctx context.Context) (string, error) {
	var id string
	err := h.coord.Call(ctx, func(a *annotation.Annotation) error {
		id = a.ID
		return nil
	})
	return id, err
}

// AddElement validates e and adds it. A missing id is generated.
func (h *Handle) AddElement(ctx context.Context, e element.Element) (string, error) {
	var id string
	err := h.Do(ctx, func(a *annotation.Annotation) error {
		var err error
		id, err = a.Store().Add(e)
		return err
	})
	return id, err
}

// UpdateElement replaces the element with the same id.
func (h *Handle) UpdateElement(ctx context.Context, e element.Element) error {
	return h.Do(ctx, func(a *annotation.Annotation) error {
		return a.Store().Update(e)
	})
}

// RemoveElement removes an element.
func (h *Handle) RemoveElement(ctx context.Context, id string) error {
	return h.Do(ctx, func(a *annotation.Annotation) error {
		return a.Store().Remove(id)
	})
}

// Elements returns every element. It fails with
// annotation.ErrPartialAnnotation when only part of them is loaded.
func (h *Handle) Elements(ctx context.Context) ([]element.Element, error) {
	var out []element.Element
	err := h.coord.Call(ctx, func(a *annotation.Annotation) error {
		var err error
		out, err = a.Elements()
		return err
	})
	return out, err
}

// SetOpacity sets the opacity of the annotation layer.
func (h *Handle) SetOpacity(opacity float64) error {
	return h.coord.Do(func(*annotation.Annotation) {
		if h.bridge != nil {
			h.bridge.SetOpacity(opacity)
		}
	})
}

// Save creates or updates the annotation on the server.
//
// An unsaved annotation is created with all of its elements. A versioned
// annotation with pending element changes sends them as a change log;
// otherwise the annotation is updated, with its elements only when they
// are all loaded. Edits wait until the server answers.
func (h *Handle) Save(ctx context.Context) error {
	client := h.v.client
	return h.coord.Call(ctx, func(a *annotation.Annotation) error {
		var (
			doc *annotation.Document
			err error
			op  string
		)
		switch log := a.ChangeLog(); {
		case a.IsNew():
			op = "create"
			doc, err = client.Create(ctx, a.ItemID, a.SaveBody())
		case a.Versioned() && log != nil && log.Len() > 0:
			op = "patch"
			doc, err = client.Patch(ctx, a.ID, log.Entries())
		default:
			op = "update"
			doc, err = client.Update(ctx, a.ID, a.SaveBody())
		}
		if err != nil {
			return fmt.Errorf("viewer: %s annotation: %w", op, err)
		}
		a.MarkSaved(doc)
		annot.Logger().Debug("viewer: annotation saved", "annotation", a.ID, "op", op, "version", a.Version)
		return nil
	})
}

// Delete deletes the annotation on the server and removes it from the
// viewer.
func (h *Handle) Delete(ctx context.Context) error {
	client := h.v.client
	err := h.coord.Call(ctx, func(a *annotation.Annotation) error {
		if a.IsNew() {
			return nil
		}
		if err := client.Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("viewer: delete annotation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.v.Remove(h)
	return nil
}

// close releases the layer and stops the coordinator.
func (h *Handle) close() {
	_ = h.coord.Call(context.Background(), func(*annotation.Annotation) error {
		if h.bridge != nil {
			h.bridge.Close()
			h.bridge = nil
		}
		return nil
	})
	_ = h.coord.Close()
}
