// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/element"
)

// LOD is the level of detail an annotation is shown at.
type LOD int

const (
	// LODEmpty means nothing has been drawn in the current epoch.
	LODEmpty LOD = iota
	// LODCentroids means the centroid summary is drawn, with the elements
	// of the current region drawn in full on top of it.
	LODCentroids
	// LODFull means every element is drawn in full.
	LODFull
)

// String returns the level name.
func (l LOD) String() string {
	switch l {
	case LODCentroids:
		return "centroids"
	case LODFull:
		return "full"
	default:
		return "empty"
	}
}

// Selectors drive the opacity pass. They are shared by every annotation of
// a viewer; empty ids select nothing.
type Selectors struct {
	HighlightAnnotation string
	HighlightElement    string
	HideAnnotation      string
	HideElement         string
	// FillOpacity multiplies every fill opacity.
	FillOpacity float64
}

// DefaultSelectors selects nothing and keeps fill opacities.
func DefaultSelectors() Selectors {
	return Selectors{FillOpacity: 1}
}

// passKey is the memo key of the opacity pass.
type passKey struct {
	count               int
	annotationID        string
	fillOpacity         float64
	highlightAnnotation string
	highlightElement    string
	hideAnnotation      string
	hideElement         string
}

// Dispatch runs fn on the goroutine that owns a Bridge. It returns false if
// fn will never run.
type Dispatch func(fn func()) bool

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithFadeOpacity sets the opacity factor of elements outside the current
// highlight.
func WithFadeOpacity(f float64) BridgeOption {
	return func(b *Bridge) {
		b.fade = f
	}
}

// WithDispatch sets how overlay loads hand their result back. Without it,
// overlays are loaded synchronously.
func WithDispatch(d Dispatch) BridgeOption {
	return func(b *Bridge) {
		b.dispatch = d
	}
}

type overlayEntry struct {
	sig     string
	pending bool
	overlay Overlay
}

// Bridge drives the Layer of one annotation from its element store and
// centroid summary.
//
// A Bridge is owned by the goroutine that owns the annotation.
type Bridge struct {
	layer    Layer
	ann      *annotation.Annotation
	fade     float64
	dispatch Dispatch
	ctx      context.Context
	cancel   context.CancelFunc

	lod       LOD
	epoch     uint64
	summary   *centroid.Summary
	shown     []bool
	seq       uint64
	drawn     bool
	features  []element.Element
	base      []element.Style
	selectors Selectors
	lastPass  passKey
	havePass  bool
	passes    int
	opacity   float64
	overlays  map[string]*overlayEntry
}

// NewBridge creates a bridge drawing a into layer.
func NewBridge(layer Layer, a *annotation.Annotation, opts ...BridgeOption) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		layer:     layer,
		ann:       a,
		fade:      annot.DefaultFadeOpacity,
		ctx:       ctx,
		cancel:    cancel,
		selectors: DefaultSelectors(),
		opacity:   1,
		overlays:  make(map[string]*overlayEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LOD returns the current level of detail.
func (b *Bridge) LOD() LOD {
	return b.lod
}

// Shown returns a copy of the centroid visibility array.
func (b *Bridge) Shown() []bool {
	return slices.Clone(b.shown)
}

// Passes returns how many times the opacity pass has been applied.
func (b *Bridge) Passes() int {
	return b.passes
}

// Sync brings the layer up to date with the annotation and the centroid
// summary of epoch. A newer epoch starts from LODEmpty.
func (b *Bridge) Sync(s *centroid.Summary, epoch uint64) {
	if epoch != b.epoch {
		b.resetEpoch(epoch)
	}

	switch {
	case s != nil && b.lod == LODFull:
		annot.Logger().Warn("render: centroid summary ignored, annotation already shown in full",
			"annotation", b.ann.ID, "epoch", epoch)
	case s != nil:
		if s != b.summary {
			b.summary = s
			b.shown = b.computeShown()
			b.layer.DrawCentroids(s, b.shown)
		}
		b.lod = LODCentroids
	case b.ann.Mode == annotation.ModeFull || b.ann.IsNew():
		if b.summary != nil {
			b.layer.ClearCentroids()
			b.summary, b.shown = nil, nil
		}
		b.lod = LODFull
	}

	store := b.ann.Store()
	if !b.drawn || store.Seq() != b.seq {
		b.redraw()
		b.syncOverlays()
		if b.summary != nil {
			b.updateShown()
		}
	}
	b.applyPass()
}

// SetSelectors changes the highlight and hide selectors and the global
// fill opacity. The layer is only touched if the outcome changes.
func (b *Bridge) SetSelectors(sel Selectors) {
	b.selectors = sel
	b.applyPass()
}

// SetOpacity sets the layer opacity.
func (b *Bridge) SetOpacity(opacity float64) {
	if opacity == b.opacity {
		return
	}
	b.opacity = opacity
	b.layer.SetOpacity(opacity)
}

// Close removes the layer and drops pending overlay loads.
func (b *Bridge) Close() {
	b.cancel()
	b.overlays = make(map[string]*overlayEntry)
	b.layer.Close()
}

func (b *Bridge) resetEpoch(epoch uint64) {
	b.epoch = epoch
	if b.summary != nil {
		b.layer.ClearCentroids()
	}
	b.summary, b.shown = nil, nil
	b.lod = LODEmpty
}

// redraw replaces the features with the current store content. Overlay
// elements are not features.
func (b *Bridge) redraw() {
	store := b.ann.Store()
	features := make([]element.Element, 0, store.Len())
	base := make([]element.Style, 0, store.Len())
	store.Each(func(e *element.Element) bool {
		if !e.IsOverlay() {
			features = append(features, *e)
			base = append(base, e.Style())
		}
		return true
	})
	b.features, b.base = features, base
	b.seq = store.Seq()
	b.drawn = true
	b.layer.DrawElements(b.features, b.styles())
	b.passes++
	b.lastPass, b.havePass = b.key(), true
}

// applyPass recomputes feature opacities if the selectors, the global fill
// opacity or the feature set changed since the last pass.
func (b *Bridge) applyPass() {
	if !b.drawn {
		return
	}
	k := b.key()
	if b.havePass && k == b.lastPass {
		return
	}
	b.layer.SetStyles(b.styles())
	b.passes++
	b.lastPass, b.havePass = k, true
}

func (b *Bridge) key() passKey {
	return passKey{
		count:               len(b.features),
		annotationID:        b.ann.ID,
		fillOpacity:         b.selectors.FillOpacity,
		highlightAnnotation: b.selectors.HighlightAnnotation,
		highlightElement:    b.selectors.HighlightElement,
		hideAnnotation:      b.selectors.HideAnnotation,
		hideElement:         b.selectors.HideElement,
	}
}

// styles applies the selectors to the base styles.
func (b *Bridge) styles() []element.Style {
	sel := b.selectors
	id := b.ann.ID
	out := make([]element.Style, len(b.base))
	for i, s := range b.base {
		eid := b.features[i].ID
		if sel.HideAnnotation != "" && sel.HideAnnotation == id &&
			(sel.HideElement == "" || sel.HideElement == eid) {
			s.FillOpacity, s.StrokeOpacity = 0, 0
			out[i] = s
			continue
		}
		factor := 1.0
		if sel.HighlightAnnotation != "" &&
			(sel.HighlightAnnotation != id || (sel.HighlightElement != "" && sel.HighlightElement != eid)) {
			factor = b.fade
		}
		s.FillOpacity *= sel.FillOpacity * factor
		s.StrokeOpacity *= factor
		out[i] = s
	}
	return out
}

func (b *Bridge) computeShown() []bool {
	store := b.ann.Store()
	shown := make([]bool, b.summary.Len())
	for i, id := range b.summary.ID {
		shown[i] = !store.Has(id)
	}
	return shown
}

// updateShown hides the markers of elements now drawn in full and shows
// the markers of elements no longer drawn.
func (b *Bridge) updateShown() {
	shown := b.computeShown()
	if slices.Equal(shown, b.shown) {
		return
	}
	b.shown = shown
	b.layer.SetCentroidsShown(shown)
}

// syncOverlays adds missing overlays, replaces changed ones and removes
// those whose element is gone. Loads still in progress count as present.
func (b *Bridge) syncOverlays() {
	current := make(map[string]bool)
	b.ann.Store().Each(func(e *element.Element) bool {
		if !e.IsOverlay() {
			return true
		}
		current[e.ID] = true
		sig := signature(e)
		if entry, ok := b.overlays[e.ID]; ok {
			if entry.sig == sig {
				return true
			}
			b.dropOverlay(e.ID, entry)
		}
		b.loadOverlay(*e, sig)
		return true
	})
	for id, entry := range b.overlays {
		if !current[id] {
			b.dropOverlay(id, entry)
		}
	}
}

func (b *Bridge) dropOverlay(id string, entry *overlayEntry) {
	if !entry.pending {
		b.layer.RemoveOverlay(entry.overlay)
	}
	delete(b.overlays, id)
}

func (b *Bridge) loadOverlay(e element.Element, sig string) {
	entry := &overlayEntry{sig: sig, pending: true}
	b.overlays[e.ID] = entry

	if b.dispatch == nil {
		src, err := b.layer.LoadOverlay(b.ctx, e)
		b.overlayLoaded(e.ID, entry, src, err)
		return
	}
	ctx, layer, dispatch := b.ctx, b.layer, b.dispatch
	go func() {
		src, err := layer.LoadOverlay(ctx, e)
		if !dispatch(func() { b.overlayLoaded(e.ID, entry, src, err) }) {
			annot.Logger().Debug("render: overlay load finished after close", "element", e.ID)
		}
	}()
}

// overlayLoaded completes a load. A load whose entry was replaced or
// removed meanwhile is discarded.
func (b *Bridge) overlayLoaded(id string, entry *overlayEntry, src OverlaySource, err error) {
	if b.overlays[id] != entry {
		return
	}
	if err != nil {
		annot.Logger().Warn("render: overlay load failed", "annotation", b.ann.ID, "element", id, "error", err)
		delete(b.overlays, id)
		return
	}
	entry.overlay = b.layer.AddOverlay(src)
	entry.pending = false
}

// signature identifies the content of an overlay element.
func signature(e *element.Element) string {
	buf, err := json.Marshal(e)
	if err != nil {
		return e.ID
	}
	return string(buf)
}
