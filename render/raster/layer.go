// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raster

import (
	"context"
	"image"
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/render"
)

// Layer is the sublayer of one annotation. It keeps what it was given and
// rasterizes it on every Renderer.Render call.
type Layer struct {
	r *Renderer
	z int

	mu       sync.Mutex
	elements []element.Element
	styles   []element.Style
	summary  *centroid.Summary
	shown    []bool
	opacity  float64
	overlays []*overlay
	closed   bool
}

var _ render.Layer = (*Layer)(nil)

// DrawElements replaces the features of the layer.
func (l *Layer) DrawElements(elements []element.Element, styles []element.Style) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.elements, l.styles = elements, styles
}

// SetStyles replaces the feature styles.
func (l *Layer) SetStyles(styles []element.Style) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(styles) != len(l.elements) {
		annot.Logger().Warn("raster: style count does not match features",
			"styles", len(styles), "features", len(l.elements))
		return
	}
	l.styles = styles
}

// DrawCentroids replaces the centroid markers.
func (l *Layer) DrawCentroids(s *centroid.Summary, shown []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary, l.shown = s, slices.Clone(shown)
}

// SetCentroidsShown changes which markers are drawn.
func (l *Layer) SetCentroidsShown(shown []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shown = slices.Clone(shown)
}

// ClearCentroids removes the centroid markers.
func (l *Layer) ClearCentroids() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary, l.shown = nil, nil
}

// SetOpacity sets the layer opacity.
func (l *Layer) SetOpacity(opacity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opacity = opacity
}

// LoadOverlay fetches and prepares the raster of an image or pixelmap
// element. It is safe for concurrent use.
func (l *Layer) LoadOverlay(ctx context.Context, e element.Element) (render.OverlaySource, error) {
	return l.r.loadOverlay(ctx, e)
}

// AddOverlay shows a loaded overlay below the features of the layer. A
// texture whose format the target cannot composite is kept as an empty
// overlay.
func (l *Layer) AddOverlay(src render.OverlaySource) render.Overlay {
	o := &overlay{id: src.ElementID()}
	if s, ok := src.(*overlaySource); ok {
		if err := l.r.target.checkTexture(s.desc); err != nil {
			annot.Logger().Warn("raster: overlay not shown", "element", o.id, "error", err)
		} else {
			o.src = s
		}
	} else {
		annot.Logger().Warn("raster: overlay source from another renderer", "element", o.id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overlays = append(l.overlays, o)
	return o
}

// RemoveOverlay removes an overlay.
func (l *Layer) RemoveOverlay(o render.Overlay) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overlays = slices.DeleteFunc(l.overlays, func(x *overlay) bool {
		return render.Overlay(x) == o
	})
}

// Close removes the layer from its renderer.
func (l *Layer) Close() {
	l.r.removeLayer(l)
}

// Overlays returns the number of overlays shown.
func (l *Layer) Overlays() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.overlays)
}

// paint rasterizes the layer into dst. The caller holds l.mu.
func (l *Layer) paint(dst *image.RGBA, v view, opts *options) {
	p := newPainter(dst, v.m)

	for _, o := range l.overlays {
		if o.src != nil {
			o.src.paint(dst, v.m)
		}
	}

	scale := v.m.ScaleFactor()
	if scale <= 0 {
		return
	}
	pad := (opts.pointRadius + 2*maxStroke(l.styles)) / scale
	for i := range l.elements {
		e := &l.elements[i]
		if i >= len(l.styles) {
			break
		}
		if !e.Bound().Pad(pad).Intersects(v.world) {
			continue
		}
		paintElement(p, e, l.styles[i], scale, opts)
	}

	if l.summary != nil {
		paintCentroids(p, l.summary, l.shown, v)
	}
}

func maxStroke(styles []element.Style) float64 {
	w := 0.0
	for _, s := range styles {
		w = math.Max(w, s.StrokeWidth)
	}
	return w
}

// paintElement draws one feature.
func paintElement(p *painter, e *element.Element, s element.Style, scale float64, opts *options) {
	fill := s.FillOpacity > 0
	stroke := s.StrokeOpacity > 0 && s.StrokeWidth > 0

	switch e.Type {
	case element.TypePoint:
		c := p.screen(e.Centroid())
		ring := circle(c, opts.pointRadius)
		if fill {
			p.fill([]orb.Ring{ring}, nrgba(s.FillColor, s.FillOpacity))
		}
		if stroke {
			p.stroke(ring, false, s.StrokeWidth, nrgba(s.StrokeColor, s.StrokeOpacity))
		}

	case element.TypePolyline:
		outer := p.screenRing(e.LineString())
		if fill && e.Closed {
			holes := make([]orb.Ring, 0, len(e.Holes))
			for _, h := range e.Holes {
				holes = append(holes, p.screenRing(worldPoints(h)))
			}
			p.polygon(outer, holes, nrgba(s.FillColor, s.FillOpacity))
		}
		if stroke {
			col := nrgba(s.StrokeColor, s.StrokeOpacity)
			p.stroke(outer, e.Closed, s.StrokeWidth, col)
			if e.Closed {
				for _, h := range e.Holes {
					p.stroke(p.screenRing(worldPoints(h)), true, s.StrokeWidth, col)
				}
			}
		}

	case element.TypeRectangle, element.TypeRectangleGrid, element.TypeCircle, element.TypeEllipse:
		var ring orb.Ring
		switch e.Type {
		case element.TypeCircle:
			ring = p.screenRing(circle(e.Centroid(), e.Radius))
		case element.TypeEllipse:
			ring = p.screenRing(ellipse(e.Centroid(), e.Width/2, e.Height/2, e.Rotation))
		default:
			ring = p.screenRing(e.Corners())
		}
		if fill {
			p.fill([]orb.Ring{ring}, nrgba(s.FillColor, s.FillOpacity))
		}
		if stroke {
			p.stroke(ring, false, s.StrokeWidth, nrgba(s.StrokeColor, s.StrokeOpacity))
		}

	case element.TypeArrow:
		if len(e.Points) < 2 || !stroke {
			break
		}
		line := p.screenRing(e.LineString()[:2])
		col := nrgba(s.StrokeColor, s.StrokeOpacity)
		p.stroke(line, false, s.StrokeWidth, col)
		p.fill([]orb.Ring{arrowHead(line[0], line[1], math.Max(8, 3*s.StrokeWidth))}, col)

	case element.TypeHeatmap:
		paintHeatmap(p, e, s, scale)

	case element.TypeGridData:
		paintGrid(p, e, s)
	}

	if opts.labels && e.Label != nil && e.Label.Value != "" && e.Label.Visibility != "hidden" {
		col := element.MustParseColor(e.Label.Color, element.Black)
		p.label(e.Label.Value, p.screen(e.Centroid()), nrgba(col, col.A*math.Max(s.FillOpacity, s.StrokeOpacity)))
	}
}

// arrowHead returns the triangle at the b end of the segment a→b.
func arrowHead(a, b orb.Point, size float64) orb.Ring {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return nil
	}
	ux, uy := dx/l, dy/l
	base := orb.Point{b[0] - ux*size, b[1] - uy*size}
	hw := size / 2
	return orb.Ring{
		b,
		{base[0] - uy*hw, base[1] + ux*hw},
		{base[0] + uy*hw, base[1] - ux*hw},
		b,
	}
}

// paintHeatmap draws every heatmap point as a disc colored by its value.
// The stroke opacity carries the highlight and hide state.
func paintHeatmap(p *painter, e *element.Element, s element.Style, scale float64) {
	if s.StrokeOpacity <= 0 {
		return
	}
	radius := e.Radius
	if radius <= 0 {
		radius = DefaultHeatmapRadius
	}
	cm := newColormap(e, heatmapValues(e))
	for _, pt := range e.Points {
		if len(pt) < 4 {
			continue
		}
		c := cm.At(pt[3])
		if c.A <= 0 {
			continue
		}
		ring := circle(p.screen(orb.Point{pt[0], pt[1]}), math.Max(1, radius*scale))
		p.fill([]orb.Ring{ring}, nrgba(c, c.A*s.StrokeOpacity))
	}
}

// paintGrid draws griddata values as colored cells centered on the grid
// points.
func paintGrid(p *painter, e *element.Element, s element.Style) {
	if s.StrokeOpacity <= 0 || e.GridWidth <= 0 {
		return
	}
	var ox, oy float64
	if len(e.Origin) >= 2 {
		ox, oy = e.Origin[0], e.Origin[1]
	}
	dx, dy := e.DX, e.DY
	if dx == 0 {
		dx = 1
	}
	if dy == 0 {
		dy = 1
	}
	cm := newColormap(e, e.Values)
	for i, v := range e.Values {
		c := cm.At(v)
		if c.A <= 0 {
			continue
		}
		x := ox + float64(i%e.GridWidth)*dx
		y := oy + float64(i/e.GridWidth)*dy
		ring := p.screenRing([]orb.Point{
			{x - dx/2, y - dy/2}, {x + dx/2, y - dy/2}, {x + dx/2, y + dy/2}, {x - dx/2, y + dy/2}, {x - dx/2, y - dy/2},
		})
		p.fill([]orb.Ring{ring}, nrgba(c, c.A*s.StrokeOpacity))
	}
}

// paintCentroids draws a marker per shown summary record.
func paintCentroids(p *painter, s *centroid.Summary, shown []bool, v view) {
	for i := range s.Len() {
		if i < len(shown) && !shown[i] {
			continue
		}
		st := s.Style(i)
		r := math.Max(1, v.pixelRadius(s.DisplayRadius(i)))
		c := p.screen(orb.Point{float64(s.X[i]), float64(s.Y[i])})
		if c[0]+r < p.clip.Min[0] || c[0]-r > p.clip.Max[0] || c[1]+r < p.clip.Min[1] || c[1]-r > p.clip.Max[1] {
			continue
		}
		ring := circle(c, r)
		if st.FillOpacity > 0 {
			p.fill([]orb.Ring{ring}, nrgba(st.FillColor, st.FillOpacity))
		}
		if st.StrokeOpacity > 0 && st.StrokeWidth > 0 {
			p.stroke(ring, false, math.Min(st.StrokeWidth, r), nrgba(st.StrokeColor, st.StrokeOpacity))
		}
	}
}

func worldPoints(points [][]float64) []orb.Point {
	out := make([]orb.Point, 0, len(points))
	for _, pt := range points {
		if len(pt) >= 2 {
			out = append(out, orb.Point{pt[0], pt[1]})
		}
	}
	return out
}
