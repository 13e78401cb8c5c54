// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/render"
)

// clipPad is how far outside the image shapes are kept before clipping,
// so that clipped edges never show.
const clipPad = 16

// painter rasterizes screen-space shapes into one image.
//
// Shapes are clipped to the image (plus clipPad) before rasterization and
// the rasterizer only covers the clipped bound of each shape.
type painter struct {
	dst  *image.RGBA
	m    render.Matrix
	clip orb.Bound
	r    vector.Rasterizer
}

func newPainter(dst *image.RGBA, m render.Matrix) *painter {
	b := dst.Bounds()
	return &painter{
		dst: dst,
		m:   m,
		clip: orb.Bound{
			Min: orb.Point{float64(b.Min.X - clipPad), float64(b.Min.Y - clipPad)},
			Max: orb.Point{float64(b.Max.X + clipPad), float64(b.Max.Y + clipPad)},
		},
	}
}

// screen transforms a world point.
func (p *painter) screen(pt orb.Point) orb.Point {
	s := p.m.Apply(render.Point{X: pt[0], Y: pt[1]})
	return orb.Point{s.X, s.Y}
}

// screenRing transforms world points into a screen ring.
func (p *painter) screenRing(pts []orb.Point) orb.Ring {
	ring := make(orb.Ring, len(pts))
	for i, pt := range pts {
		ring[i] = p.screen(pt)
	}
	return ring
}

// fill rasterizes rings with the non-zero rule. Callers orient holes
// against their outer ring.
func (p *painter) fill(rings []orb.Ring, c color.Color) {
	clipped := make([]orb.Ring, 0, len(rings))
	var bound orb.Bound
	for _, ring := range rings {
		if len(ring) < 3 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring[:len(ring):len(ring)], ring[0])
		}
		ring = clip.Ring(p.clip, ring)
		if len(ring) < 3 {
			continue
		}
		if len(clipped) == 0 {
			bound = ring.Bound()
		} else {
			bound = bound.Union(ring.Bound())
		}
		clipped = append(clipped, ring)
	}
	if len(clipped) == 0 {
		return
	}

	rect := image.Rect(
		int(math.Floor(bound.Min[0])), int(math.Floor(bound.Min[1])),
		int(math.Ceil(bound.Max[0])), int(math.Ceil(bound.Max[1])),
	).Intersect(p.dst.Bounds())
	if rect.Empty() {
		return
	}

	ox, oy := float64(rect.Min.X), float64(rect.Min.Y)
	p.r.Reset(rect.Dx(), rect.Dy())
	for _, ring := range clipped {
		p.r.MoveTo(float32(ring[0][0]-ox), float32(ring[0][1]-oy))
		for _, pt := range ring[1:] {
			p.r.LineTo(float32(pt[0]-ox), float32(pt[1]-oy))
		}
		p.r.ClosePath()
	}
	p.r.Draw(p.dst, rect, image.NewUniform(c), image.Point{})
}

// polygon fills an outer ring and its holes, all in screen space.
func (p *painter) polygon(outer orb.Ring, holes []orb.Ring, c color.Color) {
	rings := make([]orb.Ring, 0, 1+len(holes))
	rings = append(rings, outer)
	dir := outer.Orientation()
	for _, h := range holes {
		if h.Orientation() == dir {
			h = reversed(h)
		}
		rings = append(rings, h)
	}
	p.fill(rings, c)
}

// stroke draws a screen-space line of the given pixel width with square
// caps. Each segment becomes a quad; quads share their orientation so
// overlaps do not cancel.
func (p *painter) stroke(pts []orb.Point, closed bool, width float64, c color.Color) {
	if width <= 0 || len(pts) < 2 {
		return
	}
	n := len(pts) - 1
	if closed {
		n = len(pts)
	}
	hw := width / 2
	quads := make([]orb.Ring, 0, n)
	for i := range n {
		a, b := pts[i], pts[(i+1)%len(pts)]
		dx, dy := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		ux, uy := dx/l*hw, dy/l*hw
		nx, ny := -uy, ux
		a = orb.Point{a[0] - ux, a[1] - uy}
		b = orb.Point{b[0] + ux, b[1] + uy}
		quads = append(quads, orb.Ring{
			{a[0] + nx, a[1] + ny},
			{b[0] + nx, b[1] + ny},
			{b[0] - nx, b[1] - ny},
			{a[0] - nx, a[1] - ny},
			{a[0] + nx, a[1] + ny},
		})
	}
	p.fill(quads, c)
}

// circle returns a screen-space polygon approximating a circle.
func circle(center orb.Point, radius float64) orb.Ring {
	return ellipse(center, radius, radius, 0)
}

// ellipse returns a polygon approximating an ellipse with half axes rx
// and ry, rotated by rotation radians.
func ellipse(center orb.Point, rx, ry, rotation float64) orb.Ring {
	segments := int(math.Max(rx, ry) / 2)
	segments = max(16, min(segments, 128))
	cos, sin := math.Cos(rotation), math.Sin(rotation)
	ring := make(orb.Ring, 0, segments+1)
	for i := range segments {
		t := 2 * math.Pi * float64(i) / float64(segments)
		x, y := rx*math.Cos(t), ry*math.Sin(t)
		ring = append(ring, orb.Point{center[0] + x*cos - y*sin, center[1] + x*sin + y*cos})
	}
	return append(ring, ring[0])
}

// label draws text centered on a screen point.
func (p *painter) label(text string, at orb.Point, c color.Color) {
	d := &font.Drawer{
		Dst:  p.dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
	}
	w := d.MeasureString(text)
	x := fixed.I(int(at[0])) - w/2
	y := fixed.I(int(at[1]) + basicfont.Face7x13.Ascent/2)
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(text)
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		out[len(r)-1-i] = pt
	}
	return out
}

// nrgba converts a style color with an opacity to a color.Color.
func nrgba(c element.RGBA, opacity float64) color.Color {
	return c.WithAlpha(clamp01(opacity)).Color()
}
