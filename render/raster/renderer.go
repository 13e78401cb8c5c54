// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package raster is a software implementation of render.Renderer.
//
// Features are rasterized with golang.org/x/image/vector, overlays are
// resampled with golang.org/x/image/draw, and every annotation layer is a
// z-ordered sublayer of a Target composited with its own opacity.
//
//	r, err := raster.NewRenderer(1024, 768, raster.WithSource(client))
//	layer := r.NewLayer()
//	...
//	r.SetView(view)
//	img := r.Render()
//
// Renderer and its layers are safe for concurrent use: each annotation may
// drive its layer from its own goroutine while another renders.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/internal/lru"
	"github.com/gogpu/annot/region"
	"github.com/gogpu/annot/render"
	"github.com/gogpu/annot/rest"
)

// Errors returned by the renderer.
var (
	ErrInvalidSize = errors.New("raster: invalid image size")
	ErrNoSource    = errors.New("raster: no overlay source configured")
)

// Defaults of the renderer options.
const (
	DefaultPointRadius    = 5.0
	DefaultMaxOverlaySize = 2048
	DefaultCacheSize      = 4
)

type options struct {
	source         Source
	background     color.Color
	labels         bool
	pointRadius    float64
	maxOverlaySize int
	cacheSize      int
}

// Option configures a Renderer.
type Option func(*options)

// WithSource sets where overlay metadata and pixels are fetched from.
func WithSource(s Source) Option {
	return func(o *options) {
		o.source = s
	}
}

// WithBackground sets the color the image is cleared to before layers are
// composited. The default is transparent.
func WithBackground(c color.Color) Option {
	return func(o *options) {
		o.background = c
	}
}

// WithLabels enables or disables element labels.
func WithLabels(enabled bool) Option {
	return func(o *options) {
		o.labels = enabled
	}
}

// WithPointRadius sets the screen radius of point elements.
func WithPointRadius(px float64) Option {
	return func(o *options) {
		o.pointRadius = px
	}
}

// WithMaxOverlaySize bounds the long side of fetched overlay rasters.
func WithMaxOverlaySize(px int) Option {
	return func(o *options) {
		if px > 0 {
			o.maxOverlaySize = px
		}
	}
}

// WithCacheSize sets how many overlay rasters each cache shard keeps.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// view is the world to screen mapping of one frame.
type view struct {
	m       render.Matrix
	world   orb.Bound
	zoom    float64
	maxZoom float64
}

// pixelRadius converts a centroid display radius to screen pixels.
func (v view) pixelRadius(displayRadius float64) float64 {
	if v.maxZoom > 0 {
		return centroid.PixelRadius(displayRadius, v.zoom, v.maxZoom)
	}
	return displayRadius * v.m.ScaleFactor()
}

// Renderer draws annotation layers into an image.
type Renderer struct {
	opts    options
	rasters *lru.Cache[string, image.Image]
	infos   *lru.Cache[string, *rest.TileInfo]

	mu     sync.Mutex
	target *Target
	layers []*Layer
	nextZ  int
	view   view
}

var _ render.Renderer = (*Renderer)(nil)

// NewRenderer creates a renderer producing width×height images. The
// initial view shows world coordinates one to one from the origin.
func NewRenderer(width, height int, opts ...Option) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	o := options{
		background:     color.Transparent,
		labels:         true,
		pointRadius:    DefaultPointRadius,
		maxOverlaySize: DefaultMaxOverlaySize,
		cacheSize:      DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Renderer{
		opts:    o,
		rasters: lru.New[string, image.Image](o.cacheSize, lru.StringHasher),
		infos:   lru.New[string, *rest.TileInfo](o.cacheSize*4, lru.StringHasher),
		target:  NewTarget(width, height),
	}
	r.SetView(region.View{Bounds: region.Bounds{Right: float64(width), Bottom: float64(height)}})
	return r, nil
}

// NewLayer creates an empty layer above the existing ones.
func (r *Renderer) NewLayer() render.Layer {
	r.mu.Lock()
	defer r.mu.Unlock()

	z := r.nextZ
	r.nextZ++
	if _, err := r.target.CreateLayer(z); err != nil {
		// z values are never reused.
		panic(err)
	}
	l := &Layer{r: r, z: z, opacity: 1}
	r.layers = append(r.layers, l)
	return l
}

func (r *Renderer) removeLayer(l *Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.elements, l.styles, l.summary, l.shown, l.overlays = nil, nil, nil, nil, nil
	r.layers = slices.DeleteFunc(r.layers, func(x *Layer) bool { return x == l })
	_ = r.target.RemoveLayer(l.z)
}

// SetView sets the visible world bounds. Zoom and MaxZoom, when set, size
// the centroid markers; otherwise they follow the bounds.
func (r *Renderer) SetView(v region.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := render.ViewMatrix(v.Bounds, r.target.Width(), r.target.Height())
	inv := m.Invert()
	tl := inv.Apply(render.Point{})
	br := inv.Apply(render.Point{X: float64(r.target.Width()), Y: float64(r.target.Height())})
	world := orb.Bound{Min: orb.Point{tl.X, tl.Y}, Max: orb.Point{tl.X, tl.Y}}.Extend(orb.Point{br.X, br.Y})
	r.view = view{m: m, world: world, zoom: v.Zoom, maxZoom: v.MaxZoom}
}

// Matrix returns the current world to screen matrix.
func (r *Renderer) Matrix() render.Matrix {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.m
}

// Render rasterizes every layer at the current view and returns the
// composited image. The returned image is owned by the caller.
func (r *Renderer) Render() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.target.Clear(r.opts.background)
	for _, l := range r.layers {
		l.mu.Lock()
		r.target.ClearLayer(l.z)
		r.target.SetLayerOpacity(l.z, l.opacity)
		if l.opacity > 0 {
			l.paint(r.target.layers[l.z].img, r.view, &r.opts)
		}
		l.mu.Unlock()
	}
	r.target.Composite()

	out := image.NewRGBA(r.target.Image().Bounds())
	copy(out.Pix, r.target.Image().Pix)
	return out
}

// CacheStats returns the statistics of the overlay raster cache.
func (r *Renderer) CacheStats() lru.Stats {
	return r.rasters.Stats()
}
