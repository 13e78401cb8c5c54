// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"slices"

	"github.com/gogpu/gputypes"
)

// sublayer is a single compositing layer of a Target.
type sublayer struct {
	img     *image.RGBA
	opacity float64
	visible bool
}

// Target is a CPU-backed layered render target. Each annotation layer owns
// one z-ordered sublayer; Composite blends the visible sublayers onto the
// base image in ascending z order with their opacity.
type Target struct {
	base   *image.RGBA
	layers map[int]*sublayer
	zOrder []int
	width  int
	height int
}

// NewTarget creates a layered target of the given size.
func NewTarget(width, height int) *Target {
	return &Target{
		base:   image.NewRGBA(image.Rect(0, 0, width, height)),
		layers: make(map[int]*sublayer),
		width:  width,
		height: height,
	}
}

// Width returns the target width in pixels.
func (t *Target) Width() int {
	return t.width
}

// Height returns the target height in pixels.
func (t *Target) Height() int {
	return t.height
}

// Format returns the pixel format of every sublayer.
func (t *Target) Format() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}

// Extent returns the size of the target as a texture extent.
func (t *Target) Extent() gputypes.Extent3D {
	//nolint:gosec // G115: sizes are validated by NewRenderer
	return gputypes.NewExtent2D(uint32(t.width), uint32(t.height))
}

// checkTexture reports whether a texture can be composited into the
// sublayers of t.
func (t *Target) checkTexture(desc gputypes.TextureDescriptor) error {
	if desc.Format != t.Format() || desc.Dimension != gputypes.TextureDimension2D {
		return fmt.Errorf("%w: %s", ErrOverlayFormat, desc.Format)
	}
	if desc.Size.Width == 0 || desc.Size.Height == 0 || desc.Size.DepthOrArrayLayers != 1 {
		return fmt.Errorf("%w: extent %dx%dx%d", ErrOverlayFormat,
			desc.Size.Width, desc.Size.Height, desc.Size.DepthOrArrayLayers)
	}
	return nil
}

// Image returns the base image. Call Composite first to get the result.
func (t *Target) Image() *image.RGBA {
	return t.base
}

// CreateLayer creates a transparent sublayer at z and returns its image.
func (t *Target) CreateLayer(z int) (*image.RGBA, error) {
	if _, exists := t.layers[z]; exists {
		return nil, fmt.Errorf("raster: layer with z=%d already exists", z)
	}
	l := &sublayer{
		img:     image.NewRGBA(image.Rect(0, 0, t.width, t.height)),
		opacity: 1,
		visible: true,
	}
	t.layers[z] = l
	t.zOrder = nil
	return l.img, nil
}

// RemoveLayer removes the sublayer at z.
func (t *Target) RemoveLayer(z int) error {
	if _, exists := t.layers[z]; !exists {
		return fmt.Errorf("raster: layer with z=%d does not exist", z)
	}
	delete(t.layers, z)
	t.zOrder = nil
	return nil
}

// SetLayerOpacity sets the opacity a sublayer is composited with. A
// sublayer with opacity 0 is skipped.
func (t *Target) SetLayerOpacity(z int, opacity float64) {
	if l, exists := t.layers[z]; exists {
		l.opacity = opacity
		l.visible = opacity > 0
	}
}

// Layers returns all sublayer z-orders in render order.
func (t *Target) Layers() []int {
	if t.zOrder == nil {
		t.zOrder = make([]int, 0, len(t.layers))
		for z := range t.layers {
			t.zOrder = append(t.zOrder, z)
		}
		slices.Sort(t.zOrder)
	}
	return slices.Clone(t.zOrder)
}

// Composite blends all visible sublayers onto the base image in z order
// using source-over with the sublayer opacity as a uniform mask.
func (t *Target) Composite() {
	for _, z := range t.Layers() {
		l := t.layers[z]
		if !l.visible {
			continue
		}
		if l.opacity >= 1 {
			draw.Draw(t.base, t.base.Bounds(), l.img, image.Point{}, draw.Over)
			continue
		}
		mask := image.NewUniform(color.Alpha16{A: uint16(clamp01(l.opacity) * 0xffff)})
		draw.DrawMask(t.base, t.base.Bounds(), l.img, image.Point{}, mask, image.Point{}, draw.Over)
	}
}

// Clear fills the base image with c.
func (t *Target) Clear(c color.Color) {
	draw.Draw(t.base, t.base.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// ClearLayer makes the sublayer at z fully transparent.
func (t *Target) ClearLayer(z int) {
	if l, exists := t.layers[z]; exists {
		clear(l.img.Pix)
	}
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
