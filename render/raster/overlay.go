// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/render"
	"github.com/gogpu/annot/rest"
)

// Source provides the tile metadata and pixels of overlay items.
// *rest.Client implements it.
type Source interface {
	TileInfo(ctx context.Context, itemID string) (*rest.TileInfo, error)
	Region(ctx context.Context, itemID string, q rest.RegionQuery) (image.Image, error)
}

var _ Source = (*rest.Client)(nil)

// Errors returned when preparing overlay textures.
var (
	ErrOverlayTooLarge = errors.New("raster: overlay raster exceeds the size limit")
	ErrOverlayFormat   = errors.New("raster: overlay texture format not supported")
)

// overlayFormat is the texel format overlay rasters are converted to. It
// matches the sublayers of a Target.
const overlayFormat = gputypes.TextureFormatRGBA8Unorm

// overlaySource is a loaded overlay texture placed in world coordinates.
type overlaySource struct {
	id        string
	img       *image.RGBA
	desc      gputypes.TextureDescriptor
	sampler   gputypes.SamplerDescriptor
	transform render.Matrix // texels to world
	opacity   float64
}

// ElementID returns the id of the overlay element.
func (s *overlaySource) ElementID() string {
	return s.id
}

// paint draws the texture into dst through the view matrix m. The sampler
// magnification filter selects the interpolation.
func (s *overlaySource) paint(dst *image.RGBA, m render.Matrix) {
	if s.opacity <= 0 {
		return
	}
	t := m.Multiply(s.transform)
	aff := f64.Aff3{t.A, t.B, t.C, t.D, t.E, t.F}
	var opts *draw.Options
	if s.opacity < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha16{A: uint16(s.opacity * 0xffff)})}
	}
	var interp draw.Transformer = draw.BiLinear
	if s.sampler.MagFilter == gputypes.FilterModeNearest {
		interp = draw.NearestNeighbor
	}
	interp.Transform(dst, aff, s.img, s.img.Bounds(), draw.Over, opts)
}

// newTexture converts img into an overlayFormat texture with its origin
// at (0, 0). Its extent must be non-empty and at most maxSize texels on
// its long side.
func newTexture(label string, img image.Image, maxSize int) (*image.RGBA, gputypes.TextureDescriptor, error) {
	sampler := gputypes.LinearSamplerDescriptor()
	if pixelmap {
		sampler = gputypes.DefaultSamplerDescriptor()
		img = colorize(img, &e)
	}
	tex, desc, err := newTexture("overlay "+e.ID, img, r.opts.maxOverlaySize)
	if err != nil {
		return nil, err
	}

	var place render.Matrix
	if e.Transform != nil {
		place = render.FromElement(e.Transform.Matrix, e.Transform.XOffset, e.Transform.YOffset)
	} else {
		place = render.Identity()
	}
	toBase := render.Scale(float64(info.SizeX)/float64(desc.Size.Width), float64(info.SizeY)/float64(desc.Size.Height))

	s := &overlaySource{
		id:        e.ID,
		img:       tex,
		desc:      desc,
		sampler:   sampler,
		transform: place.Multiply(toBase),
		opacity:   1,
	}
	if e.Opacity != nil {
		s.opacity = clamp01(*e.Opacity)
	}
	return s, nil
}

// colorize maps pixelmap values to category colors.
//
// The value of a pixel is r + g*256 + b*65536. With boundaries, the value
// is halved and odd values mark boundary pixels, which use the category
// stroke color. values, when present, maps a value to its category index.
func colorize(src image.Image, e *element.Element) *image.NRGBA {
	fills := make([]color.NRGBA, len(e.Categories))
	strokes := make([]color.NRGBA, len(e.Categories))
	for i, cat := range e.Categories {
		fills[i] = toNRGBA(element.MustParseColor(cat.FillColor, element.Transparent))
		strokes[i] = fills[i]
		if c, ok := element.ParseColor(cat.StrokeColor); ok {
			strokes[i] = toNRGBA(c)
		}
	}

	b := src.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			v := int(r>>8) | int(g>>8)<<8 | int(bl>>8)<<16
			boundary := false
			if e.Boundaries {
				boundary = v%2 == 1
				v /= 2
			}
			idx := v
			if len(e.Values) > 0 {
				if v >= len(e.Values) {
					continue
				}
				idx = int(e.Values[v])
			}
			if idx < 0 || idx >= len(fills) {
				continue
			}
			if boundary {
				out.SetNRGBA(x, y, strokes[idx])
			} else {
				out.SetNRGBA(x, y, fills[idx])
			}
		}
	}
	return out
}

func toNRGBA(c element.RGBA) color.NRGBA {
	return color.NRGBA{
		R: uint8(math.Round(clamp01(c.R) * 255)),
		G: uint8(math.Round(clamp01(c.G) * 255)),
		B: uint8(math.Round(clamp01(c.B) * 255)),
		A: uint8(math.Round(clamp01(c.A) * 255)),
	}
}
