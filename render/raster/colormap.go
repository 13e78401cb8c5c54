// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package raster

import (
	"gonum.org/v1/gonum/floats"

	"github.com/gogpu/annot/element"
)

// Heatmap defaults used when an element does not carry its own ranges.
var (
	DefaultColorRange = []element.RGBA{
		{R: 0, G: 0, B: 0, A: 0},
		{R: 1, G: 1, B: 0, A: 1},
	}
	DefaultHeatmapRadius = 25.0
)

// colormap maps element values to colors by piecewise linear
// interpolation between stops.
type colormap struct {
	colors []element.RGBA
	stops  []float64
	// lo and hi rescale raw values onto the stops when normalizing.
	lo, hi    float64
	normalize bool
}

// newColormap builds the colormap of a heatmap or griddata element over
// values.
func newColormap(e *element.Element, values []float64) *colormap {
	cm := &colormap{normalize: e.NormalizeRange == nil || *e.NormalizeRange}
	for _, s := range e.ColorRange {
		if c, ok := element.ParseColor(s); ok {
			cm.colors = append(cm.colors, c)
		}
	}
	if len(cm.colors) == 0 {
		cm.colors = DefaultColorRange
	}
	if len(e.RangeValues) == len(cm.colors) {
		cm.stops = e.RangeValues
	} else {
		cm.stops = make([]float64, len(cm.colors))
		if len(cm.stops) > 1 {
			floats.Span(cm.stops, 0, 1)
		}
	}
	if cm.normalize && len(values) > 0 {
		cm.lo, cm.hi = floats.Min(values), floats.Max(values)
	}
	return cm
}

// At returns the color of value v.
func (cm *colormap) At(v float64) element.RGBA {
	if cm.normalize {
		if cm.hi > cm.lo {
			v = (v - cm.lo) / (cm.hi - cm.lo)
		} else {
			v = 1
		}
	}
	stops := cm.stops
	if v <= stops[0] {
		return cm.colors[0]
	}
	last := len(stops) - 1
	if v >= stops[last] {
		return cm.colors[last]
	}
	for i := 1; i <= last; i++ {
		if v <= stops[i] {
			span := stops[i] - stops[i-1]
			if span <= 0 {
				return cm.colors[i]
			}
			return cm.colors[i-1].Lerp(cm.colors[i], (v-stops[i-1])/span)
		}
	}
	return cm.colors[last]
}

// heatmapValues returns the value column of heatmap points [x, y, z, v].
func heatmapValues(e *element.Element) []float64 {
	values := make([]float64, 0, len(e.Points))
	for _, p := range e.Points {
		if len(p) >= 4 {
			values = append(values, p[3])
		}
	}
	return values
}
