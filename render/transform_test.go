// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"math"
	"testing"

	"github.com/gogpu/annot/region"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestViewMatrix(t *testing.T) {
	m := ViewMatrix(region.Bounds{Left: 1000, Top: 2000, Right: 3000, Bottom: 3000}, 200, 100)
	tests := []struct {
		world, screen Point
	}{
		{Point{1000, 2000}, Point{0, 0}},
		{Point{3000, 3000}, Point{200, 100}},
		{Point{2000, 2500}, Point{100, 50}},
	}
	for _, tt := range tests {
		got := m.Apply(tt.world)
		if !near(got.X, tt.screen.X) || !near(got.Y, tt.screen.Y) {
			t.Errorf("Apply(%v) = %v, want %v", tt.world, got, tt.screen)
		}
		back := m.Invert().Apply(got)
		if !near(back.X, tt.world.X) || !near(back.Y, tt.world.Y) {
			t.Errorf("Invert().Apply(%v) = %v, want %v", got, back, tt.world)
		}
	}
	if got := m.ScaleFactor(); !near(got, 0.1) {
		t.Errorf("ScaleFactor() = %g, want 0.1", got)
	}
}

func TestViewMatrixDegenerate(t *testing.T) {
	if m := ViewMatrix(region.Bounds{}, 100, 100); m != Identity() {
		t.Errorf("ViewMatrix(empty) = %+v, want identity", m)
	}
}

func TestZoomBounds(t *testing.T) {
	b := ZoomBounds(5000, 5000, 6, 8, 100, 50)
	want := region.Bounds{Left: 4800, Top: 4900, Right: 5200, Bottom: 5100}
	if b != want {
		t.Errorf("ZoomBounds() = %+v, want %+v", b, want)
	}
}

func TestFromElement(t *testing.T) {
	m := FromElement([][]float64{{2, 0}, {0, 3}}, 10, 20)
	if got := m.Apply(Point{1, 1}); got != (Point{12, 23}) {
		t.Errorf("Apply() = %v", got)
	}
	if got := FromElement(nil, 5, 6).Apply(Point{1, 1}); got != (Point{6, 7}) {
		t.Errorf("translation only = %v", got)
	}
}
