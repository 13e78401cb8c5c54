// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"math"

	"github.com/gogpu/annot/region"
)

// Point is a position in world (base image pixel) or screen coordinates.
type Point struct {
	X, Y float64
}

// Matrix represents a 2D affine transformation matrix.
// It uses a 2x3 matrix in row-major order:
//
//	| a  b  c |
//	| d  e  f |
//
// This represents the transformation:
//
//	x' = a*x + b*y + c
//	y' = d*x + e*y + f
type Matrix struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transformation matrix.
func Identity() Matrix {
	return Matrix{A: 1, E: 1}
}

// Translate creates a translation matrix.
func Translate(x, y float64) Matrix {
	return Matrix{A: 1, C: x, E: 1, F: y}
}

// Scale creates a scaling matrix.
func Scale(x, y float64) Matrix {
	return Matrix{A: x, E: y}
}

// Multiply multiplies two matrices (m * other): other is applied first.
func (m Matrix) Multiply(other Matrix) Matrix {
	return Matrix{
		A: m.A*other.A + m.B*other.D,
		B: m.A*other.B + m.B*other.E,
		C: m.A*other.C + m.B*other.F + m.C,
		D: m.D*other.A + m.E*other.D,
		E: m.D*other.B + m.E*other.E,
		F: m.D*other.C + m.E*other.F + m.F,
	}
}

// Apply transforms a point.
func (m Matrix) Apply(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.C,
		Y: m.D*p.X + m.E*p.Y + m.F,
	}
}

// Invert returns the inverse matrix, or the identity matrix if m is not
// invertible.
func (m Matrix) Invert() Matrix {
	det := m.A*m.E - m.B*m.D
	if math.Abs(det) < 1e-10 {
		return Identity()
	}
	inv := 1.0 / det
	return Matrix{
		A: m.E * inv,
		B: -m.B * inv,
		C: (m.B*m.F - m.C*m.E) * inv,
		D: -m.D * inv,
		E: m.A * inv,
		F: (m.C*m.D - m.A*m.F) * inv,
	}
}

// ScaleFactor returns the mean length a unit world vector has on screen.
func (m Matrix) ScaleFactor() float64 {
	return math.Sqrt(math.Abs(m.A*m.E - m.B*m.D))
}

// FromElement converts an overlay transform (2x2 matrix plus offset, as
// stored on image and pixelmap elements) into a Matrix.
func FromElement(matrix [][]float64, xoff, yoff float64) Matrix {
	m := Translate(xoff, yoff)
	if len(matrix) == 2 && len(matrix[0]) == 2 && len(matrix[1]) == 2 {
		m.A, m.B = matrix[0][0], matrix[0][1]
		m.D, m.E = matrix[1][0], matrix[1][1]
	}
	return m
}

// ViewMatrix maps world coordinates inside b onto a width×height screen.
func ViewMatrix(b region.Bounds, width, height int) Matrix {
	if b.Empty() || width <= 0 || height <= 0 {
		return Identity()
	}
	sx := float64(width) / b.Width()
	sy := float64(height) / b.Height()
	return Scale(sx, sy).Multiply(Translate(-b.Left, -b.Top))
}

// ZoomBounds returns the world bounds seen by a width×height screen
// centered on (cx, cy) at a zoom level, where maxZoom shows base pixels
// one to one.
func ZoomBounds(cx, cy float64, zoom, maxZoom float64, width, height int) region.Bounds {
	unit := math.Exp2(maxZoom - zoom)
	hw, hh := float64(width)*unit/2, float64(height)*unit/2
	return region.Bounds{Left: cx - hw, Top: cy - hh, Right: cx + hw, Bottom: cy + hh}
}
