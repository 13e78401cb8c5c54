// Package element defines annotation elements, their resolved styles and
// geometry, and the ordered element store that records every mutation.
package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Type is the element kind.
type Type string

// Element types understood by the server.
const (
	TypePoint         Type = "point"
	TypePolyline      Type = "polyline"
	TypeRectangle     Type = "rectangle"
	TypeRectangleGrid Type = "rectanglegrid"
	TypeCircle        Type = "circle"
	TypeEllipse       Type = "ellipse"
	TypeArrow         Type = "arrow"
	TypeHeatmap       Type = "heatmap"
	TypeGridData      Type = "griddata"
	TypeImage         Type = "image"
	TypePixelmap      Type = "pixelmap"
)

// Validation errors.
var (
	ErrInvalidElement = errors.New("element: invalid element")
	ErrInvalidID      = errors.New("element: id must be 24 hexadecimal digits")
)

// Label is the optional text attached to an element.
type Label struct {
	Value      string  `json:"value"`
	Color      string  `json:"color,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	MaxWidth   float64 `json:"maxWidth,omitempty"`
	Visibility string  `json:"visibility,omitempty"`
}

// Transform places an image or pixelmap overlay in base image coordinates.
type Transform struct {
	XOffset float64     `json:"xoffset,omitempty"`
	YOffset float64     `json:"yoffset,omitempty"`
	Matrix  [][]float64 `json:"matrix,omitempty"`
}

// Category is one class of a pixelmap.
type Category struct {
	Label       string `json:"label,omitempty"`
	FillColor   string `json:"fillColor"`
	StrokeColor string `json:"strokeColor,omitempty"`
}

// Element is one geometric or raster primitive of an annotation.
// Fields not listed here survive a decode/encode round trip unchanged.
type Element struct {
	ID    string         `json:"id,omitempty"`
	Type  Type           `json:"type"`
	Group string         `json:"group,omitempty"`
	Label *Label         `json:"label,omitempty"`
	User  map[string]any `json:"user,omitempty"`

	// Shapes
	Center   []float64     `json:"center,omitempty"`
	Width    float64       `json:"width,omitempty"`
	Height   float64       `json:"height,omitempty"`
	Rotation float64       `json:"rotation,omitempty"`
	Radius   float64       `json:"radius,omitempty"`
	Points   [][]float64   `json:"points,omitempty"`
	Closed   bool          `json:"closed,omitempty"`
	Holes    [][][]float64 `json:"holes,omitempty"`

	// Style
	FillColor string   `json:"fillColor,omitempty"`
	LineColor string   `json:"lineColor,omitempty"`
	LineWidth *float64 `json:"lineWidth,omitempty"`

	// Heatmaps and grid data
	ColorRange     []string  `json:"colorRange,omitempty"`
	RangeValues    []float64 `json:"rangeValues,omitempty"`
	NormalizeRange *bool     `json:"normalizeRange,omitempty"`
	GridWidth      int       `json:"gridWidth,omitempty"`
	Origin         []float64 `json:"origin,omitempty"`
	DX             float64   `json:"dx,omitempty"`
	DY             float64   `json:"dy,omitempty"`
	Interpretation string    `json:"interpretation,omitempty"`

	// Raster overlays
	GirderID   string     `json:"girderId,omitempty"`
	Transform  *Transform `json:"transform,omitempty"`
	Opacity    *float64   `json:"opacity,omitempty"`
	Values     []float64  `json:"values,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Boundaries bool       `json:"boundaries,omitempty"`

	extra map[string]json.RawMessage
}

// elementFields mirrors Element without methods so the JSON methods below
// can use the default encoding for the known fields.
type elementFields Element

// UnmarshalJSON decodes the known fields and keeps the rest verbatim.
func (e *Element) UnmarshalJSON(data []byte) error {
	var known elementFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range knownKeys {
		delete(all, key)
	}
	*e = Element(known)
	if len(all) > 0 {
		e.extra = all
	}
	return nil
}

// MarshalJSON encodes the element including fields it did not recognize.
func (e Element) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(elementFields(e))
	if err != nil || len(e.extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range e.extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

var knownKeys = []string{
	"id", "type", "group", "label", "user",
	"center", "width", "height", "rotation", "radius", "points", "closed", "holes",
	"fillColor", "lineColor", "lineWidth",
	"colorRange", "rangeValues", "normalizeRange", "gridWidth", "origin", "dx", "dy", "interpretation",
	"girderId", "transform", "opacity", "values", "categories", "boundaries",
}

// IsOverlay reports whether the element is drawn as its own raster layer
// rather than as a primitive of the feature layer.
func (e *Element) IsOverlay() bool {
	return e.Type == TypeImage || e.Type == TypePixelmap
}

// IsClosed reports whether the element outlines an area.
func (e *Element) IsClosed() bool {
	switch e.Type {
	case TypePolyline:
		return e.Closed
	case TypeRectangle, TypeRectangleGrid, TypeCircle, TypeEllipse:
		return true
	}
	return false
}

// Validate checks that the fields the element type needs are present.
func (e *Element) Validate() error {
	if e.ID != "" && !ValidID(e.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, e.ID)
	}
	switch e.Type {
	case TypePoint:
		if len(e.Center) < 2 {
			return fmt.Errorf("%w: point needs a center", ErrInvalidElement)
		}
	case TypeRectangle, TypeRectangleGrid, TypeEllipse:
		if len(e.Center) < 2 || e.Width < 0 || e.Height < 0 {
			return fmt.Errorf("%w: %s needs a center and non-negative size", ErrInvalidElement, e.Type)
		}
	case TypeCircle:
		if len(e.Center) < 2 || e.Radius < 0 {
			return fmt.Errorf("%w: circle needs a center and non-negative radius", ErrInvalidElement)
		}
	case TypePolyline, TypeArrow:
		if len(e.Points) < 2 {
			return fmt.Errorf("%w: %s needs at least two points", ErrInvalidElement, e.Type)
		}
		for _, p := range e.Points {
			if len(p) < 2 {
				return fmt.Errorf("%w: point with fewer than two coordinates", ErrInvalidElement)
			}
		}
	case TypeHeatmap:
		for _, p := range e.Points {
			if len(p) < 4 {
				return fmt.Errorf("%w: heatmap points are [x, y, z, value]", ErrInvalidElement)
			}
		}
	case TypeGridData:
		if e.GridWidth <= 0 {
			return fmt.Errorf("%w: griddata needs a positive gridWidth", ErrInvalidElement)
		}
	case TypeImage:
		if e.GirderID == "" {
			return fmt.Errorf("%w: image overlay needs girderId", ErrInvalidElement)
		}
	case TypePixelmap:
		if e.GirderID == "" || len(e.Categories) == 0 {
			return fmt.Errorf("%w: pixelmap needs girderId and categories", ErrInvalidElement)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, e.Type)
	}
	return nil
}

// Style is the resolved visual style of an element.
type Style struct {
	FillColor     RGBA
	FillOpacity   float64
	StrokeColor   RGBA
	StrokeOpacity float64
	StrokeWidth   float64
}

// Style defaults applied when an element omits a style field.
var (
	DefaultLineColor = Black
	DefaultLineWidth = 2.0
)

// Style resolves the element's style fields. Opacity comes from the alpha
// of the color; an absent fill means no fill.
func (e *Element) Style() Style {
	var s Style
	if c, ok := ParseColor(e.FillColor); ok {
		s.FillColor, s.FillOpacity = c.WithAlpha(1), c.A
	}
	stroke := MustParseColor(e.LineColor, DefaultLineColor)
	s.StrokeColor, s.StrokeOpacity = stroke.WithAlpha(1), stroke.A
	s.StrokeWidth = DefaultLineWidth
	if e.LineWidth != nil {
		s.StrokeWidth = *e.LineWidth
	}
	return s
}

// Bound returns the element's axis-aligned extent in base image pixels.
func (e *Element) Bound() orb.Bound {
	switch e.Type {
	case TypePoint:
		p := point(e.Center)
		return p.Bound()
	case TypeCircle:
		c := point(e.Center)
		return orb.Bound{
			Min: orb.Point{c[0] - e.Radius, c[1] - e.Radius},
			Max: orb.Point{c[0] + e.Radius, c[1] + e.Radius},
		}
	case TypeRectangle, TypeRectangleGrid, TypeEllipse:
		return e.Corners().Bound()
	case TypePolyline, TypeArrow:
		return lineString(e.Points).Bound()
	case TypeHeatmap:
		b := lineString(e.Points).Bound()
		return b.Pad(e.Radius)
	case TypeGridData:
		o := point(e.Origin)
		rows := 0
		if e.GridWidth > 0 {
			rows = (len(e.Values) + e.GridWidth - 1) / e.GridWidth
		}
		return orb.Bound{Min: o, Max: orb.Point{
			o[0] + float64(max(e.GridWidth-1, 0))*e.DX,
			o[1] + float64(max(rows-1, 0))*e.DY,
		}}
	case TypeImage, TypePixelmap:
		var p orb.Point
		if e.Transform != nil {
			p = orb.Point{e.Transform.XOffset, e.Transform.YOffset}
		}
		return p.Bound()
	}
	return orb.Bound{}
}

// Corners returns the closed outline of a rectangle or the bounding
// rectangle of an ellipse, rotated about the center.
func (e *Element) Corners() orb.Ring {
	c := point(e.Center)
	hw, hh := e.Width/2, e.Height/2
	cos, sin := math.Cos(e.Rotation), math.Sin(e.Rotation)
	ring := make(orb.Ring, 0, 5)
	for _, d := range [][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}, {-hw, -hh}} {
		ring = append(ring, orb.Point{
			c[0] + d[0]*cos - d[1]*sin,
			c[1] + d[0]*sin + d[1]*cos,
		})
	}
	return ring
}

// Size is the diagonal of the element's bound, the metric the server sorts
// by so that truncation keeps the most visible elements.
func (e *Element) Size() float64 {
	b := e.Bound()
	return math.Hypot(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
}

// Centroid returns the center of the element's bound.
func (e *Element) Centroid() orb.Point {
	return e.Bound().Center()
}

// LineString returns the element's points as planar coordinates.
func (e *Element) LineString() orb.LineString {
	return lineString(e.Points)
}

func point(c []float64) orb.Point {
	if len(c) < 2 {
		return orb.Point{}
	}
	return orb.Point{c[0], c[1]}
}

func lineString(points [][]float64) orb.LineString {
	ls := make(orb.LineString, 0, len(points))
	for _, p := range points {
		ls = append(ls, point(p))
	}
	return ls
}
