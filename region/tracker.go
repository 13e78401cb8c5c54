// Package region turns viewport changes into fetch regions.
//
// The fetched region is larger than the visible area so that small pans are
// absorbed without a new query. A new query is only warranted once the view
// leaves the inner half of the margin or the zoom level changes by a full
// level.
package region

import "math"

// DefaultViewArea is the ratio of the fetched extent to the visible extent.
const DefaultViewArea = 3.0

// unknownSize is the clamp used when the image size is not known.
const unknownSize = 1e6

// Bounds is a rectangle in base image pixels; Top is above Bottom, so
// Top <= Bottom for a non-empty rectangle.
type Bounds struct {
	Left, Top, Right, Bottom float64
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.Bottom - b.Top }

// Empty reports whether the bounds have no area.
func (b Bounds) Empty() bool {
	return !(b.Width() > 0) || !(b.Height() > 0)
}

// View is one viewport state.
type View struct {
	Bounds  Bounds
	Zoom    float64
	MaxZoom float64
	SizeX   float64 // image width; 0 if unknown
	SizeY   float64 // image height; 0 if unknown
}

// Region is the area elements are requested for, with the zoom level it
// was computed at.
type Region struct {
	Left, Top, Right, Bottom float64
	Zoom                     float64
}

// Bounds returns the region rectangle.
func (r Region) Bounds() Bounds {
	return Bounds{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}
}

// SameArea reports whether two regions cover the same rectangle.
func (r Region) SameArea(o Region) bool {
	return r.Left == o.Left && r.Top == o.Top && r.Right == o.Right && r.Bottom == o.Bottom
}

// Decision is the outcome of a viewport change.
type Decision struct {
	// Region is the region to fetch, current after the call.
	Region Region
	// Changed reports whether Region differs from the previous region.
	Changed bool
	// Fetch reports whether a fetch (or, when one is in flight, a follow-up
	// fetch) is warranted.
	Fetch bool
}

// Tracker holds the last fetched region of one annotation.
// It is not safe for concurrent use.
type Tracker struct {
	viewArea float64
	region   Region
	has      bool
}

// NewTracker creates a tracker. viewArea values below 1 use DefaultViewArea.
func NewTracker(viewArea float64) *Tracker {
	if !(viewArea >= 1) {
		viewArea = DefaultViewArea
	}
	return &Tracker{viewArea: viewArea}
}

// Region returns the current region and whether one has been computed.
func (t *Tracker) Region() (Region, bool) {
	return t.region, t.has
}

// Reset forgets the current region.
func (t *Tracker) Reset() {
	t.region = Region{}
	t.has = false
}

// SetView processes a viewport change.
//
// While a fetch is in flight the region is kept up to date even when the
// view has not left the hysteresis band, so that the follow-up fetch uses
// the newest region.
func (t *Tracker) SetView(v View, inFlight bool) Decision {
	b := v.Bounds
	if b.Empty() {
		return Decision{Region: t.region}
	}

	width, height := b.Width(), b.Height()
	xoverlap := (width*t.viewArea - width) / 2
	yoverlap := (height*t.viewArea - height) / 2

	if t.canSkip(v, xoverlap/2, yoverlap/2) && !inFlight {
		return Decision{Region: t.region}
	}

	sizeX, sizeY := v.SizeX, v.SizeY
	if sizeX <= 0 {
		sizeX = unknownSize
	}
	if sizeY <= 0 {
		sizeY = unknownSize
	}
	next := Region{
		Left:   math.Max(0, b.Left-xoverlap),
		Top:    math.Max(0, b.Top-yoverlap),
		Right:  math.Min(sizeX, b.Right+xoverlap),
		Bottom: math.Min(sizeY, b.Bottom+yoverlap),
		Zoom:   v.Zoom,
	}
	changed := !t.has || !next.SameArea(t.region)
	t.region, t.has = next, true
	return Decision{Region: next, Changed: changed, Fetch: changed}
}

// canSkip reports whether the view is still inside the inner half of the
// margin around the last region, at nearly the same zoom.
func (t *Tracker) canSkip(v View, minx, miny float64) bool {
	if !t.has {
		return false
	}
	r, b := t.region, v.Bounds
	return r.Left <= b.Left-minx &&
		r.Top <= b.Top-miny &&
		r.Right >= b.Right+minx &&
		r.Bottom >= b.Bottom+miny &&
		math.Abs(r.Zoom-v.Zoom) < 1
}
