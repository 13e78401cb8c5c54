// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"

	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/element"
)

// Renderer is the feature-rendering engine annotations are drawn with.
//
// Each annotation draws into its own Layer. Layers are independent: their
// opacity, features and overlays do not affect each other.
//
// Thread Safety: Renderers and Layers are NOT thread-safe, with the single
// exception of Layer.LoadOverlay. Each layer is driven by the goroutine
// that owns its annotation.
type Renderer interface {
	// NewLayer creates an empty layer above the existing ones.
	NewLayer() Layer
}

// Layer is the part of a Renderer that shows one annotation.
type Layer interface {
	// DrawElements replaces the full-geometry features. styles is
	// positionally aligned with elements and already has the opacity pass
	// applied.
	DrawElements(elements []element.Element, styles []element.Style)

	// SetStyles updates the styles of the current features without
	// replacing them.
	SetStyles(styles []element.Style)

	// DrawCentroids replaces the centroid markers. shown is aligned with
	// the summary records; hidden markers stay allocated.
	DrawCentroids(s *centroid.Summary, shown []bool)

	// SetCentroidsShown updates which centroid markers are visible.
	SetCentroidsShown(shown []bool)

	// ClearCentroids removes the centroid markers.
	ClearCentroids()

	// SetOpacity sets the opacity the whole layer is composited with.
	SetOpacity(opacity float64)

	// LoadOverlay prepares the raster of an image or pixelmap element,
	// typically by fetching tile metadata and pixels. It may block and is
	// called from a helper goroutine; it must be safe for concurrent use.
	LoadOverlay(ctx context.Context, e element.Element) (OverlaySource, error)

	// AddOverlay shows a loaded overlay as its own sublayer.
	AddOverlay(src OverlaySource) Overlay

	// RemoveOverlay removes an overlay added by AddOverlay.
	RemoveOverlay(o Overlay)

	// Close removes the layer and everything drawn in it.
	Close()
}

// OverlaySource is a loaded overlay raster, ready to be added.
type OverlaySource interface {
	// ElementID returns the id of the element the raster belongs to.
	ElementID() string
}

// Overlay is an overlay sublayer of a Layer.
type Overlay interface {
	// ElementID returns the id of the element shown by the overlay.
	ElementID() string
}
