// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render connects annotations to a feature-rendering engine.
//
// The engine is abstracted by Renderer and Layer; render/raster is a
// software implementation. A Bridge drives the layer of one annotation.
//
// # Level of detail
//
// Within a fetch epoch a Bridge moves from LODEmpty to LODCentroids when a
// centroid summary arrives, or to LODFull when the annotation is known to
// be complete. There is no way back to centroids within the same epoch; a
// refresh starts a new epoch from LODEmpty.
//
// While centroids are shown, elements of the current region are drawn in
// full on top of them. The marker of every element drawn in full is hidden
// but kept, so that panning away shows it again without a new summary.
//
// # Opacity pass
//
// Highlight and hide selectors are applied to the base style of every
// feature. The pass only runs again when the selectors, the global fill
// opacity or the feature set change.
//
// # Overlays
//
// Image and pixelmap elements are not features: each becomes an overlay of
// the layer. Overlays are loaded asynchronously, are never added twice for
// the same element, and are replaced when their element changes.
//
// # Coordinates
//
// World coordinates are base image pixels. ViewMatrix maps a world
// rectangle onto the screen; FromElement converts the transform stored on
// overlay elements.
package render
