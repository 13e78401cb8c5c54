// Package annot is the client-side core for viewing and editing vector
// annotations drawn over gigapixel images.
//
// # Overview
//
// An annotation can hold anywhere from zero to several million elements.
// Transferring or rasterizing all of them is not always possible, so for
// every annotation and every viewport the core decides whether to fetch full
// geometry or a compact centroid summary, keeps that decision stable while
// the user pans and zooms, merges server responses into a diffable element
// store and hands the result to a renderer.
//
// # Packages
//
//   - element: elements, styles, the ordered element store and its diff log
//   - annotation: the annotation model and save bodies
//   - region: viewport to fetch-region tracking with hysteresis
//   - centroid: binary centroid summary decoding and encoding
//   - fetch: per-annotation fetch coordination (one request in flight)
//   - rest: HTTP transport for the annotation endpoints
//   - render: level of detail, highlight/fade and overlay layer management
//   - render/raster: a software renderer producing an image
//   - viewer: composition of all of the above for one image
//
// # Quick Start
//
//	client, err := rest.NewClient("https://example.org/api/v1")
//	r, err := raster.NewRenderer(1024, 768, raster.WithSource(client))
//	v, err := viewer.New(client, r)
//	defer v.Close()
//
//	v.SetView(region.View{Bounds: region.Bounds{Right: 8000, Bottom: 6000}, Zoom: 4, MaxZoom: 9})
//	a := annotation.New(itemID, "")
//	a.ID = "65a0c2b1e4b0f1a2b3c4d5e6"
//	h, err := v.Add(a)
//	mode, err := h.Load(ctx)
//	img := r.Render()
//
// # Logging
//
// The core is silent by default. Call [SetLogger] to receive fetch cycle
// diagnostics.
package annot

// Version is the current version of the library.
const Version = "0.3.0"
