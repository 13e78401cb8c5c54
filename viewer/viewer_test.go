package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/fetch"
	"github.com/gogpu/annot/region"
	"github.com/gogpu/annot/render"
	"github.com/gogpu/annot/render/raster"
)

type fakeClient struct {
	mu        sync.Mutex
	elements  []element.Element
	truncated bool
	queries   []fetch.Query
	centroids int
	ops       []string
	created   annotation.Body
	patched   []element.ChangeEntry
}

func (c *fakeClient) Elements(_ context.Context, id string, q fetch.Query) (*annotation.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	doc := &annotation.Document{ID: id, ItemID: "item1", Version: 1}
	doc.Annotation.Name = "cells"
	doc.Annotation.Elements = append([]element.Element(nil), c.elements...)
	if c.truncated && q.Region == nil {
		doc.ElementQuery = &annotation.ElementQuery{Count: 5000000, Returned: len(c.elements)}
	}
	return doc, nil
}

func (c *fakeClient) Centroids(context.Context, string, int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.centroids++
	s := centroid.NewSummary(2)
	s.Props = []element.Style{centroid.GenericDefault}
	for i := range 2 {
		s.ID[i] = fmt.Sprintf("%024x", 1000+i)
		s.X[i], s.Y[i], s.R[i] = 10, 10, 5
	}
	s.Count = 5000000
	return centroid.Encode(s)
}

func (c *fakeClient) Create(_ context.Context, itemID string, body annotation.Body) (*annotation.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "create")
	c.created = body
	return &annotation.Document{ID: "a1", ItemID: itemID, Version: 1, Annotation: body}, nil
}

func (c *fakeClient) Update(_ context.Context, id string, body annotation.Body) (*annotation.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "update")
	return &annotation.Document{ID: id, Version: 2, Annotation: body}, nil
}

func (c *fakeClient) Patch(_ context.Context, id string, changes []element.ChangeEntry) (*annotation.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "patch")
	c.patched = changes
	doc := &annotation.Document{ID: id, Version: 2}
	doc.Annotation.Name = "cells"
	return doc, nil
}

func (c *fakeClient) Delete(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "delete")
	return nil
}

func (c *fakeClient) snapshot() ([]fetch.Query, int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fetch.Query(nil), c.queries...), c.centroids, append([]string(nil), c.ops...)
}

func square(id string) element.Element {
	return element.Element{
		ID:        id,
		Type:      element.TypeRectangle,
		Center:    []float64{50, 50, 0},
		Width:     20,
		Height:    20,
		FillColor: "#ff0000",
	}
}

func newViewer(t *testing.T, client *fakeClient, opts ...Option) (*Viewer, *raster.Renderer) {
	t.Helper()
	r, err := raster.NewRenderer(100, 100)
	if err != nil {
		t.Fatal(err)
	}
	v, err := New(client, r, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v, r
}

func saved(id string) *annotation.Annotation {
	a := annotation.New("item1", "cells")
	a.ID = id
	return a
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestViewerCompleteAnnotation(t *testing.T) {
	client := &fakeClient{elements: []element.Element{square(fmt.Sprintf("%024x", 1))}}
	v, r := newViewer(t, client)
	ctx := testContext(t)

	h, err := v.Add(saved("ann1"))
	if err != nil {
		t.Fatal(err)
	}
	mode, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mode != annotation.ModeFull {
		t.Errorf("mode = %v, want full", mode)
	}
	lod, err := h.LOD(ctx)
	if err != nil || lod != render.LODFull {
		t.Errorf("LOD = %v, %v; want full", lod, err)
	}
	if _, centroids, _ := client.snapshot(); centroids != 0 {
		t.Errorf("centroid fetches = %d, want 0", centroids)
	}

	img := r.Render()
	if c := img.RGBAAt(50, 50); c.R < 250 || c.A < 250 {
		t.Errorf("center pixel = %v, want red", c)
	}

	elements, err := h.Elements(ctx)
	if err != nil || len(elements) != 1 {
		t.Errorf("Elements = %d, %v", len(elements), err)
	}
}

func TestViewerAddQueriesCompleteAnnotationOnce(t *testing.T) {
	tests := []struct {
		name    string
		hasView bool
		load    bool
	}{
		{"view set, no load", true, false},
		{"view set, load", true, true},
		{"no view, load", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{elements: []element.Element{square(fmt.Sprintf("%024x", 1))}}
			v, _ := newViewer(t, client)
			ctx := testContext(t)

			if tt.hasView {
				v.SetView(region.View{
					Bounds: region.Bounds{Left: 0, Top: 0, Right: 100, Bottom: 100},
					Zoom:   8, MaxZoom: 8, SizeX: 100000, SizeY: 100000,
				})
			}
			h, err := v.Add(saved("ann1"))
			if err != nil {
				t.Fatal(err)
			}
			if tt.load {
				if mode, err := h.Load(ctx); err != nil || mode != annotation.ModeFull {
					t.Fatalf("Load = %v, %v; want full", mode, err)
				}
			}
			if r := <-h.coord.Idle(); r.Err != nil || r.Mode != annotation.ModeFull {
				t.Fatalf("Idle = %+v, want full", r)
			}

			queries, centroids, _ := client.snapshot()
			if len(queries) != 1 || centroids != 0 {
				t.Fatalf("element queries = %d, centroid fetches = %d; want 1, 0", len(queries), centroids)
			}
			if queries[0].Region != nil {
				t.Errorf("query region = %+v, want whole annotation", queries[0].Region)
			}
		})
	}
}

func TestViewerPartialAnnotation(t *testing.T) {
	client := &fakeClient{
		elements:  []element.Element{square(fmt.Sprintf("%024x", 1))},
		truncated: true,
	}
	v, _ := newViewer(t, client)
	ctx := testContext(t)

	v.SetView(region.View{
		Bounds: region.Bounds{Left: 1000, Top: 1000, Right: 2000, Bottom: 2000},
		Zoom:   5, MaxZoom: 8, SizeX: 100000, SizeY: 100000,
	})
	h, err := v.Add(saved("ann1"))
	if err != nil {
		t.Fatal(err)
	}
	mode, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mode != annotation.ModePartial {
		t.Errorf("mode = %v, want partial", mode)
	}
	lod, _ := h.LOD(ctx)
	if lod != render.LODCentroids {
		t.Errorf("LOD = %v, want centroids", lod)
	}

	queries, centroids, _ := client.snapshot()
	if centroids != 1 {
		t.Errorf("centroid fetches = %d, want 1", centroids)
	}
	if len(queries) != 2 || queries[0].Region != nil || queries[1].Region == nil {
		t.Errorf("queries = %+v, want whole annotation then current region", queries)
	}

	if _, err := h.Elements(ctx); !errors.Is(err, annotation.ErrPartialAnnotation) {
		t.Errorf("Elements error = %v, want ErrPartialAnnotation", err)
	}
}

func TestViewerEditSaveDelete(t *testing.T) {
	client := &fakeClient{}
	v, _ := newViewer(t, client)
	ctx := testContext(t)

	h, err := v.Add(annotation.New("item1", "drawn"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Load(ctx); !errors.Is(err, fetch.ErrNotSaved) {
		t.Errorf("Load of unsaved annotation: %v, want ErrNotSaved", err)
	}

	id, err := h.AddElement(ctx, square(""))
	if err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	if !element.ValidID(id) {
		t.Errorf("generated id %q is not valid", id)
	}
	if _, err := h.AddElement(ctx, element.Element{Type: element.TypePoint}); !errors.Is(err, element.ErrInvalidElement) {
		t.Errorf("invalid element: %v, want ErrInvalidElement", err)
	}

	if err := h.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if annID, _ := h.ID(ctx); annID != "a1" {
		t.Errorf("ID after create = %q, want a1", annID)
	}
	if client.created.Elements == nil || len(client.created.Elements) != 1 {
		t.Errorf("create body elements = %v", client.created.Elements)
	}

	moved := square(id)
	moved.Center = []float64{60, 60, 0}
	if err := h.UpdateElement(ctx, moved); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}
	if err := h.Save(ctx); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if len(client.patched) != 1 {
		t.Errorf("patched %d entries, want 1", len(client.patched))
	}

	// Nothing pending: a plain update.
	if err := h.Save(ctx); err != nil {
		t.Fatalf("third Save: %v", err)
	}

	if err := h.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := len(v.Handles()); n != 0 {
		t.Errorf("handles after delete = %d", n)
	}
	_, _, ops := client.snapshot()
	want := []string{"create", "patch", "update", "delete"}
	if fmt.Sprint(ops) != fmt.Sprint(want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestViewerSelectorsAndEvents(t *testing.T) {
	client := &fakeClient{elements: []element.Element{square(fmt.Sprintf("%024x", 1))}}
	var mu sync.Mutex
	var events []fetch.EventKind
	v, _ := newViewer(t, client, WithFillOpacity(0.5), WithEventHandler(func(_ *Handle, ev fetch.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.Kind)
	}))
	ctx := testContext(t)

	if got := v.Selectors().FillOpacity; got != 0.5 {
		t.Errorf("initial fill opacity = %v, want 0.5", got)
	}
	h, _ := v.Add(saved("ann1"))
	if _, err := h.Load(ctx); err != nil {
		t.Fatal(err)
	}

	v.Highlight("ann1", "")
	v.Hide("other", "x")
	v.SetFillOpacity(0.8)
	sel := v.Selectors()
	want := render.Selectors{
		HighlightAnnotation: "ann1",
		HideAnnotation:      "other",
		HideElement:         "x",
		FillOpacity:         0.8,
	}
	if sel != want {
		t.Errorf("selectors = %+v, want %+v", sel, want)
	}
	if err := h.SetOpacity(0.5); err != nil {
		t.Errorf("SetOpacity: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[0] != fetch.EventFetched {
		t.Errorf("events = %v, want fetched first", events)
	}
}

func TestViewerMetricsAndClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	client := &fakeClient{elements: []element.Element{square(fmt.Sprintf("%024x", 1))}}
	v, _ := newViewer(t, client, WithRegisterer(reg))
	ctx := testContext(t)

	h, _ := v.Add(saved("ann1"))
	if _, err := h.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(v.Metrics().ElementFetches); got < 1 {
		t.Errorf("element fetches = %v, want at least 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "annot_element_fetches_total"); err != nil || n != 1 {
		t.Errorf("registered series = %d, %v", n, err)
	}

	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Add(saved("ann2")); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close: %v, want ErrClosed", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	r, _ := raster.NewRenderer(10, 10)
	cfg := annot.DefaultConfig()
	cfg.MaxDetails = 0
	if _, err := New(&fakeClient{}, r, WithConfig(cfg)); err == nil {
		t.Error("expected a config error")
	}
}
