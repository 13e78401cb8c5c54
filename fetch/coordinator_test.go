package fetch

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
	"github.com/gogpu/annot/region"
)

const testWait = 5 * time.Second

// fakeClient records calls and optionally blocks each call until a token
// arrives on its gate.
type fakeClient struct {
	mu            sync.Mutex
	queries       []Query
	centroidCalls int
	active        int
	maxActive     int
	elementErrs   int // fail this many element calls
	doc           func(q Query) *annotation.Document
	centroids     func() ([]byte, error)

	elementGate  chan struct{}
	centroidGate chan struct{}
	ignoreCtx    bool
	started      chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		started: make(chan string, 64),
		doc:     func(Query) *annotation.Document { return testDoc(10, nil) },
	}
}

func (f *fakeClient) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
}

func (f *fakeClient) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeClient) wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	if f.ignoreCtx {
		<-gate
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) Elements(ctx context.Context, id string, q Query) (*annotation.Document, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.elementGate
	fail := f.elementErrs > 0
	if fail {
		f.elementErrs--
	}
	build := f.doc
	f.mu.Unlock()
	f.started <- "elements"

	if err := f.wait(ctx, gate); err != nil {
		return nil, err
	}
	if fail {
		return nil, errors.New("connection reset")
	}
	return build(q), nil
}

func (f *fakeClient) Centroids(ctx context.Context, id string, limit int) ([]byte, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.centroidCalls++
	gate := f.centroidGate
	fn := f.centroids
	f.mu.Unlock()
	f.started <- "centroids"

	if err := f.wait(ctx, gate); err != nil {
		return nil, err
	}
	if fn == nil {
		return testSummary(2), nil
	}
	return fn()
}

// forgetStarted discards the start notifications of finished calls.
func (f *fakeClient) forgetStarted() {
	for {
		select {
		case <-f.started:
		default:
			return
		}
	}
}

func (f *fakeClient) snapshot() (queries []Query, centroidCalls, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Query(nil), f.queries...), f.centroidCalls, f.maxActive
}

func testDoc(n int, q *annotation.ElementQuery) *annotation.Document {
	doc := &annotation.Document{ID: "ann1", ItemID: "item1", ElementQuery: q}
	doc.Annotation.Name = "cells"
	for i := 0; i < n; i++ {
		doc.Annotation.Elements = append(doc.Annotation.Elements, element.Element{
			ID:     fmt.Sprintf("%024x", i+1),
			Type:   element.TypePoint,
			Center: []float64{float64(i), float64(i), 0},
		})
	}
	return doc
}

func truncatedDoc(Query) *annotation.Document {
	return testDoc(3, &annotation.ElementQuery{Count: 5000000, Returned: 250000, MaxDetails: 250000})
}

func testSummary(n int) []byte {
	s := centroid.NewSummary(n)
	s.Props = []element.Style{centroid.GenericDefault}
	for i := 0; i < n; i++ {
		s.ID[i] = fmt.Sprintf("%024x", i+100)
		s.X[i], s.Y[i], s.R[i] = float32(i*10), float32(i*10), 5
	}
	s.Count = 5000000
	buf, err := centroid.Encode(s)
	if err != nil {
		panic(err)
	}
	return buf
}

type harness struct {
	t      *testing.T
	client *fakeClient
	coord  *Coordinator
	events chan Event
}

func newHarness(t *testing.T, client *fakeClient, opts ...CoordinatorOption) *harness {
	t.Helper()
	ann := annotation.New("item1", "cells")
	ann.ID = "ann1"
	h := &harness{t: t, client: client, events: make(chan Event, 64)}
	opts = append([]CoordinatorOption{WithHandler(func(_ *annotation.Annotation, ev Event) {
		h.events <- ev
	})}, opts...)
	h.coord = NewCoordinator(ann, client, opts...)
	t.Cleanup(func() { h.coord.Close() })
	return h
}

func (h *harness) result(ch <-chan Result) Result {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testWait):
		h.t.Fatal("fetch did not resolve")
		return Result{}
	}
}

func (h *harness) started(want string) {
	h.t.Helper()
	select {
	case got := <-h.client.started:
		if got != want {
			h.t.Fatalf("started %s call, want %s", got, want)
		}
	case <-time.After(testWait):
		h.t.Fatalf("%s call did not start", want)
	}
}

func (h *harness) state() State {
	h.t.Helper()
	s, err := h.coord.State(context.Background())
	if err != nil {
		h.t.Fatalf("State() error = %v", err)
	}
	return s
}

// drainEvents returns the events delivered so far. It syncs with the loop
// first, so every event of a completed cycle is included.
func (h *harness) drainEvents() []Event {
	h.t.Helper()
	h.state()
	var evs []Event
	for {
		select {
		case ev := <-h.events:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func viewAt(left, top float64) region.View {
	return region.View{
		Bounds:  region.Bounds{Left: left, Top: top, Right: left + 1000, Bottom: top + 1000},
		Zoom:    5,
		MaxZoom: 8,
		SizeX:   100000,
		SizeY:   100000,
	}
}

func TestFetchCompleteAnnotationNeverFetchesCentroids(t *testing.T) {
	h := newHarness(t, newFakeClient())

	r := h.result(h.coord.Fetch(Options{}))
	if r.Err != nil {
		t.Fatalf("Fetch() error = %v", r.Err)
	}
	if r.Mode != annotation.ModeFull {
		t.Errorf("Mode = %v, want full", r.Mode)
	}

	h.coord.SetView(viewAt(0, 0))
	h.coord.SetView(viewAt(50000, 50000))

	var n int
	err := h.coord.Call(context.Background(), func(a *annotation.Annotation) error {
		n = a.Store().Len()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("store has %d elements, want 10", n)
	}

	queries, centroidCalls, _ := h.client.snapshot()
	if len(queries) != 1 || centroidCalls != 0 {
		t.Fatalf("element calls = %d, centroid calls = %d; want 1, 0", len(queries), centroidCalls)
	}
	if queries[0].Region != nil || queries[0].MaxDetails != annot.DefaultMaxDetails {
		t.Errorf("first query = %+v, want whole annotation with default cap", queries[0])
	}
	if s := h.state(); s.PageElements != annotation.ModeFull || s.Centroids != nil {
		t.Errorf("state = %+v", s)
	}
	evs := h.drainEvents()
	if len(evs) != 1 || evs[0].Kind != EventFetched {
		t.Errorf("events = %+v, want one fetched", evs)
	}
}

func TestFetchTruncatedFetchesCentroidsOnce(t *testing.T) {
	client := newFakeClient()
	client.doc = truncatedDoc
	client.centroidGate = make(chan struct{})
	h := newHarness(t, client)

	if s := h.state(); s.InFlight != InFlightNone {
		t.Fatalf("InFlight before fetch = %v", s.InFlight)
	}
	ch := h.coord.Fetch(Options{})
	h.started("elements")
	h.started("centroids")

	s := h.state()
	if s.InFlight != InFlightCentroids {
		t.Fatalf("InFlight = %v, want centroids", s.InFlight)
	}
	if s.PageElements != annotation.ModePartial {
		t.Errorf("PageElements = %v, want partial", s.PageElements)
	}
	if evs := h.drainEvents(); len(evs) != 0 {
		t.Fatalf("events before centroid resolution = %+v", evs)
	}

	close(client.centroidGate)
	r := h.result(ch)
	if r.Err != nil || r.Mode != annotation.ModePartial {
		t.Fatalf("result = %+v", r)
	}

	s = h.state()
	if s.InFlight != InFlightNone {
		t.Errorf("InFlight after = %v, want none", s.InFlight)
	}
	if s.Centroids.Len() != 2 {
		t.Errorf("centroids = %d, want 2", s.Centroids.Len())
	}
	evs := h.drainEvents()
	if len(evs) != 1 || evs[0].Kind != EventFetched || evs[0].Centroids.Len() != 2 {
		t.Errorf("events = %+v, want one fetched with centroids", evs)
	}
	if _, centroidCalls, _ := h.client.snapshot(); centroidCalls != 1 {
		t.Errorf("centroid calls = %d, want 1", centroidCalls)
	}
}

func TestFetchMidFlightRunsOnceWithNewestRegion(t *testing.T) {
	client := newFakeClient()
	client.doc = truncatedDoc
	h := newHarness(t, client)

	if r := h.result(h.coord.Fetch(Options{})); r.Err != nil {
		t.Fatal(r.Err)
	}
	client.forgetStarted()
	client.mu.Lock()
	client.elementGate = make(chan struct{})
	client.mu.Unlock()

	h.coord.SetView(viewAt(0, 0))
	h.started("elements")
	h.coord.SetView(viewAt(20000, 20000))
	h.coord.SetView(viewAt(5000, 5000))
	late := h.coord.Fetch(Options{})

	client.elementGate <- struct{}{}
	h.started("elements")
	client.elementGate <- struct{}{}
	if r := h.result(late); r.Err != nil {
		t.Fatal(r.Err)
	}

	queries, _, maxActive := client.snapshot()
	if len(queries) != 3 {
		t.Fatalf("element calls = %d, want 3", len(queries))
	}
	if maxActive != 1 {
		t.Errorf("max concurrent calls = %d, want 1", maxActive)
	}
	last := queries[2].Region
	if last == nil {
		t.Fatal("follow-up query has no region")
	}
	want := region.Region{Left: 4000, Top: 4000, Right: 7000, Bottom: 7000}
	if !last.SameArea(want) {
		t.Errorf("follow-up region = %+v, want %+v", *last, want)
	}
	if s := h.state(); s.InFlight != InFlightNone || s.Queued {
		t.Errorf("state = %+v", s)
	}
}

func TestFetchTransportErrorLeavesStore(t *testing.T) {
	client := newFakeClient()
	h := newHarness(t, client)
	if r := h.result(h.coord.Fetch(Options{Refresh: true})); r.Err != nil {
		t.Fatal(r.Err)
	}
	h.drainEvents()

	client.mu.Lock()
	client.elementErrs = 1
	client.doc = func(Query) *annotation.Document { return testDoc(4, nil) }
	client.mu.Unlock()

	r := h.result(h.coord.Refresh())
	if r.Err == nil {
		t.Fatal("Refresh() succeeded, want error")
	}
	var n int
	h.coord.Call(context.Background(), func(a *annotation.Annotation) error {
		n = a.Store().Len()
		return nil
	})
	if n != 10 {
		t.Errorf("store has %d elements after failed fetch, want 10", n)
	}
	if s := h.state(); s.InFlight != InFlightNone {
		t.Errorf("InFlight = %v after failure", s.InFlight)
	}
	evs := h.drainEvents()
	if len(evs) != 1 || evs[0].Kind != EventError {
		t.Errorf("events = %+v, want one error", evs)
	}

	if r := h.result(h.coord.Refresh()); r.Err != nil {
		t.Fatalf("retry error = %v", r.Err)
	}
}

func TestFetchWatchdog(t *testing.T) {
	client := newFakeClient()
	client.ignoreCtx = true
	client.elementGate = make(chan struct{})
	t.Cleanup(func() { close(client.elementGate) })

	cfg := annot.DefaultConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, client, WithConfig(cfg), WithMetrics(m))

	r := h.result(h.coord.Fetch(Options{}))
	if !errors.Is(r.Err, ErrFetchTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrFetchTimeout", r.Err)
	}
	if s := h.state(); s.InFlight != InFlightNone {
		t.Errorf("InFlight = %v after timeout", s.InFlight)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("elements", "timeout")); got != 1 {
		t.Errorf("timeout errors = %g, want 1", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Errorf("in-flight gauge = %g, want 0", got)
	}
}

func TestFetchCompleteDropsQueuedViewportFetch(t *testing.T) {
	client := newFakeClient()
	client.elementGate = make(chan struct{})
	h := newHarness(t, client)

	ch := h.coord.Fetch(Options{})
	h.started("elements")
	h.coord.SetView(viewAt(0, 0))
	h.coord.SetView(viewAt(30000, 30000))
	if s := h.state(); !s.Queued {
		t.Fatal("viewport change during fetch was not queued")
	}
	client.elementGate <- struct{}{}
	if r := h.result(ch); r.Mode != annotation.ModeFull {
		t.Fatalf("Mode = %v, want full", r.Mode)
	}
	if s := h.state(); s.Queued || s.InFlight != InFlightNone {
		t.Errorf("state = %+v", s)
	}
	if queries, _, _ := client.snapshot(); len(queries) != 1 {
		t.Errorf("element calls = %d, want 1", len(queries))
	}
}

func TestFetchCentroidDecodeFailure(t *testing.T) {
	client := newFakeClient()
	client.doc = truncatedDoc
	client.centroids = func() ([]byte, error) { return []byte("{}"), nil }
	h := newHarness(t, client)

	r := h.result(h.coord.Fetch(Options{}))
	if !errors.Is(r.Err, centroid.ErrInvalidData) {
		t.Fatalf("Fetch() error = %v, want ErrInvalidData", r.Err)
	}
	evs := h.drainEvents()
	if len(evs) != 2 || evs[0].Kind != EventError || evs[1].Kind != EventFetched {
		t.Fatalf("events = %+v, want error then fetched", evs)
	}
	if evs[1].Centroids != nil {
		t.Error("centroids reported after a decode failure")
	}
}

func TestRefreshStartsNewEpoch(t *testing.T) {
	client := newFakeClient()
	client.doc = truncatedDoc
	h := newHarness(t, client)
	if r := h.result(h.coord.Fetch(Options{})); r.Err != nil {
		t.Fatal(r.Err)
	}
	before := h.state()

	client.mu.Lock()
	client.doc = func(Query) *annotation.Document { return testDoc(5, nil) }
	client.mu.Unlock()
	r := h.result(h.coord.Refresh())
	if r.Err != nil || r.Mode != annotation.ModeFull {
		t.Fatalf("Refresh() = %+v", r)
	}
	after := h.state()
	if after.Epoch != before.Epoch+1 {
		t.Errorf("Epoch = %d, want %d", after.Epoch, before.Epoch+1)
	}
	if after.Centroids != nil {
		t.Error("centroids survived refresh")
	}
}

func TestFetchUnsavedAnnotation(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(annotation.New("item1", "draft"), client)
	defer coord.Close()

	r := <-coord.Fetch(Options{})
	if !errors.Is(r.Err, ErrNotSaved) {
		t.Errorf("Fetch() error = %v, want ErrNotSaved", r.Err)
	}
	if queries, _, _ := client.snapshot(); len(queries) != 0 {
		t.Errorf("element calls = %d, want 0", len(queries))
	}
}

func TestCloseResolvesPending(t *testing.T) {
	client := newFakeClient()
	client.elementGate = make(chan struct{})
	h := newHarness(t, client)

	first := h.coord.Fetch(Options{})
	h.started("elements")
	second := h.coord.Fetch(Options{})
	h.coord.Close()

	for _, ch := range []<-chan Result{first, second} {
		if r := h.result(ch); !errors.Is(r.Err, ErrClosed) {
			t.Errorf("pending fetch error = %v, want ErrClosed", r.Err)
		}
	}
	if r := h.result(h.coord.Fetch(Options{})); !errors.Is(r.Err, ErrClosed) {
		t.Errorf("Fetch() after Close error = %v, want ErrClosed", r.Err)
	}
	if err := h.coord.Do(func(*annotation.Annotation) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() after Close = %v, want ErrClosed", err)
	}
}

func TestFetchJoinsFirstWholeQuery(t *testing.T) {
	client := newFakeClient()
	client.elementGate = make(chan struct{})
	h := newHarness(t, client)

	h.coord.SetView(viewAt(0, 0))
	h.started("elements")
	first := h.coord.Fetch(Options{})
	second := h.coord.Fetch(Options{})
	if s := h.state(); s.Queued {
		t.Errorf("Queued = true while the first whole query is outstanding")
	}
	client.elementGate <- struct{}{}

	for _, ch := range []<-chan Result{first, second} {
		if r := h.result(ch); r.Err != nil || r.Mode != annotation.ModeFull {
			t.Errorf("Fetch() = %+v, want full", r)
		}
	}
	if queries, _, _ := client.snapshot(); len(queries) != 1 {
		t.Errorf("element calls = %d, want 1", len(queries))
	}
}

func TestFetchRefreshDuringFirstQueryIsQueued(t *testing.T) {
	client := newFakeClient()
	client.elementGate = make(chan struct{})
	h := newHarness(t, client)

	first := h.coord.Fetch(Options{})
	h.started("elements")
	refresh := h.coord.Refresh()
	client.elementGate <- struct{}{}
	h.result(first)
	h.started("elements")
	client.elementGate <- struct{}{}
	if r := h.result(refresh); r.Err != nil {
		t.Fatal(r.Err)
	}
	if queries, _, _ := client.snapshot(); len(queries) != 2 {
		t.Errorf("element calls = %d, want 2", len(queries))
	}
	if s := h.state(); s.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", s.Epoch)
	}
}

func TestIdle(t *testing.T) {
	client := newFakeClient()
	client.doc = truncatedDoc
	h := newHarness(t, client)

	if r := h.result(h.coord.Idle()); r.Err != nil || r.Mode != annotation.ModeUnknown {
		t.Errorf("Idle() before any fetch = %+v, want unknown", r)
	}

	client.elementGate = make(chan struct{})
	h.coord.SetView(viewAt(0, 0))
	first := h.coord.Fetch(Options{})
	h.started("elements")
	client.elementGate <- struct{}{}
	if r := h.result(first); r.Err != nil || r.Mode != annotation.ModePartial {
		t.Fatalf("Fetch() = %+v, want partial", r)
	}

	// The viewport follow-up is outstanding now.
	idle := h.coord.Idle()
	h.started("centroids")
	h.started("elements")
	client.elementGate <- struct{}{}
	if r := h.result(idle); r.Err != nil || r.Mode != annotation.ModePartial {
		t.Errorf("Idle() = %+v, want partial", r)
	}
	queries, centroidCalls, _ := client.snapshot()
	if len(queries) != 2 || centroidCalls != 1 {
		t.Errorf("element calls = %d, centroid calls = %d; want 2, 1", len(queries), centroidCalls)
	}
	if len(queries) == 2 && queries[1].Region == nil {
		t.Error("follow-up query has no region")
	}
}
