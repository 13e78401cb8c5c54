// Package fetch serializes the network fetches of one annotation.
//
// A Coordinator owns an annotation, its element store and its fetch state on
// a single goroutine. Element queries and centroid fetches run on helper
// goroutines and hand their results back to that goroutine, so at most one
// call per annotation is outstanding and the store is never mutated
// concurrently. Requests that arrive while a call is outstanding collapse
// into one follow-up fetch that runs with the newest region.
//
// The first fetch of an epoch queries the whole annotation with the element
// cap. If the server reports that it held elements back, the annotation
// becomes partial: the centroid summary is fetched once, and later viewport
// changes page elements by region. Otherwise the annotation is complete and
// viewport changes no longer fetch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/centroid"
	"github.com/gogpu/annot/region"
)

// Errors reported by a Coordinator.
var (
	// ErrClosed is returned for requests to a closed coordinator.
	ErrClosed = errors.New("fetch: coordinator closed")

	// ErrFetchTimeout is returned when a call did not complete within the
	// configured timeout. The in-flight state is cleared and the fetch can
	// be retried.
	ErrFetchTimeout = errors.New("fetch: timed out")

	// ErrNotSaved is returned when fetching an annotation that has not been
	// created on the server.
	ErrNotSaved = errors.New("fetch: annotation is not saved")
)

// EventKind identifies a coordinator event.
type EventKind int

const (
	// EventFetched is sent once per fetch cycle, after the centroid summary
	// was resolved when one was needed.
	EventFetched EventKind = iota
	// EventError is sent when a call of the cycle failed.
	EventError
)

// String returns the event name.
func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "fetched"
}

// Event is delivered to the Handler on the coordinator goroutine.
type Event struct {
	Kind         EventKind
	AnnotationID string
	Epoch        uint64
	Mode         annotation.Mode
	// Centroids is the summary of the epoch, if any.
	Centroids *centroid.Summary
	Err       error
}

// Handler receives coordinator events. It runs on the coordinator
// goroutine and may use the annotation freely, but must not block on
// calls to the same coordinator.
type Handler func(a *annotation.Annotation, ev Event)

// Options modify a single Fetch.
type Options struct {
	// Refresh starts a new epoch: the mode and centroid summary are
	// discarded together with the next element query.
	Refresh bool
}

// Result resolves a Fetch.
type Result struct {
	Mode annotation.Mode
	Err  error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorOptions)

type coordinatorOptions struct {
	config  annot.Config
	handler Handler
	metrics *Metrics
}

// WithConfig sets the limits, view area and timeout.
func WithConfig(cfg annot.Config) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.config = cfg
	}
}

// WithHandler sets the event handler.
func WithHandler(h Handler) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.handler = h
	}
}

// WithMetrics records fetch metrics. Coordinators of one viewer share a
// Metrics value.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.metrics = m
	}
}

// Coordinator serializes the fetches of one annotation.
type Coordinator struct {
	client  Client
	cfg     annot.Config
	handler Handler
	metrics *Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	mb        *mailbox
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	ann            *annotation.Annotation
	tracker        *region.Tracker
	state          State
	closed         bool
	calls          uint64
	active         uint64
	waiters        []chan<- Result
	queuedWaiters  []chan<- Result
	queuedRefresh  bool
	queuedExplicit bool
}

// NewCoordinator starts the coordinator goroutine for ann. The coordinator
// takes ownership of ann: after this call it must only be used from
// functions passed to Do or Call, or from the Handler.
func NewCoordinator(ann *annotation.Annotation, client Client, opts ...CoordinatorOption) *Coordinator {
	o := coordinatorOptions{config: annot.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:  client,
		cfg:     o.config,
		handler: o.handler,
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
		mb:      newMailbox(),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		ann:     ann,
		tracker: region.NewTracker(o.config.ViewArea),
	}
	c.state.PageElements = ann.Mode
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.mb.signal:
			for _, fn := range c.mb.take() {
				fn()
			}
		case <-c.done:
			c.closed = true
			for _, fn := range c.mb.close() {
				fn()
			}
			c.abandon()
			return
		}
	}
}

// Fetch requests a fetch cycle. If a call is outstanding, the request is
// merged into the single follow-up cycle and resolves with it. A plain
// request made while the first whole-annotation query of an epoch is
// outstanding joins that cycle instead, since the follow-up would repeat
// the same query.
func (c *Coordinator) Fetch(opts Options) <-chan Result {
	ch := make(chan Result, 1)
	if !c.mb.post(func() { c.request(opts, ch) }) {
		ch <- Result{Err: ErrClosed}
	}
	return ch
}

// Refresh starts a new epoch. It is Fetch with Options.Refresh set.
func (c *Coordinator) Refresh() <-chan Result {
	return c.Fetch(Options{Refresh: true})
}

// Idle resolves once the outstanding cycle, or the queued follow-up if
// there is one, has finished. It never starts a fetch: with nothing
// outstanding it resolves right away with the current mode.
func (c *Coordinator) Idle() <-chan Result {
	ch := make(chan Result, 1)
	ok := c.mb.post(func() {
		switch {
		case c.closed:
			ch <- Result{Err: ErrClosed}
		case c.state.Queued:
			c.queuedWaiters = append(c.queuedWaiters, ch)
		case c.state.InFlight != InFlightNone:
			c.waiters = append(c.waiters, ch)
		default:
			ch <- Result{Mode: c.ann.Mode}
		}
	})
	if !ok {
		ch <- Result{Err: ErrClosed}
	}
	return ch
}

// SetView reports a viewport change. For a partial annotation it fetches
// the elements of the new region when the view left the hysteresis band.
// It does nothing for unsaved or complete annotations.
func (c *Coordinator) SetView(v region.View) {
	c.mb.post(func() { c.setView(v) })
}

// Do runs fn on the coordinator goroutine without waiting for it.
func (c *Coordinator) Do(fn func(a *annotation.Annotation)) error {
	ok := c.mb.post(func() {
		if !c.closed {
			fn(c.ann)
		}
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Call runs fn on the coordinator goroutine and waits for its result.
func (c *Coordinator) Call(ctx context.Context, fn func(a *annotation.Annotation) error) error {
	result := make(chan error, 1)
	ok := c.mb.post(func() {
		if c.closed {
			result <- ErrClosed
			return
		}
		result <- fn(c.ann)
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.exited:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// State returns a snapshot of the fetch state.
func (c *Coordinator) State(ctx context.Context) (State, error) {
	var s State
	err := c.Call(ctx, func(*annotation.Annotation) error {
		s = c.state
		return nil
	})
	return s, err
}

// Close stops the coordinator. Outstanding calls are cancelled and their
// responses ignored; pending fetches resolve with ErrClosed. Close must not
// be called from the coordinator goroutine.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
	<-c.exited
	return nil
}

func (c *Coordinator) request(opts Options, ch chan<- Result) {
	if c.closed {
		ch <- Result{Err: ErrClosed}
		return
	}
	if c.ann.IsNew() {
		ch <- Result{Mode: c.ann.Mode, Err: ErrNotSaved}
		return
	}
	if c.state.InFlight != InFlightNone {
		if !opts.Refresh && c.state.InFlight == InFlightElements && c.ann.Mode == annotation.ModeUnknown {
			c.waiters = append(c.waiters, ch)
			return
		}
		c.enqueue(opts.Refresh, ch, true)
		return
	}
	c.startCycle(opts.Refresh, []chan<- Result{ch})
}

func (c *Coordinator) setView(v region.View) {
	if c.closed || c.ann.IsNew() || c.ann.Mode == annotation.ModeFull {
		return
	}
	inFlight := c.state.InFlight != InFlightNone
	d := c.tracker.SetView(v, inFlight)
	if !d.Fetch {
		return
	}
	if inFlight {
		c.enqueue(false, nil, false)
		return
	}
	c.startCycle(false, nil)
}

// enqueue merges a request into the follow-up cycle.
func (c *Coordinator) enqueue(refresh bool, ch chan<- Result, explicit bool) {
	c.state.Queued = true
	c.queuedRefresh = c.queuedRefresh || refresh
	c.queuedExplicit = c.queuedExplicit || explicit
	if ch != nil {
		c.queuedWaiters = append(c.queuedWaiters, ch)
	}
}

func (c *Coordinator) startCycle(refresh bool, waiters []chan<- Result) {
	if refresh || c.state.Epoch == 0 {
		c.state.Epoch++
		c.state.Centroids = nil
		c.setMode(annotation.ModeUnknown)
	}
	c.waiters = waiters

	q := Query{MaxDetails: c.cfg.MaxDetails}
	c.state.HasRegion = false
	if c.ann.Mode == annotation.ModePartial {
		if r, ok := c.tracker.Region(); ok {
			q.Region = &r
			c.state.LastRegion, c.state.HasRegion, c.state.LastZoom = r, true, r.Zoom
		}
	}

	annot.Logger().Debug("fetch: element query",
		"annotation", c.ann.ID, "epoch", c.state.Epoch, "region", q.Region != nil)
	c.metrics.ElementFetches.Inc()
	id := c.ann.ID
	launch(c, InFlightElements, func(ctx context.Context) (*annotation.Document, error) {
		return c.client.Elements(ctx, id, q)
	}, func(doc *annotation.Document, err error) {
		c.elementsDone(q, doc, err)
	})
}

func (c *Coordinator) elementsDone(q Query, doc *annotation.Document, err error) {
	if err == nil {
		err = c.ann.Apply(doc)
	}
	if err != nil {
		c.fail("elements", err)
		c.finishCycle(err)
		return
	}
	if q.Region != nil {
		c.ann.Region = *q.Region
	} else {
		c.ann.Region = region.Region{}
	}

	if c.ann.Mode == annotation.ModeUnknown {
		if doc.ElementQuery.Truncated() {
			c.setMode(annotation.ModePartial)
			if _, ok := c.tracker.Region(); ok {
				// The current view has not been paged in yet.
				c.enqueue(false, nil, false)
			}
			c.fetchCentroids()
			return
		}
		c.setMode(annotation.ModeFull)
	}
	c.emit(Event{Kind: EventFetched})
	c.finishCycle(nil)
}

func (c *Coordinator) fetchCentroids() {
	annot.Logger().Debug("fetch: centroid summary",
		"annotation", c.ann.ID, "epoch", c.state.Epoch, "limit", c.cfg.MaxCentroids)
	c.metrics.CentroidFetches.Inc()
	id, limit := c.ann.ID, c.cfg.MaxCentroids
	launch(c, InFlightCentroids, func(ctx context.Context) (*centroid.Summary, error) {
		buf, err := c.client.Centroids(ctx, id, limit)
		if err != nil {
			return nil, err
		}
		return centroid.Decode(buf)
	}, c.centroidsDone)
}

// centroidsDone completes a cycle that found the element list truncated.
// A failed summary leaves the fetched elements in place; only the markers
// are missing.
func (c *Coordinator) centroidsDone(s *centroid.Summary, err error) {
	if err != nil {
		c.fail("centroids", err)
	} else {
		c.state.Centroids = s
	}
	c.emit(Event{Kind: EventFetched})
	c.finishCycle(err)
}

// finishCycle resolves the waiters of the current cycle and starts the
// follow-up cycle, if any.
func (c *Coordinator) finishCycle(err error) {
	for _, ch := range c.waiters {
		ch <- Result{Mode: c.ann.Mode, Err: err}
	}
	c.waiters = nil

	if !c.state.Queued {
		return
	}
	refresh, explicit, waiters := c.queuedRefresh, c.queuedExplicit, c.queuedWaiters
	c.state.Queued, c.queuedRefresh, c.queuedExplicit, c.queuedWaiters = false, false, false, nil
	if !explicit && c.ann.Mode == annotation.ModeFull {
		annot.Logger().Debug("fetch: viewport fetch dropped, annotation is complete", "annotation", c.ann.ID)
		for _, ch := range waiters {
			ch <- Result{Mode: c.ann.Mode}
		}
		return
	}
	c.startCycle(refresh, waiters)
}

func (c *Coordinator) setMode(m annotation.Mode) {
	c.ann.Mode = m
	c.state.PageElements = m
}

func (c *Coordinator) fail(kind string, err error) {
	cause := "transport"
	switch {
	case errors.Is(err, ErrFetchTimeout):
		cause = "timeout"
	case errors.Is(err, centroid.ErrInvalidData), errors.Is(err, centroid.ErrInvalidSize):
		cause = "decode"
	}
	c.metrics.Errors.WithLabelValues(kind, cause).Inc()
	annot.Logger().Warn("fetch: call failed",
		"annotation", c.ann.ID, "kind", kind, "cause", cause, "error", err)
	c.emit(Event{Kind: EventError, Err: err})
}

func (c *Coordinator) emit(ev Event) {
	if c.handler == nil {
		return
	}
	ev.AnnotationID = c.ann.ID
	ev.Epoch = c.state.Epoch
	ev.Mode = c.ann.Mode
	ev.Centroids = c.state.Centroids
	c.handler(c.ann, ev)
}

// abandon releases everything waiting on a closed coordinator.
func (c *Coordinator) abandon() {
	if c.active != 0 {
		c.active = 0
		c.state.InFlight = InFlightNone
		c.metrics.InFlight.Dec()
	}
	for _, ch := range c.waiters {
		ch <- Result{Mode: c.ann.Mode, Err: ErrClosed}
	}
	for _, ch := range c.queuedWaiters {
		ch <- Result{Mode: c.ann.Mode, Err: ErrClosed}
	}
	c.waiters, c.queuedWaiters = nil, nil
	c.state.Queued = false
}

// launch runs call on a helper goroutine and hands its result to done on
// the loop goroutine. The first of completion and watchdog expiry wins;
// the other is discarded.
func launch[T any](c *Coordinator, kind InFlight, call func(context.Context) (T, error), done func(T, error)) {
	c.calls++
	seq := c.calls
	c.active = seq
	c.state.InFlight = kind
	c.metrics.InFlight.Inc()

	timeout := c.cfg.FetchTimeout
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	start := time.Now()

	finish := func(v T, err error) {
		if c.closed || c.active != seq {
			annot.Logger().Debug("fetch: stale response ignored", "annotation", c.ann.ID, "kind", kind.String())
			return
		}
		cancel()
		c.active = 0
		c.state.InFlight = InFlightNone
		c.metrics.InFlight.Dec()
		c.metrics.Duration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		done(v, err)
	}

	var watchdog *time.Timer
	if timeout > 0 {
		watchdog = time.AfterFunc(timeout, func() {
			var zero T
			c.mb.post(func() {
				finish(zero, fmt.Errorf("%w: %s call exceeded %s", ErrFetchTimeout, kind, timeout))
			})
		})
	}
	go func() {
		v, err := call(ctx)
		if watchdog != nil {
			watchdog.Stop()
		}
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrFetchTimeout, err)
		}
		c.mb.post(func() { finish(v, err) })
	}()
}
