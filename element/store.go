package element

import (
	"errors"
	"fmt"
	"slices"
)

// Store errors.
var (
	ErrDuplicateID = errors.New("element: duplicate element id")
	ErrNotFound    = errors.New("element: element not found")
)

// Op is the kind of a store mutation.
type Op string

// Mutation kinds.
const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Source tells listeners where a mutation came from.
type Source int

const (
	// SourceEdit is a local edit (draw, modify, delete).
	SourceEdit Source = iota
	// SourceFetch is a server response replacing the element set.
	SourceFetch
)

// Change is one element-level mutation.
type Change struct {
	Op     Op
	ID     string
	Before *Element // nil for OpAdd
	After  *Element // nil for OpRemove
}

// Diff is the record of one store mutation. A reset replaces the whole
// element set and carries no per-element changes.
type Diff struct {
	Seq     uint64
	Source  Source
	Reset   bool
	Len     int // element count after the mutation
	Changes []Change
}

// Listener receives every diff after the mutation has completed.
type Listener func(Diff)

// DefaultLogLimit bounds the number of diffs kept by a Store.
const DefaultLogLimit = 256

// Store is an ordered mapping of element id to element.
//
// Every mutation is applied completely before listeners run, so a listener
// never observes a half-applied change. The store is owned by a single
// goroutine (the annotation's coordinator) and is not safe for concurrent
// use.
type Store struct {
	order     []string
	byID      map[string]*Element
	listeners []subscription
	nextLis   int
	log       []Diff
	logLimit  int
	seq       uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Element),
		logLimit: DefaultLogLimit,
	}
}

type subscription struct {
	id int
	fn Listener
}

// Subscribe registers a listener. Listeners run in subscription order.
// The returned function removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	id := s.nextLis
	s.nextLis++
	s.listeners = append(s.listeners, subscription{id: id, fn: l})
	return func() {
		s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(x subscription) bool { return x.id == id })
	}
}

// Len returns the number of elements.
func (s *Store) Len() int {
	return len(s.order)
}

// Get returns the element with the given id.
func (s *Store) Get(id string) (Element, bool) {
	e, ok := s.byID[id]
	if !ok {
		return Element{}, false
	}
	return *e, true
}

// Has reports whether the store holds an element with the given id.
func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// IDs returns the element ids in order.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Elements returns a copy of the elements in order.
func (s *Store) Elements() []Element {
	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Each calls fn for every element in order until fn returns false.
func (s *Store) Each(fn func(*Element) bool) {
	for _, id := range s.order {
		if !fn(s.byID[id]) {
			return
		}
	}
}

// Reset replaces all elements. Elements without an id get a new one.
// The store is unchanged if the new set contains a duplicate id.
func (s *Store) Reset(elements []Element, src Source) error {
	order := make([]string, 0, len(elements))
	byID := make(map[string]*Element, len(elements))
	for i := range elements {
		e := elements[i]
		if e.ID == "" {
			e.ID = NewID()
		}
		if _, dup := byID[e.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		byID[e.ID] = &e
		order = append(order, e.ID)
	}
	s.order, s.byID = order, byID
	s.emit(Diff{Source: src, Reset: true})
	return nil
}

// Add validates and appends an element, assigning an id when it has none.
// It returns the element id.
func (s *Store) Add(e Element) (string, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	if _, dup := s.byID[e.ID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	s.byID[e.ID] = &e
	s.order = append(s.order, e.ID)
	after := e
	s.emit(Diff{Source: SourceEdit, Changes: []Change{{Op: OpAdd, ID: e.ID, After: &after}}})
	return e.ID, nil
}

// Update replaces an existing element with the same id. A rejected
// (invalid) element leaves the store and the diff log untouched.
func (s *Store) Update(e Element) error {
	cur, ok := s.byID[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	before := *cur
	*cur = e
	after := e
	s.emit(Diff{Source: SourceEdit, Changes: []Change{{Op: OpUpdate, ID: e.ID, Before: &before, After: &after}}})
	return nil
}

// Remove deletes the element with the given id.
func (s *Store) Remove(id string) error {
	cur, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	before := *cur
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.emit(Diff{Source: SourceEdit, Changes: []Change{{Op: OpRemove, ID: id, Before: &before}}})
	return nil
}

// Log returns the retained diffs, oldest first.
func (s *Store) Log() []Diff {
	out := make([]Diff, len(s.log))
	copy(out, s.log)
	return out
}

// Seq returns the sequence number of the last mutation.
func (s *Store) Seq() uint64 {
	return s.seq
}

func (s *Store) emit(d Diff) {
	s.seq++
	d.Seq = s.seq
	d.Len = len(s.order)
	s.log = append(s.log, d)
	if over := len(s.log) - s.logLimit; over > 0 {
		s.log = append(s.log[:0], s.log[over:]...)
	}
	for _, l := range s.listeners {
		l.fn(d)
	}
}
