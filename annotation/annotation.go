// Package annotation holds the annotation model: its attributes, its element
// store, whether the local element set is complete, and the change log of a
// versioned annotation.
package annotation

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/region"
)

// ErrPartialAnnotation is returned when the full element list is requested
// from an annotation that only holds the largest elements.
var ErrPartialAnnotation = errors.New("annotation: element list is partial")

// Mode records whether the locally held elements are the complete set.
type Mode int

const (
	// ModeUnknown means no fetch has reported on completeness yet.
	ModeUnknown Mode = iota
	// ModeFull means the server returned every element.
	ModeFull
	// ModePartial means the server truncated the element list; the rest is
	// only known through the centroid summary.
	ModePartial
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// ElementQuery is the truncation metadata a region query attaches when it
// did not return every element.
type ElementQuery struct {
	Count      int      `json:"count"`
	Returned   int      `json:"returned"`
	MaxDetails int      `json:"maxDetails,omitempty"`
	Props      [][]any  `json:"props,omitempty"`
	PropsKeys  []string `json:"propskeys,omitempty"`
}

// Truncated reports whether the server held back elements.
func (q *ElementQuery) Truncated() bool {
	return q != nil && q.Count > q.Returned
}

// Body is the "annotation" member of an annotation document.
type Body struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
	Display     map[string]any    `json:"display,omitempty"`
	Elements    []element.Element `json:"elements,omitempty"`
}

// Document is an annotation as returned by the server.
type Document struct {
	ID           string        `json:"_id"`
	ItemID       string        `json:"itemId"`
	Version      int           `json:"_version,omitempty"`
	Annotation   Body          `json:"annotation"`
	ElementQuery *ElementQuery `json:"-"`
}

// documentWire accepts the truncation metadata under either name.
type documentWire struct {
	ID          string        `json:"_id"`
	ItemID      string        `json:"itemId"`
	Version     int           `json:"_version,omitempty"`
	Annotation  Body          `json:"annotation"`
	Query       *ElementQuery `json:"_elementQuery,omitempty"`
	LegacyQuery *ElementQuery `json:"elementQuery,omitempty"`
}

// UnmarshalJSON decodes a server document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w documentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Document{ID: w.ID, ItemID: w.ItemID, Version: w.Version, Annotation: w.Annotation, ElementQuery: w.Query}
	if d.ElementQuery == nil {
		d.ElementQuery = w.LegacyQuery
	}
	return nil
}

// MarshalJSON encodes the document with its truncation metadata.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentWire{ID: d.ID, ItemID: d.ItemID, Version: d.Version, Annotation: d.Annotation, Query: d.ElementQuery})
}

// Annotation is a named collection of elements tied to one image item.
//
// An Annotation is owned by one goroutine (its fetch coordinator); the
// store and change log are not safe for concurrent use.
type Annotation struct {
	ID          string
	ItemID      string
	Name        string
	Description string
	Attributes  map[string]any
	Display     map[string]any
	Version     int

	// Mode is maintained by the fetch coordinator.
	Mode Mode
	// Region is the area the current elements were fetched for.
	Region region.Region

	store   *element.Store
	changes *element.ChangeLog
}

// New creates an unsaved annotation for an item.
func New(itemID, name string) *Annotation {
	return &Annotation{
		ItemID: itemID,
		Name:   name,
		store:  element.NewStore(),
	}
}

// FromDocument hydrates an annotation from a server document. The elements
// of the document are loaded into the store.
func FromDocument(doc *Document) (*Annotation, error) {
	a := &Annotation{store: element.NewStore()}
	if err := a.Apply(doc); err != nil {
		return nil, err
	}
	return a, nil
}

// IsNew reports whether the annotation has not been created on the server.
func (a *Annotation) IsNew() bool {
	return a.ID == ""
}

// Versioned reports whether the server has assigned a version.
func (a *Annotation) Versioned() bool {
	return a.Version > 0
}

// Store returns the element store.
func (a *Annotation) Store() *element.Store {
	return a.store
}

// ChangeLog returns the pending element changes, or nil before the
// annotation has a server-assigned version.
func (a *Annotation) ChangeLog() *element.ChangeLog {
	return a.changes
}

// Apply copies the attributes of a server document and replaces the
// elements with the document's elements.
func (a *Annotation) Apply(doc *Document) error {
	if err := a.store.Reset(doc.Annotation.Elements, element.SourceFetch); err != nil {
		return err
	}
	a.applyAttributes(doc)
	return nil
}

// MarkSaved records the identity and version returned by a save and starts
// a fresh change log.
func (a *Annotation) MarkSaved(doc *Document) {
	a.applyAttributes(doc)
	if a.changes != nil {
		a.changes.Clear()
	}
}

func (a *Annotation) applyAttributes(doc *Document) {
	if doc.ID != "" {
		a.ID = doc.ID
	}
	if doc.ItemID != "" {
		a.ItemID = doc.ItemID
	}
	a.Name = doc.Annotation.Name
	a.Description = doc.Annotation.Description
	a.Attributes = doc.Annotation.Attributes
	a.Display = doc.Annotation.Display
	if doc.Version > a.Version {
		a.Version = doc.Version
	}
	if a.Versioned() && a.changes == nil {
		a.changes = element.NewChangeLog()
		a.store.Subscribe(a.changes.Record)
	}
}

// Elements returns every element for export. It refuses when the local set
// is partial, since the result would silently miss elements.
func (a *Annotation) Elements() ([]element.Element, error) {
	if a.Mode == ModePartial {
		return nil, ErrPartialAnnotation
	}
	return a.store.Elements(), nil
}

// SaveBody builds the request body for a create or update. Elements are
// included only when the local set is known to be complete (a new
// annotation, or one whose fetch was not truncated); empty labels are
// dropped.
func (a *Annotation) SaveBody() Body {
	body := Body{
		Name:        a.Name,
		Description: a.Description,
		Attributes:  a.Attributes,
		Display:     a.Display,
	}
	if a.IsNew() || a.Mode == ModeFull {
		body.Elements = make([]element.Element, 0, a.store.Len())
		a.store.Each(func(e *element.Element) bool {
			body.Elements = append(body.Elements, stripEmptyLabel(*e))
			return true
		})
	}
	return body
}

// HasElements reports whether a save body carries an element list.
func (b *Body) HasElements() bool {
	return b.Elements != nil
}

// MarshalJSON always emits "elements" when the list is present, even when
// it is empty, so that saving a cleared annotation clears it on the server.
func (b Body) MarshalJSON() ([]byte, error) {
	type plain Body
	if b.Elements == nil || len(b.Elements) > 0 {
		return json.Marshal(plain(b))
	}
	return json.Marshal(struct {
		plain
		Elements []element.Element `json:"elements"`
	}{plain: plain(b), Elements: b.Elements})
}

// stripEmptyLabel drops a label with no visible text. Other labels are
// kept verbatim.
func stripEmptyLabel(e element.Element) element.Element {
	if e.Label != nil && strings.TrimSpace(norm.NFC.String(e.Label.Value)) == "" {
		e.Label = nil
	}
	return e
}
