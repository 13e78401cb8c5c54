package element

import "encoding/json"

// ChangePath is the document path every element change applies to.
const ChangePath = "elements"

// ChangeEntry is one pending element change of a versioned annotation.
type ChangeEntry struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// removedValue is the value of a remove entry: only the id is sent.
type removedValue struct {
	ID string `json:"id"`
}

// ChangeLog collects the element changes made since the last save,
// keyed by element id and kept in first-change order.
type ChangeLog struct {
	order   []string
	entries map[string]ChangeEntry
}

// NewChangeLog creates an empty change log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{entries: make(map[string]ChangeEntry)}
}

// Record folds a store diff into the log. Resets coming from a fetch are
// not edits and are ignored. An add followed by a remove of the same
// unsaved element cancels out; an update of an unsaved element stays an add.
func (l *ChangeLog) Record(d Diff) {
	if d.Source != SourceEdit {
		return
	}
	for _, c := range d.Changes {
		prev, had := l.entries[c.ID]
		switch c.Op {
		case OpAdd:
			l.put(c.ID, ChangeEntry{Op: OpAdd, Path: ChangePath, Value: *c.After})
		case OpUpdate:
			op := OpUpdate
			if had && prev.Op == OpAdd {
				op = OpAdd
			}
			l.put(c.ID, ChangeEntry{Op: op, Path: ChangePath, Value: *c.After})
		case OpRemove:
			if had && prev.Op == OpAdd {
				l.drop(c.ID)
				continue
			}
			l.put(c.ID, ChangeEntry{Op: OpRemove, Path: ChangePath, Value: removedValue{ID: c.ID}})
		}
	}
}

// Len returns the number of pending entries.
func (l *ChangeLog) Len() int {
	return len(l.order)
}

// Get returns the pending entry for an element.
func (l *ChangeLog) Get(id string) (ChangeEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// Entries returns the pending entries in first-change order.
func (l *ChangeLog) Entries() []ChangeEntry {
	out := make([]ChangeEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

// Clear empties the log, typically after a successful save.
func (l *ChangeLog) Clear() {
	l.order = l.order[:0]
	l.entries = make(map[string]ChangeEntry)
}

// MarshalJSON encodes the entries as a JSON array.
func (l *ChangeLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

func (l *ChangeLog) put(id string, e ChangeEntry) {
	if _, ok := l.entries[id]; !ok {
		l.order = append(l.order, id)
	}
	l.entries[id] = e
}

func (l *ChangeLog) drop(id string) {
	delete(l.entries, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}
