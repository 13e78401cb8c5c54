package element

import (
	"errors"
	"testing"
)

func pointAt(id string, x, y float64) Element {
	return Element{ID: id, Type: TypePoint, Center: []float64{x, y, 0}}
}

const (
	id1 = "000000000000000000000001"
	id2 = "000000000000000000000002"
	id3 = "000000000000000000000003"
)

func TestStoreAddGetOrder(t *testing.T) {
	s := NewStore()
	for i, id := range []string{id3, id1, id2} {
		if _, err := s.Add(pointAt(id, float64(i), 0)); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	ids := s.IDs()
	if ids[0] != id3 || ids[1] != id1 || ids[2] != id2 {
		t.Errorf("IDs() = %v, want insertion order", ids)
	}
	e, ok := s.Get(id1)
	if !ok || e.Center[0] != 1 {
		t.Errorf("Get(id1) = %+v, %v", e, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
}

func TestStoreAddAssignsID(t *testing.T) {
	s := NewStore()
	id, err := s.Add(Element{Type: TypePoint, Center: []float64{1, 1}})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !ValidID(id) || !s.Has(id) {
		t.Errorf("Add() assigned %q", id)
	}
}

func TestStoreRejectsDuplicateAndInvalid(t *testing.T) {
	s := NewStore()
	if _, err := s.Add(pointAt(id1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	seq := s.Seq()

	if _, err := s.Add(pointAt(id1, 5, 5)); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Add(duplicate) = %v, want ErrDuplicateID", err)
	}
	if _, err := s.Add(Element{ID: id2, Type: TypePoint}); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("Add(invalid) = %v, want ErrInvalidElement", err)
	}
	if err := s.Update(Element{ID: id1, Type: TypePoint}); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("Update(invalid) = %v, want ErrInvalidElement", err)
	}
	if err := s.Update(pointAt(id2, 0, 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Remove(id2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(missing) = %v, want ErrNotFound", err)
	}
	if s.Seq() != seq {
		t.Errorf("rejected mutations advanced Seq from %d to %d", seq, s.Seq())
	}
	if len(s.Log()) != 1 {
		t.Errorf("Log() has %d diffs, want 1", len(s.Log()))
	}
}

func TestStoreDiffs(t *testing.T) {
	s := NewStore()
	var diffs []Diff
	unsubscribe := s.Subscribe(func(d Diff) {
		// The mutation must already be visible to the listener.
		if d.Len != s.Len() {
			t.Errorf("listener saw Len %d, store has %d", d.Len, s.Len())
		}
		diffs = append(diffs, d)
	})

	if _, err := s.Add(pointAt(id1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(pointAt(id1, 9, 9)); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id1); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset([]Element{pointAt(id2, 0, 0), pointAt(id3, 0, 0)}, SourceFetch); err != nil {
		t.Fatal(err)
	}

	if len(diffs) != 4 {
		t.Fatalf("got %d diffs, want 4", len(diffs))
	}
	if c := diffs[0].Changes[0]; c.Op != OpAdd || c.After == nil || c.Before != nil {
		t.Errorf("add change = %+v", c)
	}
	if c := diffs[1].Changes[0]; c.Op != OpUpdate || c.Before.Center[0] != 0 || c.After.Center[0] != 9 {
		t.Errorf("update change = %+v", c)
	}
	if c := diffs[2].Changes[0]; c.Op != OpRemove || c.Before == nil || c.After != nil {
		t.Errorf("remove change = %+v", c)
	}
	if d := diffs[3]; !d.Reset || d.Source != SourceFetch || d.Len != 2 {
		t.Errorf("reset diff = %+v", d)
	}
	for i := 1; i < len(diffs); i++ {
		if diffs[i].Seq != diffs[i-1].Seq+1 {
			t.Errorf("diff seq not consecutive: %d then %d", diffs[i-1].Seq, diffs[i].Seq)
		}
	}

	unsubscribe()
	if _, err := s.Add(pointAt(id1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 4 {
		t.Error("listener called after unsubscribe")
	}
}

func TestStoreResetDuplicateLeavesStore(t *testing.T) {
	s := NewStore()
	if err := s.Reset([]Element{pointAt(id1, 0, 0)}, SourceFetch); err != nil {
		t.Fatal(err)
	}
	err := s.Reset([]Element{pointAt(id2, 0, 0), pointAt(id2, 1, 1)}, SourceFetch)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Reset(duplicate) = %v, want ErrDuplicateID", err)
	}
	if !s.Has(id1) || s.Len() != 1 {
		t.Errorf("store changed by rejected reset: %v", s.IDs())
	}
}

func TestStoreLogLimit(t *testing.T) {
	s := NewStore()
	s.logLimit = 3
	for i := 0; i < 5; i++ {
		if err := s.Reset(nil, SourceFetch); err != nil {
			t.Fatal(err)
		}
	}
	log := s.Log()
	if len(log) != 3 {
		t.Fatalf("Log() len = %d, want 3", len(log))
	}
	if log[0].Seq != 3 || log[2].Seq != 5 {
		t.Errorf("Log() kept seqs %d..%d, want 3..5", log[0].Seq, log[2].Seq)
	}
}

func TestStoreListenersRunInSubscriptionOrder(t *testing.T) {
	s := NewStore()
	var calls []int
	unsubscribe := make([]func(), 8)
	for i := range unsubscribe {
		unsubscribe[i] = s.Subscribe(func(Diff) { calls = append(calls, i) })
	}
	check := func(want []int) {
		t.Helper()
		if len(calls) != len(want) {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
		for i := range want {
			if calls[i] != want[i] {
				t.Fatalf("calls = %v, want %v", calls, want)
			}
		}
		calls = nil
	}

	for _, id := range []string{id1, id2, id3} {
		if _, err := s.Add(pointAt(id, 0, 0)); err != nil {
			t.Fatal(err)
		}
		check([]int{0, 1, 2, 3, 4, 5, 6, 7})
	}

	unsubscribe[3]()
	unsubscribe[0]()
	if err := s.Remove(id2); err != nil {
		t.Fatal(err)
	}
	check([]int{1, 2, 4, 5, 6, 7})
}

func TestStoreUnsubscribeDuringEmit(t *testing.T) {
	s := NewStore()
	var calls []string
	var unsubscribeFirst func()
	unsubscribeFirst = s.Subscribe(func(Diff) {
		calls = append(calls, "first")
		unsubscribeFirst()
	})
	s.Subscribe(func(Diff) { calls = append(calls, "second") })

	if _, err := s.Add(pointAt(id1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(pointAt(id2, 0, 0)); err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "second"}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] || calls[2] != want[2] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}
