package selection

import (
	"reflect"
	"testing"
)

func TestToggleAllStrict(t *testing.T) {
	roster := []string{"r1", "r2", "r3", "r4", "r5", "r6"}

	cases := []struct {
		name     string
		selected []string
		want     []string
	}{
		{"none selected", nil, roster},
		{"partial expands", []string{"r1", "r2", "r3", "r4", "r5"}, roster},
		{"all selected clears", roster, []string{}},
		{"stale extra id kept on expand", []string{"gone"}, append([]string{"gone"}, roster...)},
	}
	for _, tc := range cases {
		s := New(tc.selected...)
		s.ToggleAll(roster)
		if got := s.IDs(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestToggleAllEmptyRosterIsNoop(t *testing.T) {
	s := New("r1")
	s.ToggleAll(nil)
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Fatalf("expected selection untouched, got %v", got)
	}
}

func TestToggleAndIDsSorted(t *testing.T) {
	var s State
	if !s.Empty() {
		t.Fatalf("zero value must be empty")
	}
	for _, id := range []string{"vet-c", "vet-a", "vet-b"} {
		if !s.Toggle(id) {
			t.Fatalf("expected %s selected", id)
		}
	}
	if s.Toggle("vet-b") {
		t.Fatalf("second toggle must deselect")
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"vet-a", "vet-c"}) {
		t.Fatalf("unexpected ids %v", got)
	}
	if !s.Contains("vet-a") || s.Contains("vet-b") {
		t.Fatalf("unexpected membership")
	}
}

func TestRetain(t *testing.T) {
	s := New("r1", "r2", "r9")
	removed := s.Retain([]string{"r1", "r2", "r3"})
	if !reflect.DeepEqual(removed, []string{"r9"}) {
		t.Fatalf("unexpected removed %v", removed)
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"r1", "r2"}) {
		t.Fatalf("unexpected ids %v", got)
	}
}
