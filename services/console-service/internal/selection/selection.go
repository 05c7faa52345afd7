// Package selection tracks which veterinarians are shown as calendar columns.
package selection

import (
	"slices"
	"sync"
)

// State is a set of resource ids. It is safe for concurrent use; the zero
// value is an empty selection.
type State struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func New(ids ...string) *State {
	s := &State{}
	for _, id := range ids {
		if id != "" {
			s.set(id)
		}
	}
	return s
}

func (s *State) set(id string) {
	if s.ids == nil {
		s.ids = map[string]struct{}{}
	}
	s.ids[id] = struct{}{}
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *State) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.set(id)
	return true
}

// ToggleAll clears the selection when every roster id is already selected and
// selects the whole roster otherwise. A partial selection always expands.
func (s *State) ToggleAll(roster []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := len(roster) > 0
	for _, id := range roster {
		if _, ok := s.ids[id]; !ok {
			all = false
			break
		}
	}
	if all {
		s.ids = nil
		return
	}
	for _, id := range roster {
		s.set(id)
	}
}

// IDs returns the selected ids sorted so that query keys built from them are
// stable.
func (s *State) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *State) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *State) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids) == 0
}

// Retain drops ids that are no longer on the roster and returns what was
// removed.
func (s *State) Retain(roster []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id := range s.ids {
		if !slices.Contains(roster, id) {
			delete(s.ids, id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed
}
