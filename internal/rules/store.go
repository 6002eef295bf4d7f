package rules

import (
	"sync"

	"github.com/visualcue/engine/internal/errors"
)

// Store is the in-memory registry of areas, detection rules, and combos.
// IDs are assigned from a monotonic counter and never reused, so a stale
// reference can never silently resolve to a newer entry. Iteration order
// is registration order.
type Store struct {
	mu     sync.RWMutex
	nextID int
	areas  []*Area
	rules  []*DetectionRule
	combos []*ComboRule
}

func NewStore() *Store {
	return &Store{nextID: 1}
}

// AddArea registers a named screen area and returns it with its ID set.
func (s *Store) AddArea(name string, region Rect) (*Area, error) {
	if name == "" {
		return nil, errors.New(errors.ConfigInvalid, "area name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &Area{ID: s.nextID, Name: name, Region: region}
	s.nextID++
	s.areas = append(s.areas, a)
	return a, nil
}

// AddRule registers a detection rule and returns it with its ID set.
func (s *Store) AddRule(r *DetectionRule) (*DetectionRule, error) {
	if r == nil || r.Name == "" {
		return nil, errors.New(errors.ConfigInvalid, "rule name is empty")
	}
	if r.Threshold < 0 || r.Threshold > 100 {
		return nil, errors.Newf(errors.ConfigInvalid, "rule %q: threshold %.1f out of range", r.Name, r.Threshold)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	s.rules = append(s.rules, r)
	return r, nil
}

// RemoveRule deletes a rule by ID. Removing a missing ID is not an error.
func (s *Store) RemoveRule(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// AddCombo registers a combo rule and returns it with its ID set.
func (s *Store) AddCombo(c *ComboRule) (*ComboRule, error) {
	if c == nil || c.Name == "" {
		return nil, errors.New(errors.ConfigInvalid, "combo name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	s.combos = append(s.combos, c)
	return c, nil
}

// RemoveCombo deletes a combo by ID.
func (s *Store) RemoveCombo(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.combos {
		if c.ID == id {
			s.combos = append(s.combos[:i], s.combos[i+1:]...)
			return
		}
	}
}

// Areas returns the registered areas in registration order.
func (s *Store) Areas() []*Area {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Area, len(s.areas))
	copy(out, s.areas)
	return out
}

// Rules returns the registered detection rules in registration order.
func (s *Store) Rules() []*DetectionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DetectionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Combos returns the registered combo rules in registration order.
func (s *Store) Combos() []*ComboRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ComboRule, len(s.combos))
	copy(out, s.combos)
	return out
}

// ArmedCount returns how many detection rules are ready to evaluate.
func (s *Store) ArmedCount() int {
	s.mu.RLock()
	rules := make([]*DetectionRule, len(s.rules))
	copy(rules, s.rules)
	s.mu.RUnlock()

	n := 0
	for _, r := range rules {
		if r.Armed() {
			n++
		}
	}
	return n
}

// ResolveArea finds an area by name.
func (s *Store) ResolveArea(name string) (*Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.areas {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, errors.Newf(errors.ResolutionFault, "no area named %q", name)
}

// ResolveAutomation finds a detection rule by name.
func (s *Store) ResolveAutomation(name string) (*DetectionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, errors.Newf(errors.ResolutionFault, "no automation named %q", name)
}

// ResolveCombo finds a combo rule by name.
func (s *Store) ResolveCombo(name string) (*ComboRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.combos {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, errors.Newf(errors.ResolutionFault, "no combo named %q", name)
}
