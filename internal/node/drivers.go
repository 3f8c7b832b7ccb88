package node

import (
	"fmt"
	"sort"
	"sync"
)

// Drivers is the set of node drivers a run may use, keyed by name.
type Drivers struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewDrivers returns a set containing ds. It panics if two drivers share
// a name.
func NewDrivers(ds ...Driver) *Drivers {
	s := &Drivers{drivers: make(map[string]Driver)}
	for _, d := range ds {
		if err := s.Register(d); err != nil {
			panic(err)
		}
	}
	return s
}

// Register adds d. Registering a second driver with the same name fails.
func (s *Drivers) Register(d Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drivers[d.Name()]; exists {
		return fmt.Errorf("node driver %q already registered", d.Name())
	}
	s.drivers[d.Name()] = d
	return nil
}

// Lookup returns the driver called name.
func (s *Drivers) Lookup(name string) (Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[name]
	if !ok {
		return nil, &UnknownDriverError{Name: name}
	}
	return d, nil
}

// Names lists the registered driver names, sorted.
func (s *Drivers) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.drivers))
	for n := range s.drivers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
