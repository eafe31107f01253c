package detect

import (
	"fmt"
	"sync"
)

// Registry holds the configured detector strategies in registration
// order. The orchestrator iterates it; order is stable so runs are
// reproducible.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byName    map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Detector),
	}
}

// Register adds a detector. Duplicate names are rejected: two detectors
// sharing a name would collide on finding identity.
func (r *Registry) Register(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}
	r.byName[name] = d
	r.detectors = append(r.detectors, d)
	return nil
}

// Get returns a registered detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// List returns the detectors in registration order.
func (r *Registry) List() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detector, len(r.detectors))
	copy(out, r.detectors)
	return out
}
