package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"draftsync/internal/domain"
)

var ErrDuplicateSurface = errors.New("surface already registered")

// Registry holds the live surfaces of one parent entity.
// Register and Unregister are its only mutation points.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]domain.RegisteredSurface
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[string]domain.RegisteredSurface)}
}

func (r *Registry) Register(surface domain.RegisteredSurface) error {
	if surface.Key == "" {
		return errors.New("surface key is required")
	}
	if surface.State == nil {
		return fmt.Errorf("surface %s has no state accessor", surface.Key)
	}
	if surface.DisplayName == "" {
		surface.DisplayName = surface.Key
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.surfaces[surface.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSurface, surface.Key)
	}
	r.surfaces[surface.Key] = surface
	r.order = append(r.order, surface.Key)
	return nil
}

func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.surfaces[key]; !exists {
		return
	}
	delete(r.surfaces, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

func (r *Registry) Get(key string) (domain.RegisteredSurface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[key]
	return s, ok
}

// Surfaces returns the registered surfaces in registration order.
func (r *Registry) Surfaces() []domain.RegisteredSurface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RegisteredSurface, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.surfaces[k])
	}
	return out
}
