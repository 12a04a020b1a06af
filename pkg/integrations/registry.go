package integrations

import (
	"github.com/fitglue/workoutsync/pkg/types"
)

// Registry holds the configured adapters in registration order.
type Registry struct {
	adapters map[types.Provider]Adapter
	order    []types.Provider
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its provider.
func (r *Registry) Register(a Adapter) {
	p := a.ProviderID()
	if _, exists := r.adapters[p]; !exists {
		r.order = append(r.order, p)
	}
	r.adapters[p] = a
}

func (r *Registry) Get(p types.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.adapters[p])
	}
	return out
}
