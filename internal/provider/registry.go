package provider

import (
	"fmt"
	"sort"
)

// ErrNotRegistered is returned when a provider id is not in the registry.
var ErrNotRegistered = fmt.Errorf("provider: not registered")

// Registry holds the set of known adapters. It is populated once at
// startup and read-only afterwards, so carries no locking. Construct it
// explicitly and inject it; there is no package-level instance.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry from the given adapters. Duplicate ids
// are a programming error and reported immediately.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
	}
	for _, a := range adapters {
		id := a.ID()
		if _, dup := r.adapters[id]; dup {
			return nil, fmt.Errorf("provider: duplicate adapter id %q", id)
		}
		r.adapters[id] = a
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return a, nil
}

// Webhook returns the adapter registered under id if it accepts webhooks.
func (r *Registry) Webhook(id string) (WebhookAdapter, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	wa, ok := a.(WebhookAdapter)
	if !ok {
		return nil, fmt.Errorf("provider: %s does not accept webhooks", id)
	}
	return wa, nil
}

// All returns every registered adapter in stable id order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// IDs returns the registered provider ids in stable order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
