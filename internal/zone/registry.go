package zone

import (
	"fmt"
	"sync"
)

// Registry maps every zone of one or more namespaces to a host handle.
type Registry[H any] struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace
	handles    map[ID]H
}

// NewRegistry creates an empty registry.
func NewRegistry[H any]() *Registry[H] {
	return &Registry[H]{
		namespaces: make(map[string]*Namespace),
		handles:    make(map[ID]H),
	}
}

// Register binds every zone of ns to the handle with the same name.
//
// Registration is all-or-nothing: if any zone has no handle the call returns a
// *MissingMappingError for the first such zone in enumeration order and the
// registry is left exactly as it was. Names in nameToHandle that are not zones
// of ns are ignored. Registering a namespace again replaces its whole mapping.
func (r *Registry[H]) Register(ns *Namespace, nameToHandle map[string]H) error {
	if ns == nil {
		return fmt.Errorf("zone: namespace is required")
	}

	staged := make(map[ID]H, ns.Len())
	for _, id := range ns.Zones() {
		h, ok := nameToHandle[id.Name]
		if !ok {
			return &MissingMappingError{Zone: id}
		}
		staged[id] = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.handles {
		if id.Namespace == ns.Name() {
			delete(r.handles, id)
		}
	}
	for id, h := range staged {
		r.handles[id] = h
	}
	r.namespaces[ns.Name()] = ns
	return nil
}

// Lookup returns the handle registered for id.
func (r *Registry[H]) Lookup(id ID) (H, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[id]
	if !ok {
		var zero H
		return zero, &UnknownZoneError{Zone: id}
	}
	return h, nil
}

// Registered reports whether ns has been fully registered.
func (r *Registry[H]) Registered(ns *Namespace) bool {
	if ns == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	got, ok := r.namespaces[ns.Name()]
	return ok && got == ns
}

// Handles returns the handles of ns in enumeration order, or nil if ns is not
// registered.
func (r *Registry[H]) Handles(ns *Namespace) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.namespaces[ns.Name()]; !ok {
		return nil
	}
	out := make([]H, 0, ns.Len())
	for _, id := range ns.Zones() {
		out = append(out, r.handles[id])
	}
	return out
}

// IndexByName builds a name→handle map, failing fast on duplicate names.
func IndexByName[H any](handles []H, nameOf func(H) string) (map[string]H, error) {
	out := make(map[string]H, len(handles))
	for _, h := range handles {
		name := nameOf(h)
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHandle, name)
		}
		out[name] = h
	}
	return out, nil
}
