package gate

import "fmt"

// Registry holds gate instances in registration order. Registration order is
// the display order of the ledger gates table.
type Registry struct {
	order []string
	gates map[string]Gate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]Gate)}
}

// Register adds a gate. Duplicate names are rejected.
func (r *Registry) Register(g Gate) error {
	name := g.Name()
	if name == "" {
		return fmt.Errorf("cannot register unnamed gate")
	}
	if _, ok := r.gates[name]; ok {
		return fmt.Errorf("gate %s already registered", name)
	}
	r.order = append(r.order, name)
	r.gates[name] = g
	return nil
}

// Get returns a gate by name.
func (r *Registry) Get(name string) (Gate, bool) {
	g, ok := r.gates[name]
	return g, ok
}

// Names returns gate names in registration order.
func (r *Registry) Names() []string {
	return append([]string{}, r.order...)
}

// Len returns the number of registered gates.
func (r *Registry) Len() int { return len(r.order) }
