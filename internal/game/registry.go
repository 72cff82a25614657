package game

import (
	"fmt"
	"sort"
	"sync"

	"gamecore/internal/gameerr"
)

// Registry holds all registered variants, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]Variant)}
}

// Register adds a variant. Panics on duplicate names.
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := v.Info().Name
	if _, exists := r.variants[name]; exists {
		panic(fmt.Sprintf("variant %q already registered", name))
	}
	r.variants[name] = v
}

// Get returns a variant by name.
func (r *Registry) Get(name string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[name]
	return v, ok
}

// Lookup is Get with an ErrUnsupportedVariant error for unknown names.
func (r *Registry) Lookup(name string) (Variant, error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, gameerr.Newf(gameerr.ErrUnsupportedVariant, "lookup", "", "unknown variant %q", name)
	}
	return v, nil
}

// List returns info for all registered variants, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.variants))
	for _, v := range r.variants {
		infos = append(infos, v.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
