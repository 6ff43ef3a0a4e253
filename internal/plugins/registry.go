package plugins

import (
	"sort"
	"sync"
)

// Registry stores plugins by identifier.
type Registry struct {
	repo map[string]Plugin
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]Plugin)}
}

// Register adds p, replacing any plugin with the same identifier.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo[p.Identifier()] = p
}

// All returns a snapshot of every registered plugin.
func (r *Registry) All() map[string]Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Plugin, len(r.repo))
	for id, p := range r.repo {
		out[id] = p
	}
	return out
}

func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.repo[id]
	return p, ok
}

// Info describes a plugin for listings.
type Info struct {
	Identifier string              `json:"identifier"`
	Commands   map[string][]string `json:"commands"`
}

// List returns plugin descriptions sorted by identifier.
func (r *Registry) List() []Info {
	entries := r.All()
	list := make([]Info, 0, len(entries))
	for id, p := range entries {
		if p == nil {
			continue
		}
		list = append(list, Info{Identifier: id, Commands: p.Commands()})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Identifier < list[j].Identifier
	})
	return list
}
