package fleet

import (
	"sort"
	"sync"
)

// Registry tracks live agents fleet-wide. Workers register on launch and log
// out whenever their process exits.
type Registry interface {
	Register(name string, w *Worker) error
	Logout(name string)
}

// Directory is a Registry that can also be queried by a control surface.
type Directory interface {
	Registry
	Lookup(name string) (*Worker, bool)
	List() []Registration
}

// Registration is one named entry in a Directory.
type Registration struct {
	Name   string
	Worker *Worker
	Online bool
}

// MemoryRegistry is an in-process Directory. Logging out keeps the entry so
// the worker can still be continued by name; the name stays reserved for the
// worker that first claimed it.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*Registration)}
}

// Register claims name for w and marks it online.
func (r *MemoryRegistry) Register(name string, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		if e.Worker != w {
			return ErrNameTaken
		}
		e.Online = true
		return nil
	}
	r.entries[name] = &Registration{Name: name, Worker: w, Online: true}
	return nil
}

// Logout marks name offline.
func (r *MemoryRegistry) Logout(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		e.Online = false
	}
}

// Release forgets name entirely so it can be claimed again.
func (r *MemoryRegistry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Lookup returns the worker registered under name.
func (r *MemoryRegistry) Lookup(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.Worker, true
}

// Online reports whether name is registered and currently logged in.
func (r *MemoryRegistry) Online(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return ok && e.Online
}

// List returns all registrations sorted by name.
func (r *MemoryRegistry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Registration, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
