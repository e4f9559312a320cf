package breaker

import "sync"

// Registry holds one Breaker per dependency name. It is the only state
// shared by all sessions; breakers are mutated exclusively through Execute.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry whose breakers use opts by default.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.opts)
		r.breakers[name] = b
	}
	return b
}

// AllStats returns snapshots for every registered breaker.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}
