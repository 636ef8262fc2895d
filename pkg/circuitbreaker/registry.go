package circuitbreaker

import (
	"sync"
)

// Registry holds one breaker per upstream host, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for key, creating one if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = New(r.config)
	r.breakers[key] = b
	return b
}

// States reports each registered key with its current state name. Used
// by the status endpoint to surface upstream health.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State().String()
	}
	return out
}

// Stats summarizes breaker states across the registry.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats returns aggregate counts by state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.State() {
		case Open:
			s.Open++
		case HalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	}
	return s
}

// Reset resets every breaker in the registry.
func (r *Registry) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
