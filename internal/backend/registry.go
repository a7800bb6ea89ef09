package backend

import "sync"

// Registry manages classification engines.
type Registry struct {
	engines map[Provider]Classifier
	mu      sync.RWMutex
}

// NewRegistry creates a new engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[Provider]Classifier),
	}
}

// Register adds an engine to the registry.
func (r *Registry) Register(c Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.engines[c.Provider()] = c
}

// Get retrieves an engine by provider.
func (r *Registry) Get(p Provider) (Classifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.engines[p]
	return c, ok
}

// Providers lists the registered providers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps := make([]Provider, 0, len(r.engines))
	for p := range r.engines {
		ps = append(ps, p)
	}

	return ps
}

// Close closes all registered engines.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.engines {
		if err := c.Close(); err != nil {
			return err
		}
	}

	return nil
}
