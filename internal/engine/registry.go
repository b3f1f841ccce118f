package engine

import (
	"sync"

	"github.com/tyrvik/weft/pkg/api"
)

// RuntimeRegistry maps executable-URI schemes to the runtimes that execute
// them. Capabilities are registered explicitly at wiring time; there is no
// dynamic loading.
type RuntimeRegistry struct {
	mu       sync.RWMutex
	runtimes map[string]api.Runtime
}

// NewRuntimeRegistry creates an empty registry.
func NewRuntimeRegistry() *RuntimeRegistry {
	return &RuntimeRegistry{runtimes: make(map[string]api.Runtime)}
}

// Register binds a runtime to an executable-URI scheme (e.g. "script").
// Re-registering a scheme replaces the previous runtime.
func (r *RuntimeRegistry) Register(scheme string, rt api.Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[scheme] = rt
}

// Lookup returns the runtime registered for a scheme.
func (r *RuntimeRegistry) Lookup(scheme string) (api.Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[scheme]
	return rt, ok
}
