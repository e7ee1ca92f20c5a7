package provider

import (
	"fmt"
	"sync"

	"github.com/eclia/gateway/pkg/types"
)

// Registry is the process-global map from route-key scheme to the
// constructor function that builds a Provider for a resolved route.
// Registration happens once at startup; no provider inherits from another.
type Registry struct {
	mu           sync.RWMutex
	constructors map[types.ProviderKind]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[types.ProviderKind]Constructor)}
}

// Register binds scheme to constructor. Re-registering a scheme overwrites
// the previous binding; this is used by tests to inject fakes.
func (r *Registry) Register(scheme types.ProviderKind, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[scheme] = ctor
}

// Build resolves sel.ProviderKind to its constructor and builds a Provider.
func (r *Registry) Build(sel types.UpstreamSelection) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[sel.ProviderKind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for scheme %q", sel.ProviderKind)
	}
	return ctor(sel)
}

// NewDefaultRegistry registers the three built-in backends.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(types.ProviderOpenAICompat, NewOpenAIProvider)
	r.Register(types.ProviderAnthropic, NewAnthropicProvider)
	r.Register(types.ProviderCodexOAuth, NewCodexProvider)
	return r
}
