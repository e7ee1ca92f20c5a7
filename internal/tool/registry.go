package tool

import (
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/eclia/gateway/internal/provider"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	log.Debug().Str("tool", t.Name()).Msg("registered tool")
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Schemas renders the registry's tools into the provider-agnostic shape
// StreamTurn advertises to the model, optionally filtered to enabledTools
// (nil or empty means "all"). Entries in enabledTools are doublestar glob
// patterns matched against each tool's name, so a request can say "exec" or
// "*" or "se*".
func (r *Registry) Schemas(enabledTools []string) []provider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		if len(enabledTools) > 0 && !toolEnabled(enabledTools, t.Name()) {
			continue
		}
		out = append(out, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

func toolEnabled(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
