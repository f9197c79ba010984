package tools

import (
	"fmt"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/registry"
)

// Registry holds tools keyed by exact name. Lookups never guess: an
// unknown name is an error, not a fuzzy match.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

// RegisterTool adds a tool under its declared name. Registering two
// tools with the same name is an error.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	def := tool.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool definition must have a name")
	}
	return r.Register(def.Name, tool)
}

// GetTool retrieves a tool by exact name.
func (r *Registry) GetTool(name string) (Tool, error) {
	tool, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Definitions returns the advertised tool definitions in name order.
func (r *Registry) Definitions() []model.ToolDefinition {
	names := r.Names()
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		if tool, ok := r.Get(name); ok {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}
