// Package model defines the language-model provider interface and the
// message types exchanged with it.
package model

import (
	"context"
	"fmt"

	"github.com/metricsmith/sage/pkg/registry"
)

// Message roles. Providers map these to their own wire vocabulary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool turns carrying a result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a model-issued request to execute a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the model. Parameters is a
// JSON Schema object describing the arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response is the outcome of one generation round. A response carries
// text, tool calls, or both; the orchestrator decides precedence.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Provider generates model responses. Implementations must honor ctx
// cancellation and return an error rather than a partial response.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
	GetModelName() string
	Close() error
}

// ============================================================================
// PROVIDER REGISTRY
// ============================================================================

// ProviderRegistry holds named provider instances.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *ProviderRegistry) RegisterProvider(name string, provider Provider) error {
	if provider == nil {
		return fmt.Errorf("model provider cannot be nil")
	}
	return r.Register(name, provider)
}

func (r *ProviderRegistry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("model provider '%s' not found", name)
	}
	return provider, nil
}
