package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/retrieval"
	"github.com/metricsmith/sage/pkg/tools"
)

type kbSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look up in the knowledge base"`
}

// KBSearchTool lets the model query the knowledge base explicitly, on
// top of the retrieval that already happens for every question.
type KBSearchTool struct {
	engine *retrieval.Engine
}

func NewKBSearchTool(engine *retrieval.Engine) (*KBSearchTool, error) {
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	return &KBSearchTool{engine: engine}, nil
}

func (t *KBSearchTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "kb_search",
		Description: "Search the internal knowledge base of strategy notes, past reports and account documentation.",
		Parameters:  tools.MustSchema[kbSearchArgs](),
	}
}

func (t *KBSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)

	result, err := t.engine.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	if result.Degraded {
		return "", tools.NewTransientError("kb_search", "knowledge base temporarily unavailable", nil)
	}

	type hit struct {
		Content string  `json:"content"`
		Score   float32 `json:"score"`
		Source  string  `json:"source,omitempty"`
	}
	hits := make([]hit, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		hits = append(hits, hit{Content: c.Content, Score: c.Score, Source: c.Source})
	}

	out, err := json.Marshal(map[string]any{"matches": hits})
	if err != nil {
		return "", tools.NewPermanentError("kb_search", "failed to encode result", err)
	}
	return string(out), nil
}
