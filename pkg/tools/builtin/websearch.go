package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/metricsmith/sage/pkg/httpclient"
	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
)

// WebSearchConfig configures the custom search API client.
type WebSearchConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

func (c *WebSearchConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.googleapis.com/customsearch/v1"
	}
}

func (c *WebSearchConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("web search api_key is required")
	}
	if c.EngineID == "" {
		return fmt.Errorf("web search engine_id is required")
	}
	return nil
}

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=5,minimum=1,maximum=10"`
}

// WebSearchTool searches the public web for benchmarks and current
// marketing context the knowledge base does not cover.
type WebSearchTool struct {
	config WebSearchConfig
	client *httpclient.Client
}

func NewWebSearchTool(cfg WebSearchConfig) (*WebSearchTool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WebSearchTool{config: cfg, client: httpclient.New()}, nil
}

func (t *WebSearchTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information such as industry benchmarks, seasonal trends and competitor news.",
		Parameters:  tools.MustSchema[webSearchArgs](),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)

	params := url.Values{}
	params.Set("key", t.config.APIKey)
	params.Set("cx", t.config.EngineID)
	params.Set("q", query)
	params.Set("num", intArg(args, "limit", 5))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", tools.NewPermanentError("web_search", "failed to build request", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", tools.NewTransientError("web_search", "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", tools.NewPermanentError("web_search", fmt.Sprintf("search API returned HTTP %d", resp.StatusCode), nil)
	}

	// Strip the response down to what the model needs.
	var parsed struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", tools.NewPermanentError("web_search", "failed to decode response", err)
	}

	out, err := json.Marshal(map[string]any{"results": parsed.Items})
	if err != nil {
		return "", tools.NewPermanentError("web_search", "failed to encode result", err)
	}
	return string(out), nil
}
