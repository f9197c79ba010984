package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/metricsmith/sage/pkg/httpclient"
	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
)

// AnalyticsConfig configures the web analytics reporting client.
type AnalyticsConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	PropertyID string `yaml:"property_id"`
}

func (c *AnalyticsConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("analytics base_url is required")
	}
	if c.PropertyID == "" {
		return fmt.Errorf("analytics property_id is required")
	}
	return nil
}

type analyticsClient struct {
	config AnalyticsConfig
	client *httpclient.Client
}

func (c *analyticsClient) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", tools.NewPermanentError("analytics", "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return "", tools.NewPermanentError("analytics", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", tools.NewTransientError("analytics", "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", tools.NewPermanentError("analytics", fmt.Sprintf("authorization failed (HTTP %d)", resp.StatusCode), nil)
		}
		return "", tools.NewPermanentError("analytics", fmt.Sprintf("reporting API returned HTTP %d: %s", resp.StatusCode, respBody), nil)
	}
	return string(respBody), nil
}

// RegisterAnalyticsTools wires the analytics reporting tools.
func RegisterAnalyticsTools(registry *tools.Registry, cfg AnalyticsConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client := &analyticsClient{config: cfg, client: httpclient.New()}

	for _, tool := range []tools.Tool{
		&runReportTool{client: client},
		&realtimeReportTool{client: client},
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// analytics_run_report
// ============================================================================

type runReportArgs struct {
	Metrics    []string `json:"metrics" jsonschema:"required,description=Metric names such as sessions or conversions"`
	Dimensions []string `json:"dimensions,omitempty" jsonschema:"description=Dimension names such as date or sessionSource"`
	StartDate  string   `json:"start_date,omitempty" jsonschema:"description=Start date (YYYY-MM-DD or NdaysAgo),default=28daysAgo"`
	EndDate    string   `json:"end_date,omitempty" jsonschema:"description=End date (YYYY-MM-DD or today),default=today"`
	Limit      int      `json:"limit,omitempty" jsonschema:"description=Max rows,default=100,minimum=1,maximum=10000"`
}

type runReportTool struct {
	client *analyticsClient
}

func (t *runReportTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "analytics_run_report",
		Description: "Run a web analytics report over the property with the given metrics, dimensions and date range.",
		Parameters:  tools.MustSchema[runReportArgs](),
	}
}

func (t *runReportTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	payload := map[string]any{
		"property_id": t.client.config.PropertyID,
		"metrics":     args["metrics"],
		"dimensions":  args["dimensions"],
		"start_date":  stringArg(args, "start_date", "28daysAgo"),
		"end_date":    stringArg(args, "end_date", "today"),
		"limit":       args["limit"],
	}
	return t.client.post(ctx, "/reports:run", payload)
}

// ============================================================================
// analytics_realtime_report
// ============================================================================

type realtimeReportArgs struct {
	Metrics    []string `json:"metrics" jsonschema:"required,description=Realtime metric names such as activeUsers"`
	Dimensions []string `json:"dimensions,omitempty" jsonschema:"description=Realtime dimension names"`
}

type realtimeReportTool struct {
	client *analyticsClient
}

func (t *realtimeReportTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "analytics_realtime_report",
		Description: "Run a realtime analytics report showing activity on the property right now.",
		Parameters:  tools.MustSchema[realtimeReportArgs](),
	}
}

func (t *realtimeReportTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	payload := map[string]any{
		"property_id": t.client.config.PropertyID,
		"metrics":     args["metrics"],
		"dimensions":  args["dimensions"],
	}
	return t.client.post(ctx, "/reports:runRealtime", payload)
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}
