// Package builtin provides the marketing tool backends registered with
// the tool registry: ads platform reporting, web analytics, warehouse
// SQL, web search, and knowledge-base search.
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/metricsmith/sage/pkg/httpclient"
	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
)

// AdsConfig configures the ads reporting gateway client.
type AdsConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	CustomerID string `yaml:"customer_id"`
}

func (c *AdsConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("ads base_url is required")
	}
	if c.CustomerID == "" {
		return fmt.Errorf("ads customer_id is required")
	}
	return nil
}

// adsClient talks to the ads reporting gateway.
type adsClient struct {
	config AdsConfig
	client *httpclient.Client
}

func (c *adsClient) get(ctx context.Context, path string, params url.Values) (string, error) {
	u := c.config.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", tools.NewPermanentError("ads", "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("X-Customer-Id", c.config.CustomerID)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", tools.NewTransientError("ads", "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", tools.NewPermanentError("ads", fmt.Sprintf("authorization failed (HTTP %d)", resp.StatusCode), nil)
		}
		return "", tools.NewPermanentError("ads", fmt.Sprintf("gateway returned HTTP %d: %s", resp.StatusCode, body), nil)
	}
	return string(body), nil
}

// RegisterAdsTools wires the ads reporting tools into the registry.
func RegisterAdsTools(registry *tools.Registry, cfg AdsConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client := &adsClient{config: cfg, client: httpclient.New()}

	for _, tool := range []tools.Tool{
		&listCampaignsTool{client: client},
		&campaignPerformanceTool{client: client},
		&keywordPerformanceTool{client: client},
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// ads_list_campaigns
// ============================================================================

type listCampaignsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by campaign status,enum=ENABLED|PAUSED|REMOVED"`
}

type listCampaignsTool struct {
	client *adsClient
}

func (t *listCampaignsTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "ads_list_campaigns",
		Description: "List advertising campaigns for the account, with their status, budget and channel type.",
		Parameters:  tools.MustSchema[listCampaignsArgs](),
	}
}

func (t *listCampaignsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	params := url.Values{}
	if status, ok := args["status"].(string); ok && status != "" {
		params.Set("status", status)
	}
	return t.client.get(ctx, "/campaigns", params)
}

// ============================================================================
// ads_campaign_performance
// ============================================================================

type campaignPerformanceArgs struct {
	CampaignID string `json:"campaign_id,omitempty" jsonschema:"description=Limit to one campaign"`
	Days       int    `json:"days,omitempty" jsonschema:"description=Lookback window in days,default=30,minimum=1,maximum=365"`
}

type campaignPerformanceTool struct {
	client *adsClient
}

func (t *campaignPerformanceTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "ads_campaign_performance",
		Description: "Get campaign performance metrics (impressions, clicks, cost, conversions, CTR, CPC) over a lookback window.",
		Parameters:  tools.MustSchema[campaignPerformanceArgs](),
	}
}

func (t *campaignPerformanceTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	params := url.Values{}
	if id, ok := args["campaign_id"].(string); ok && id != "" {
		params.Set("campaign_id", id)
	}
	params.Set("days", intArg(args, "days", 30))
	return t.client.get(ctx, "/campaigns/performance", params)
}

// ============================================================================
// ads_keyword_performance
// ============================================================================

type keywordPerformanceArgs struct {
	CampaignID string `json:"campaign_id,omitempty" jsonschema:"description=Limit to one campaign"`
	Days       int    `json:"days,omitempty" jsonschema:"description=Lookback window in days,default=30,minimum=1,maximum=365"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Max keywords returned,default=50,minimum=1,maximum=500"`
}

type keywordPerformanceTool struct {
	client *adsClient
}

func (t *keywordPerformanceTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "ads_keyword_performance",
		Description: "Get keyword-level performance (clicks, cost, quality score) ordered by spend.",
		Parameters:  tools.MustSchema[keywordPerformanceArgs](),
	}
}

func (t *keywordPerformanceTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	params := url.Values{}
	if id, ok := args["campaign_id"].(string); ok && id != "" {
		params.Set("campaign_id", id)
	}
	params.Set("days", intArg(args, "days", 30))
	params.Set("limit", intArg(args, "limit", 50))
	return t.client.get(ctx, "/keywords/performance", params)
}

// intArg reads a numeric argument that JSON decoding delivered as
// float64, falling back to a default.
func intArg(args map[string]any, key string, def int) string {
	if v, ok := args[key].(float64); ok && v > 0 {
		return fmt.Sprint(int(v))
	}
	if v, ok := args[key].(int); ok && v > 0 {
		return fmt.Sprint(v)
	}
	return fmt.Sprint(def)
}
