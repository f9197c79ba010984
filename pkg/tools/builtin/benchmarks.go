package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
)

// IndustryBenchmark holds reference paid-search metrics for one vertical.
type IndustryBenchmark struct {
	AvgCTR             float64 `json:"avg_ctr"`
	AvgCPC             float64 `json:"avg_cpc"`
	AvgConversionRate  float64 `json:"avg_conversion_rate"`
	AvgCPA             float64 `json:"avg_cpa"`
	AvgImpressionShare float64 `json:"avg_impression_share"`
	MobileTrafficPct   float64 `json:"mobile_traffic_pct"`
}

// industryBenchmarks is reference data compiled from public industry reports.
// CTR, conversion rate and impression share are percentages; CPC and CPA are USD.
var industryBenchmarks = map[string]IndustryBenchmark{
	"security_systems": {
		AvgCTR:             3.20,
		AvgCPC:             1.85,
		AvgConversionRate:  2.80,
		AvgCPA:             65.00,
		AvgImpressionShare: 45.0,
		MobileTrafficPct:   75.0,
	},
	"connectivity_solutions": {
		AvgCTR:             2.80,
		AvgCPC:             2.10,
		AvgConversionRate:  3.10,
		AvgCPA:             72.00,
		AvgImpressionShare: 50.0,
		MobileTrafficPct:   68.0,
	},
	"b2b_technology": {
		AvgCTR:             2.50,
		AvgCPC:             3.50,
		AvgConversionRate:  2.50,
		AvgCPA:             120.00,
		AvgImpressionShare: 40.0,
		MobileTrafficPct:   45.0,
	},
	"ecommerce_general": {
		AvgCTR:             2.69,
		AvgCPC:             1.16,
		AvgConversionRate:  2.81,
		AvgCPA:             45.27,
		AvgImpressionShare: 55.0,
		MobileTrafficPct:   72.0,
	},
	"professional_services": {
		AvgCTR:             2.41,
		AvgCPC:             2.93,
		AvgConversionRate:  3.04,
		AvgCPA:             87.36,
		AvgImpressionShare: 42.0,
		MobileTrafficPct:   55.0,
	},
}

const defaultIndustry = "b2b_technology"

// campaignIndustryMap maps campaign-name keywords to a vertical.
var campaignIndustryMap = map[string]string{
	"seguridad":    "security_systems",
	"cámaras":      "security_systems",
	"camaras":      "security_systems",
	"alarmas":      "security_systems",
	"cctv":         "security_systems",
	"vigilancia":   "security_systems",
	"conectividad": "connectivity_solutions",
	"internet":     "connectivity_solutions",
	"red":          "connectivity_solutions",
	"wifi":         "connectivity_solutions",
	"networking":   "connectivity_solutions",
}

// industryForCampaign picks the vertical for a campaign by keyword match
// on the campaign name, falling back to the default vertical.
func industryForCampaign(campaignName string) string {
	lower := strings.ToLower(campaignName)
	for keyword, industry := range campaignIndustryMap {
		if strings.Contains(lower, keyword) {
			return industry
		}
	}
	return defaultIndustry
}

// resolveIndustry prefers an explicit industry over campaign-name inference.
func resolveIndustry(industry, campaignName string) (string, error) {
	if industry != "" {
		if _, ok := industryBenchmarks[industry]; !ok {
			return "", tools.NewPermanentError("benchmarks",
				fmt.Sprintf("unknown industry %q, known: %s", industry, strings.Join(industryNames(), ", ")), nil)
		}
		return industry, nil
	}
	return industryForCampaign(campaignName), nil
}

func industryNames() []string {
	names := make([]string, 0, len(industryBenchmarks))
	for name := range industryBenchmarks {
		names = append(names, name)
	}
	return names
}

// RegisterBenchmarkTools wires the industry benchmark tools. The data is
// static reference material, so no configuration is required.
func RegisterBenchmarkTools(registry *tools.Registry) error {
	for _, tool := range []tools.Tool{
		&benchmarkLookupTool{},
		&benchmarkCompareTool{},
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// benchmarks_lookup
// ============================================================================

type benchmarkLookupArgs struct {
	Industry     string `json:"industry,omitempty" jsonschema:"description=Vertical to look up (security_systems connectivity_solutions b2b_technology ecommerce_general professional_services)"`
	CampaignName string `json:"campaign_name,omitempty" jsonschema:"description=Campaign name used to infer the vertical when no industry is given"`
}

type benchmarkLookupTool struct{}

func (t *benchmarkLookupTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "benchmarks_lookup",
		Description: "Look up industry benchmark metrics (CTR, CPC, conversion rate, CPA, impression share, mobile share) for a vertical or a campaign name.",
		Parameters:  tools.MustSchema[benchmarkLookupArgs](),
	}
}

func (t *benchmarkLookupTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	industry, err := resolveIndustry(stringArg(args, "industry", ""), stringArg(args, "campaign_name", ""))
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(map[string]any{
		"industry":   industry,
		"benchmarks": industryBenchmarks[industry],
	})
	if err != nil {
		return "", tools.NewPermanentError("benchmarks", "failed to encode response", err)
	}
	return string(out), nil
}

// ============================================================================
// benchmarks_compare
// ============================================================================

type benchmarkCompareArgs struct {
	Metric       string  `json:"metric" jsonschema:"required,description=Metric to compare: ctr cpc conversion_rate or cpa"`
	Value        float64 `json:"value" jsonschema:"required,description=Observed metric value (percent for ctr and conversion_rate USD for cpc and cpa)"`
	Industry     string  `json:"industry,omitempty" jsonschema:"description=Vertical to compare against"`
	CampaignName string  `json:"campaign_name,omitempty" jsonschema:"description=Campaign name used to infer the vertical when no industry is given"`
}

type benchmarkCompareTool struct{}

func (t *benchmarkCompareTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "benchmarks_compare",
		Description: "Compare an observed campaign metric against the industry benchmark and report the percentage difference and whether the result is favorable.",
		Parameters:  tools.MustSchema[benchmarkCompareArgs](),
	}
}

// higherIsBetter classifies each comparable metric. CPC and CPA are costs,
// so a value below the benchmark is favorable.
var higherIsBetter = map[string]bool{
	"ctr":             true,
	"conversion_rate": true,
	"cpc":             false,
	"cpa":             false,
}

func (t *benchmarkCompareTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	metric := strings.ToLower(stringArg(args, "metric", ""))
	better, ok := higherIsBetter[metric]
	if !ok {
		return "", tools.NewPermanentError("benchmarks",
			fmt.Sprintf("unknown metric %q, expected ctr, cpc, conversion_rate or cpa", metric), nil)
	}

	value, ok := args["value"].(float64)
	if !ok {
		return "", tools.NewPermanentError("benchmarks", "value must be a number", nil)
	}

	industry, err := resolveIndustry(stringArg(args, "industry", ""), stringArg(args, "campaign_name", ""))
	if err != nil {
		return "", err
	}

	bench := industryBenchmarks[industry]
	var reference float64
	switch metric {
	case "ctr":
		reference = bench.AvgCTR
	case "cpc":
		reference = bench.AvgCPC
	case "conversion_rate":
		reference = bench.AvgConversionRate
	case "cpa":
		reference = bench.AvgCPA
	}

	diffPct := math.Round((value-reference)/reference*1000) / 10
	indicator := "above"
	if value < reference {
		indicator = "below"
	}
	favorable := value >= reference
	if !better {
		favorable = value <= reference
	}

	out, err := json.Marshal(map[string]any{
		"industry":  industry,
		"metric":    metric,
		"value":     value,
		"benchmark": reference,
		"diff_pct":  diffPct,
		"indicator": indicator,
		"favorable": favorable,
	})
	if err != nil {
		return "", tools.NewPermanentError("benchmarks", "failed to encode response", err)
	}
	return string(out), nil
}
