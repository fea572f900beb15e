package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	config "hermes-chat-api/configs"
	"hermes-chat-api/pkg/groq"
	"hermes-chat-api/pkg/models"
)

// PlannerService turns a query into a small declarative plan for each
// analytic engine. Plans come from the LLM when available and are
// validated against allow-lists; anything invalid or unavailable falls
// back to the deterministic default, so planning never fails a request.
type PlannerService struct {
	client  *groq.Client
	prompts *config.PromptConfig
}

// NewPlannerService creates the plan builder.
func NewPlannerService(client *groq.Client, prompts *config.PromptConfig) *PlannerService {
	return &PlannerService{client: client, prompts: prompts}
}

// ソート可能な集計キー
var routeSortFields = map[string]bool{
	"delayed_shipments":   true,
	"total_delay_minutes": true,
	"avg_delay_minutes":   true,
	"avg_delivery_time":   true,
	"total_shipments":     true,
}

var warehouseMetricFields = map[string]bool{
	"avg_delivery_time": true,
	"avg_delay_minutes": true,
	"total_shipments":   true,
	"delayed_shipments": true,
}

// DefaultRoutePlan is the plan used when no steering applies.
func DefaultRoutePlan() models.RoutePlan {
	return models.RoutePlan{
		SortField:       "avg_delay_minutes",
		SortOrder:       "desc",
		MetricLabel:     "Average Delay (min)",
		ChartTitle:      "Route Performance",
		FocusPhrase:     "highest average delay",
		SummaryTemplate: "Across {total_routes} routes, '{top_label}' shows the {focus_phrase} at {metric_value} over {period}.",
	}
}

// DefaultWarehousePlan is the plan used when no steering applies.
func DefaultWarehousePlan() models.WarehousePlan {
	return models.WarehousePlan{
		MetricField:     "avg_delivery_time",
		MetricLabel:     "Average Delivery Time (days)",
		SortOrder:       "desc",
		FocusPhrase:     "slowest average delivery",
		ChartTitle:      "Warehouse Performance",
		SummaryTemplate: "Across {total_warehouses} warehouses, '{top_label}' shows the {focus_phrase} at {metric_value} over {period}.",
	}
}

// DefaultDelayPlan computes the standard delay aggregates.
func DefaultDelayPlan() models.DelayPlan {
	return models.DelayPlan{
		Metrics: []models.MetricInstruction{
			{Name: "total_delay_minutes", Field: "delay_minutes", Op: "sum"},
			{Name: "average_delay_minutes", Field: "delay_minutes", Op: "mean"},
			{Name: "shipment_count", Field: "id", Op: "count"},
		},
		SummaryTemplate: "Shipments accumulated {total_delay_minutes} delay minutes ({average_delay_minutes} min on average across {shipment_count} shipments) over {period}.",
	}
}

var thresholdRe = regexp.MustCompile(`(?:above|over|more than)\s+(\d+(?:\.\d+)?)\s+days?`)

// RoutePlan builds the route aggregation plan for a query.
func (p *PlannerService) RoutePlan(ctx context.Context, query string) models.RoutePlan {
	plan := DefaultRoutePlan()
	seasonRoutePlan(&plan, query)

	if p.client == nil || !p.client.Configured() {
		return plan
	}
	llmPlan, err := p.routePlanLLM(ctx, query)
	if err != nil {
		log.Printf("ルートプランのLLM生成に失敗、デフォルトを使用: %v", err)
		return plan
	}
	return llmPlan
}

func seasonRoutePlan(plan *models.RoutePlan, query string) {
	q := strings.ToLower(query)
	switch {
	case containsAnyPhrase(q, []string{"best", "fewest", "lowest", "fastest", "least"}):
		plan.SortOrder = "asc"
		plan.FocusPhrase = "lowest average delay"
	case containsAnyPhrase(q, []string{"worst", "most", "highest", "slowest"}):
		plan.SortOrder = "desc"
		plan.FocusPhrase = "highest average delay"
	}
	if strings.Contains(q, "delivery time") {
		plan.SortField = "avg_delivery_time"
		plan.MetricLabel = "Average Delivery Time (days)"
		if plan.SortOrder == "asc" {
			plan.FocusPhrase = "fastest average delivery"
		} else {
			plan.FocusPhrase = "slowest average delivery"
		}
	}
}

func (p *PlannerService) routePlanLLM(ctx context.Context, query string) (models.RoutePlan, error) {
	content, err := p.completePlan(ctx, p.prompts.Plans.Route, query)
	if err != nil {
		return models.RoutePlan{}, err
	}
	return decodeRoutePlan(content)
}

func decodeRoutePlan(content string) (models.RoutePlan, error) {
	var plan models.RoutePlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return models.RoutePlan{}, fmt.Errorf("ルートプランのJSON解析に失敗: %w", err)
	}
	if !routeSortFields[plan.SortField] {
		return models.RoutePlan{}, fmt.Errorf("許可されていないソートキー: %q", plan.SortField)
	}
	if plan.SortOrder != "asc" && plan.SortOrder != "desc" {
		return models.RoutePlan{}, fmt.Errorf("不正なソート順: %q", plan.SortOrder)
	}
	fillRouteDefaults(&plan)
	return plan, nil
}

func fillRouteDefaults(plan *models.RoutePlan) {
	def := DefaultRoutePlan()
	if plan.MetricLabel == "" {
		plan.MetricLabel = def.MetricLabel
	}
	if plan.ChartTitle == "" {
		plan.ChartTitle = def.ChartTitle
	}
	if plan.FocusPhrase == "" {
		plan.FocusPhrase = def.FocusPhrase
	}
	if plan.SummaryTemplate == "" {
		plan.SummaryTemplate = def.SummaryTemplate
	}
}

// WarehousePlan builds the warehouse aggregation plan for a query.
func (p *PlannerService) WarehousePlan(ctx context.Context, query string) models.WarehousePlan {
	plan := DefaultWarehousePlan()
	seasonWarehousePlan(&plan, query)

	if p.client == nil || !p.client.Configured() {
		return plan
	}
	llmPlan, err := p.warehousePlanLLM(ctx, query)
	if err != nil {
		log.Printf("倉庫プランのLLM生成に失敗、デフォルトを使用: %v", err)
		return plan
	}
	// 閾値はルール抽出の方が堅いのでLLM側が空なら補完する
	if llmPlan.DeliveryTimeThreshold == nil {
		llmPlan.DeliveryTimeThreshold = plan.DeliveryTimeThreshold
	}
	return llmPlan
}

func seasonWarehousePlan(plan *models.WarehousePlan, query string) {
	q := strings.ToLower(query)
	switch {
	case containsAnyPhrase(q, []string{"best", "fewest", "lowest", "fastest", "least"}):
		plan.SortOrder = "asc"
		plan.FocusPhrase = "fastest average delivery"
	case containsAnyPhrase(q, []string{"worst", "most", "highest", "slowest"}):
		plan.SortOrder = "desc"
		plan.FocusPhrase = "slowest average delivery"
	}
	if containsAnyPhrase(q, []string{"delay", "delays", "delayed"}) {
		plan.MetricField = "avg_delay_minutes"
		plan.MetricLabel = "Average Delay (min)"
		if plan.SortOrder == "asc" {
			plan.FocusPhrase = "lowest average delay"
		} else {
			plan.FocusPhrase = "highest average delay"
		}
	}
	if match := thresholdRe.FindStringSubmatch(q); match != nil {
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			plan.DeliveryTimeThreshold = &value
		}
	}
}

func (p *PlannerService) warehousePlanLLM(ctx context.Context, query string) (models.WarehousePlan, error) {
	content, err := p.completePlan(ctx, p.prompts.Plans.Warehouse, query)
	if err != nil {
		return models.WarehousePlan{}, err
	}
	return decodeWarehousePlan(content)
}

func decodeWarehousePlan(content string) (models.WarehousePlan, error) {
	var plan models.WarehousePlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return models.WarehousePlan{}, fmt.Errorf("倉庫プランのJSON解析に失敗: %w", err)
	}
	if !warehouseMetricFields[plan.MetricField] {
		return models.WarehousePlan{}, fmt.Errorf("許可されていない集計キー: %q", plan.MetricField)
	}
	if plan.SortOrder != "asc" && plan.SortOrder != "desc" {
		return models.WarehousePlan{}, fmt.Errorf("不正なソート順: %q", plan.SortOrder)
	}
	if plan.DeliveryTimeThreshold != nil && *plan.DeliveryTimeThreshold < 0 {
		return models.WarehousePlan{}, fmt.Errorf("不正な閾値: %v", *plan.DeliveryTimeThreshold)
	}
	fillWarehouseDefaults(&plan)
	return plan, nil
}

func fillWarehouseDefaults(plan *models.WarehousePlan) {
	def := DefaultWarehousePlan()
	if plan.MetricLabel == "" {
		plan.MetricLabel = def.MetricLabel
	}
	if plan.ChartTitle == "" {
		plan.ChartTitle = def.ChartTitle
	}
	if plan.FocusPhrase == "" {
		plan.FocusPhrase = def.FocusPhrase
	}
	if plan.SummaryTemplate == "" {
		plan.SummaryTemplate = def.SummaryTemplate
	}
}

// DelayPlan builds the delay-metric instruction list for a query.
func (p *PlannerService) DelayPlan(ctx context.Context, query string) models.DelayPlan {
	plan := DefaultDelayPlan()
	if p.client == nil || !p.client.Configured() {
		return plan
	}
	llmPlan, err := p.delayPlanLLM(ctx, query)
	if err != nil {
		log.Printf("遅延プランのLLM生成に失敗、デフォルトを使用: %v", err)
		return plan
	}
	return llmPlan
}

func (p *PlannerService) delayPlanLLM(ctx context.Context, query string) (models.DelayPlan, error) {
	content, err := p.completePlan(ctx, p.prompts.Plans.Delay, query)
	if err != nil {
		return models.DelayPlan{}, err
	}
	return decodeDelayPlan(content)
}

func decodeDelayPlan(content string) (models.DelayPlan, error) {
	var plan models.DelayPlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return models.DelayPlan{}, fmt.Errorf("遅延プランのJSON解析に失敗: %w", err)
	}
	if err := ValidateMetricInstructions(plan.Metrics); err != nil {
		return models.DelayPlan{}, err
	}
	if plan.SummaryTemplate == "" {
		plan.SummaryTemplate = DefaultDelayPlan().SummaryTemplate
	}
	return plan, nil
}

func (p *PlannerService) completePlan(ctx context.Context, instructions, query string) (string, error) {
	prompt := instructions + "\n\nUser query: " + query
	model := groq.SelectModel(p.prompts.ModelFor("reasoning"), query)
	return p.client.Complete(ctx, model, "You are a planning assistant for a logistics analytics service. Respond with strict JSON only, no prose.", prompt, 300, 0.1)
}
