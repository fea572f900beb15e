package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"hermes-chat-api/pkg/models"
)

// Canned replies for the conversational intents.
const (
	greetingReply  = "Hello! I am Hermes. Ask me about shipments, delays, or predictions."
	gratitudeReply = "Glad to help."
	clarifyReply   = "Could you give me a bit more detail? You can ask about shipments, delays, warehouses, routes, or predictions - for example 'show delays by route for last week'."
)

// Pipeline runs one query through the fixed stage sequence:
// classify, resolve timeframe, resolve filters, run the intent engine,
// format the response. Built once at startup and shared by handlers;
// all per-query state lives in the QueryContext.
type Pipeline struct {
	dataset   *DatasetService
	resolver  IntentResolver
	rules     *RuleBasedResolver
	metadata  *MetadataService
	planner   *PlannerService
	analytics *AnalyticsService
	forecast  *ForecastService
}

// NewPipeline wires the stage services together.
func NewPipeline(dataset *DatasetService, resolver IntentResolver, metadata *MetadataService, planner *PlannerService, analytics *AnalyticsService, forecast *ForecastService) *Pipeline {
	return &Pipeline{
		dataset:   dataset,
		resolver:  resolver,
		rules:     NewRuleBasedResolver(),
		metadata:  metadata,
		planner:   planner,
		analytics: analytics,
		forecast:  forecast,
	}
}

// Process answers one query. It never returns an error to the caller:
// every failure mode degrades to a valid payload with a summary.
func (p *Pipeline) Process(ctx context.Context, query string, history []models.HistoryEntry) *models.ResponsePayload {
	qc := &models.QueryContext{RawQuery: query, History: history}

	intent, err := p.resolver.ResolveIntent(ctx, query, history)
	if err != nil {
		log.Printf("意図分類が劣化しました: %v", err)
		qc.AddStep(fmt.Sprintf("Classification degraded, resolved intent '%s'", intent))
	} else {
		qc.AddStep(fmt.Sprintf("Classified intent '%s'", intent))
	}
	qc.Intent = intent

	p.augment(ctx, qc)
	p.runIntent(ctx, qc)

	qc.AddStep("Formatted response payload")
	return &models.ResponsePayload{
		Query:     query,
		Intent:    string(qc.Intent),
		Result:    qc.Result,
		Steps:     qc.Steps,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// augment resolves timeframe, entity filters and forecast horizon.
// Intents that never touch the dataset skip the stage entirely.
func (p *Pipeline) augment(ctx context.Context, qc *models.QueryContext) {
	switch qc.Intent {
	case models.IntentGreeting, models.IntentGratitude, models.IntentClarify:
		qc.AddStep("Skipped timeframe (non-analytic intent)")
		qc.AddStep("Skipped filters (non-analytic intent)")
		return
	}

	meta := p.metadata.Extract(ctx, qc.RawQuery, qc.History)

	qc.Timeframe = meta.Timeframe
	if qc.Timeframe != nil {
		qc.AddStep(fmt.Sprintf("Resolved timeframe %s to %s",
			qc.Timeframe.Start.Format("2006-01-02"), qc.Timeframe.End.Format("2006-01-02")))
	} else {
		qc.AddStep("No timeframe in query")
	}

	qc.Filters = meta.Filters
	if len(qc.Filters) > 0 {
		qc.AddStep(fmt.Sprintf("Applied filters: %s", describeFilterPairs(qc.Filters)))
	} else {
		qc.AddStep("No entity filters in query")
	}

	if qc.Intent == models.IntentPrediction || p.analyticBase(qc) == models.IntentPrediction {
		horizon := meta.HorizonDays
		if horizon == 0 {
			horizon = DefaultForecastHorizonDays
		}
		qc.HorizonDays = ClampHorizon(horizon)
		qc.AddStep(fmt.Sprintf("Forecast horizon set to %d days", qc.HorizonDays))
	}
}

func (p *Pipeline) analyticBase(qc *models.QueryContext) models.Intent {
	switch qc.Intent {
	case models.IntentConversation, models.IntentTextOnly:
		return p.rules.AnalyticBase(qc.RawQuery)
	}
	return qc.Intent
}

// runIntent dispatches to the engine matching the intent and attaches
// the result. Conversational intents carry summary text only.
func (p *Pipeline) runIntent(ctx context.Context, qc *models.QueryContext) {
	if qc.Intent.IsAnalytic() {
		qc.Result = p.computeAnalytic(ctx, qc, qc.Intent)
		qc.Result.Intent = string(qc.Intent)
		return
	}

	switch qc.Intent {
	case models.IntentGreeting:
		qc.Result = &models.AnalysisResult{Summary: greetingReply, Intent: string(qc.Intent)}
		qc.AddStep("Returned greeting")
	case models.IntentGratitude:
		qc.Result = &models.AnalysisResult{Summary: gratitudeReply, Intent: string(qc.Intent)}
		qc.AddStep("Returned acknowledgement")
	case models.IntentClarify:
		qc.Result = &models.AnalysisResult{Summary: p.clarifyText(ctx, qc), Intent: string(qc.Intent)}
		qc.AddStep("Asked for clarification")
	case models.IntentConversation:
		base := p.rules.AnalyticBase(qc.RawQuery)
		result := p.computeAnalytic(ctx, qc, base)
		qc.Result = &models.AnalysisResult{Summary: "Text overview: " + result.Summary, Intent: string(qc.Intent)}
		qc.AddStep(fmt.Sprintf("Summarized '%s' analytics as text", base))
	case models.IntentTextOnly:
		base := p.rules.AnalyticBase(qc.RawQuery)
		result := p.computeAnalytic(ctx, qc, base)
		qc.Result = &models.AnalysisResult{Summary: "Summary: " + result.Summary, Intent: string(qc.Intent)}
		qc.AddStep(fmt.Sprintf("Summarized '%s' analytics as text", base))
	}
}

func (p *Pipeline) computeAnalytic(ctx context.Context, qc *models.QueryContext, intent models.Intent) *models.AnalysisResult {
	view := ApplyFilters(p.dataset.Records(), qc.Timeframe, qc.Filters)

	var result *models.AnalysisResult
	switch intent {
	case models.IntentRoute:
		plan := p.planner.RoutePlan(ctx, qc.RawQuery)
		result = p.analytics.RoutePerformance(view, plan, qc.Timeframe)
	case models.IntentWarehouse:
		plan := p.planner.WarehousePlan(ctx, qc.RawQuery)
		result = p.analytics.WarehousePerformance(view, plan, qc.Timeframe)
	case models.IntentDelayReason:
		result = p.analytics.DelayReasonBreakdown(view, qc.Timeframe)
	case models.IntentDelay:
		plan := p.planner.DelayPlan(ctx, qc.RawQuery)
		result = p.analytics.DelayStatistics(view, plan, qc.Timeframe)
	case models.IntentPrediction:
		horizon := qc.HorizonDays
		if horizon == 0 {
			horizon = DefaultForecastHorizonDays
		}
		result = p.forecast.Predict(view, p.dataset.Records(), qc.Filters, horizon, qc.Timeframe)
	default:
		result = p.analytics.Overview(view, qc.Timeframe)
	}

	qc.AddStep(fmt.Sprintf("Computed '%s' analytics over %d shipments", intent, len(view)))
	return result
}

func (p *Pipeline) clarifyText(ctx context.Context, qc *models.QueryContext) string {
	if generator, ok := p.resolver.(ReplyGenerator); ok {
		if reply, err := generator.GenerateReply(ctx, qc.RawQuery, qc.History); err == nil && reply != "" {
			return reply
		} else if err != nil {
			log.Printf("聞き返し文の生成に失敗、定型文を使用: %v", err)
		}
	}
	return clarifyReply
}

func describeFilterPairs(filters map[string]string) string {
	pairs := ""
	for _, column := range []string{"route", "warehouse", "delay_reason"} {
		if value, ok := filters[column]; ok {
			if pairs != "" {
				pairs += ", "
			}
			pairs += fmt.Sprintf("%s=%s", column, value)
		}
	}
	return pairs
}
