package models

import "time"

// Intent is the closed-set classification of what a chat query asks for.
type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentGratitude    Intent = "gratitude"
	IntentClarify      Intent = "clarify"
	IntentPrediction   Intent = "prediction"
	IntentWarehouse    Intent = "warehouse"
	IntentRoute        Intent = "route"
	IntentDelayReason  Intent = "delay_reason"
	IntentDelay        Intent = "delay"
	IntentAnalytics    Intent = "analytics"
	IntentConversation Intent = "conversation"
	IntentTextOnly     Intent = "text_only"
)

// AllIntents lists every intent the classifier may return.
var AllIntents = []Intent{
	IntentGreeting,
	IntentGratitude,
	IntentClarify,
	IntentPrediction,
	IntentWarehouse,
	IntentRoute,
	IntentDelayReason,
	IntentDelay,
	IntentAnalytics,
	IntentConversation,
	IntentTextOnly,
}

// ParseIntent validates a classifier output against the closed intent set.
func ParseIntent(s string) (Intent, bool) {
	for _, intent := range AllIntents {
		if string(intent) == s {
			return intent, true
		}
	}
	return "", false
}

// IsAnalytic reports whether the intent dispatches to a computation engine.
func (i Intent) IsAnalytic() bool {
	switch i {
	case IntentRoute, IntentWarehouse, IntentDelayReason, IntentDelay, IntentAnalytics, IntentPrediction:
		return true
	}
	return false
}

// IsConversational reports whether the response carries summary text only.
func (i Intent) IsConversational() bool {
	return !i.IsAnalytic()
}

// NoDelayReason is the sentinel stored when a shipment had no delay.
const NoDelayReason = "None"

// ShipmentRecord represents one row of the shipment dataset.
// DelayMinutes > 0 always pairs with a real DelayReason (not the sentinel).
type ShipmentRecord struct {
	ID           string    `json:"id"`
	Route        string    `json:"route"`
	Warehouse    string    `json:"warehouse"`
	DeliveryTime float64   `json:"delivery_time"` // days
	DelayMinutes float64   `json:"delay_minutes"`
	DelayReason  string    `json:"delay_reason"`
	Date         time.Time `json:"date"`
}

// IsDelayed reports whether the shipment experienced any delay.
func (r ShipmentRecord) IsDelayed() bool {
	return r.DelayMinutes > 0
}

// Timeframe bounds which records a query considers (inclusive on both ends).
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HistoryEntry is one prior turn of a chat session, fed back into the
// classifier prompts for context.
type HistoryEntry struct {
	Query     string `json:"query"`
	Intent    string `json:"intent"`
	Summary   string `json:"summary"`
	Timestamp string `json:"timestamp"`
}

// QueryMetadata is the structured interpretation of a query extracted by
// the metadata stage: timeframe bound, entity filters, forecast horizon.
type QueryMetadata struct {
	Timeframe   *Timeframe        `json:"timeframe,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
	HorizonDays int               `json:"horizon_days,omitempty"`
}

// QueryContext is the per-request state threaded through the pipeline.
// Created fresh for every incoming query and discarded after the response.
type QueryContext struct {
	RawQuery    string
	SessionID   string
	Intent      Intent
	Timeframe   *Timeframe
	Filters     map[string]string
	HorizonDays int
	History     []HistoryEntry
	Result      *AnalysisResult
	Steps       []string
}

// AddStep appends a diagnostic trace entry for the current stage.
func (qc *QueryContext) AddStep(step string) {
	qc.Steps = append(qc.Steps, step)
}

// ChartPoint is a single chart datum. Forecast points are flagged so the
// renderer can style them distinctly.
type ChartPoint struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	IsForecast bool    `json:"isForecast,omitempty"`
	Tooltip    string  `json:"tooltip,omitempty"`
}

// ChartSpec describes a renderable chart payload.
type ChartSpec struct {
	Type         string       `json:"type"` // "bar", "line", "pie"
	Title        string       `json:"title"`
	XLabel       string       `json:"x_label,omitempty"`
	YLabel       string       `json:"y_label,omitempty"`
	DatasetLabel string       `json:"dataset_label,omitempty"`
	Data         []ChartPoint `json:"data"`
}

// TableColumn is an ordered column definition for a table payload.
type TableColumn struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// ForecastRow is one projected day in a prediction table.
type ForecastRow struct {
	Date              string  `json:"date"`
	PredictedAvgDelay float64 `json:"predicted_avg_delay"`
}

// TableSpec describes a renderable table payload. Forecast is populated
// only for prediction results.
type TableSpec struct {
	Columns  []TableColumn            `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	Forecast []ForecastRow            `json:"forecast,omitempty"`
}

// AnalysisResult is the computed outcome for one query. Chart and Table
// are omitted entirely for conversational intents.
type AnalysisResult struct {
	Summary         string                 `json:"summary"`
	Intent          string                 `json:"intent,omitempty"`
	Chart           *ChartSpec             `json:"chart,omitempty"`
	Table           *TableSpec             `json:"table,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// ResponsePayload is the message sent back over the transport for one query.
type ResponsePayload struct {
	Query     string          `json:"query"`
	Intent    string          `json:"intent"`
	Result    *AnalysisResult `json:"result"`
	Steps     []string        `json:"steps"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ChatRequest represents an incoming chat request over HTTP.
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id,omitempty"` // セッションIDで会話を紐付け
}

// RoutePlan steers the route-performance aggregation: which metric to
// rank by, in which direction, and how to phrase the summary.
type RoutePlan struct {
	SortField       string `json:"sort_field"`
	SortOrder       string `json:"sort_order"` // "asc" or "desc"
	MetricLabel     string `json:"metric_label"`
	ChartTitle      string `json:"chart_title"`
	FocusPhrase     string `json:"focus_phrase"`
	SummaryTemplate string `json:"summary_template"`
}

// WarehousePlan steers the warehouse-performance aggregation.
type WarehousePlan struct {
	MetricField           string   `json:"metric_field"`
	MetricLabel           string   `json:"metric_label"`
	SortOrder             string   `json:"sort_order"`
	FocusPhrase           string   `json:"focus_phrase"`
	ChartTitle            string   `json:"chart_title"`
	DeliveryTimeThreshold *float64 `json:"delivery_time_threshold,omitempty"`
	SummaryTemplate       string   `json:"summary_template"`
}

// MetricFilter is an optional row predicate inside a metric instruction.
type MetricFilter struct {
	Field string      `json:"field"`
	Cmp   string      `json:"cmp"` // gt, ge, lt, le, eq, ne
	Value interface{} `json:"value"`
}

// MetricInstruction is one step of a declarative delay-metric computation.
// The instruction set is intentionally tiny: select a field, optionally
// filter rows, aggregate. It replaces free-form generated code.
type MetricInstruction struct {
	Name   string        `json:"name"`
	Field  string        `json:"field"`
	Op     string        `json:"op"` // sum, mean, count, min, max
	Filter *MetricFilter `json:"filter,omitempty"`
}

// DelayPlan describes the delay-statistics computation and its summary
// template with named placeholders such as {average_delay_minutes}.
type DelayPlan struct {
	Metrics         []MetricInstruction `json:"metrics"`
	SummaryTemplate string              `json:"summary_template"`
}
