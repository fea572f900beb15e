package services

import (
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"

	"hermes-chat-api/pkg/models"
)

// AnalyticsService computes the aggregation behind each analytic intent.
// All methods take a pre-filtered view of the dataset; an empty view
// yields a zero-row table and a "no matching shipments" summary, never
// an error. Group iteration keeps first-seen dataset order so equal
// sort keys resolve deterministically.
type AnalyticsService struct{}

// NewAnalyticsService creates the aggregation engine.
func NewAnalyticsService() *AnalyticsService {
	return &AnalyticsService{}
}

// groupStat holds the running aggregates for one route or warehouse.
type groupStat struct {
	name          string
	total         int
	delayed       int
	totalDelay    float64
	totalDelivery float64
}

func (g *groupStat) metric(field string) float64 {
	switch field {
	case "total_shipments":
		return float64(g.total)
	case "delayed_shipments":
		return float64(g.delayed)
	case "total_delay_minutes":
		return g.totalDelay
	case "avg_delay_minutes":
		if g.total == 0 {
			return 0
		}
		return g.totalDelay / float64(g.total)
	case "avg_delivery_time":
		if g.total == 0 {
			return 0
		}
		return g.totalDelivery / float64(g.total)
	}
	return 0
}

func groupBy(view []models.ShipmentRecord, key func(models.ShipmentRecord) string) []*groupStat {
	index := map[string]*groupStat{}
	var order []*groupStat
	for _, r := range view {
		name := key(r)
		g, ok := index[name]
		if !ok {
			g = &groupStat{name: name}
			index[name] = g
			order = append(order, g)
		}
		g.total++
		if r.IsDelayed() {
			g.delayed++
		}
		g.totalDelay += r.DelayMinutes
		g.totalDelivery += r.DeliveryTime
	}
	return order
}

var routeTableColumns = []models.TableColumn{
	{Key: "route", Label: "Route"},
	{Key: "total_shipments", Label: "Total Shipments"},
	{Key: "delayed_shipments", Label: "Delayed Shipments"},
	{Key: "total_delay_minutes", Label: "Total Delay (min)"},
	{Key: "avg_delay_minutes", Label: "Avg Delay (min)"},
	{Key: "avg_delivery_time", Label: "Avg Delivery (days)"},
}

// RoutePerformance ranks routes by the plan's sort field.
func (a *AnalyticsService) RoutePerformance(view []models.ShipmentRecord, plan models.RoutePlan, tf *models.Timeframe) *models.AnalysisResult {
	if len(view) == 0 {
		return emptyResult(models.IntentRoute, routeTableColumns, plan.ChartTitle, "bar", tf)
	}

	groups := groupBy(view, func(r models.ShipmentRecord) string { return r.Route })
	sortGroups(groups, plan.SortField, plan.SortOrder)

	chart := &models.ChartSpec{
		Type:         "bar",
		Title:        plan.ChartTitle,
		XLabel:       "Route",
		YLabel:       plan.MetricLabel,
		DatasetLabel: plan.MetricLabel,
	}
	table := &models.TableSpec{Columns: routeTableColumns, Rows: []map[string]interface{}{}}

	for _, g := range groups {
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:   g.name,
			Value:   roundTo(g.metric(plan.SortField), 2),
			Tooltip: fmt.Sprintf("Delayed %d / Total %d", g.delayed, g.total),
		})
		table.Rows = append(table.Rows, map[string]interface{}{
			"route":               g.name,
			"total_shipments":     g.total,
			"delayed_shipments":   g.delayed,
			"total_delay_minutes": roundTo(g.totalDelay, 2),
			"avg_delay_minutes":   roundTo(g.metric("avg_delay_minutes"), 2),
			"avg_delivery_time":   roundTo(g.metric("avg_delivery_time"), 2),
		})
	}

	top := groups[0]
	summaryContext := map[string]string{
		"period":              describePeriod(tf),
		"total_routes":        fmt.Sprintf("%d", len(groups)),
		"top_label":           top.name,
		"metric_label":        plan.MetricLabel,
		"metric_value":        formatMetricValue(top.metric(plan.SortField)),
		"focus_phrase":        plan.FocusPhrase,
		"delayed_shipments":   fmt.Sprintf("%d", top.delayed),
		"total_shipments":     fmt.Sprintf("%d", top.total),
		"avg_delay_minutes":   formatMetricValue(top.metric("avg_delay_minutes")),
		"total_delay_minutes": formatMetricValue(top.totalDelay),
	}
	fallback := fmt.Sprintf("'%s' shows the %s at %s (%s) over %s.",
		top.name, plan.FocusPhrase, formatMetricValue(top.metric(plan.SortField)), plan.MetricLabel, describePeriod(tf))
	summary := formatSummaryTemplate(plan.SummaryTemplate, summaryContext, fallback)

	return &models.AnalysisResult{
		Summary: summary,
		Intent:  string(models.IntentRoute),
		Chart:   chart,
		Table:   table,
	}
}

var warehouseTableColumns = []models.TableColumn{
	{Key: "warehouse", Label: "Warehouse"},
	{Key: "total_shipments", Label: "Total Shipments"},
	{Key: "delayed_shipments", Label: "Delayed Shipments"},
	{Key: "avg_delay_minutes", Label: "Avg Delay (min)"},
	{Key: "avg_delivery_time", Label: "Avg Delivery (days)"},
}

// WarehousePerformance ranks warehouses by the plan's metric field, with
// an optional delivery-time floor.
func (a *AnalyticsService) WarehousePerformance(view []models.ShipmentRecord, plan models.WarehousePlan, tf *models.Timeframe) *models.AnalysisResult {
	if len(view) == 0 {
		return emptyResult(models.IntentWarehouse, warehouseTableColumns, plan.ChartTitle, "bar", tf)
	}

	groups := groupBy(view, func(r models.ShipmentRecord) string { return r.Warehouse })
	if plan.DeliveryTimeThreshold != nil {
		kept := groups[:0]
		for _, g := range groups {
			if g.metric("avg_delivery_time") > *plan.DeliveryTimeThreshold {
				kept = append(kept, g)
			}
		}
		groups = kept
	}
	if len(groups) == 0 {
		return emptyResult(models.IntentWarehouse, warehouseTableColumns, plan.ChartTitle, "bar", tf)
	}
	sortGroups(groups, plan.MetricField, plan.SortOrder)

	chart := &models.ChartSpec{
		Type:         "bar",
		Title:        plan.ChartTitle,
		XLabel:       "Warehouse",
		YLabel:       plan.MetricLabel,
		DatasetLabel: plan.MetricLabel,
	}
	table := &models.TableSpec{Columns: warehouseTableColumns, Rows: []map[string]interface{}{}}

	for _, g := range groups {
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:   g.name,
			Value:   roundTo(g.metric(plan.MetricField), 2),
			Tooltip: fmt.Sprintf("Delayed %d / Total %d", g.delayed, g.total),
		})
		table.Rows = append(table.Rows, map[string]interface{}{
			"warehouse":         g.name,
			"total_shipments":   g.total,
			"delayed_shipments": g.delayed,
			"avg_delay_minutes": roundTo(g.metric("avg_delay_minutes"), 2),
			"avg_delivery_time": roundTo(g.metric("avg_delivery_time"), 2),
		})
	}

	top := groups[0]
	threshold := "n/a"
	if plan.DeliveryTimeThreshold != nil {
		threshold = formatMetricValue(*plan.DeliveryTimeThreshold)
	}
	summaryContext := map[string]string{
		"period":            describePeriod(tf),
		"total_warehouses":  fmt.Sprintf("%d", len(groups)),
		"top_label":         top.name,
		"metric_label":      plan.MetricLabel,
		"metric_value":      formatMetricValue(top.metric(plan.MetricField)),
		"focus_phrase":      plan.FocusPhrase,
		"threshold":         threshold,
		"delayed_shipments": fmt.Sprintf("%d", top.delayed),
		"total_shipments":   fmt.Sprintf("%d", top.total),
	}
	fallback := fmt.Sprintf("'%s' shows the %s at %s (%s) over %s.",
		top.name, plan.FocusPhrase, formatMetricValue(top.metric(plan.MetricField)), plan.MetricLabel, describePeriod(tf))
	summary := formatSummaryTemplate(plan.SummaryTemplate, summaryContext, fallback)

	return &models.AnalysisResult{
		Summary: summary,
		Intent:  string(models.IntentWarehouse),
		Chart:   chart,
		Table:   table,
	}
}

var delayReasonTableColumns = []models.TableColumn{
	{Key: "delay_reason", Label: "Delay Reason"},
	{Key: "incidents", Label: "Incidents"},
	{Key: "total_delay_minutes", Label: "Total Delay (min)"},
	{Key: "avg_delay_minutes", Label: "Avg Delay (min)"},
}

// DelayReasonBreakdown counts delayed shipments by reason. Only rows
// with delay minutes > 0 participate, so the "None" sentinel never
// appears as a slice.
func (a *AnalyticsService) DelayReasonBreakdown(view []models.ShipmentRecord, tf *models.Timeframe) *models.AnalysisResult {
	delayed := make([]models.ShipmentRecord, 0, len(view))
	for _, r := range view {
		if r.IsDelayed() {
			delayed = append(delayed, r)
		}
	}
	if len(delayed) == 0 {
		return emptyResult(models.IntentDelayReason, delayReasonTableColumns, "Delay Reasons", "pie", tf)
	}

	groups := groupBy(delayed, func(r models.ShipmentRecord) string { return r.DelayReason })
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].total > groups[j].total })

	chart := &models.ChartSpec{
		Type:         "pie",
		Title:        "Delay Reasons",
		DatasetLabel: "Incidents",
	}
	table := &models.TableSpec{Columns: delayReasonTableColumns, Rows: []map[string]interface{}{}}

	var parts []string
	for _, g := range groups {
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:   g.name,
			Value:   float64(g.total),
			Tooltip: fmt.Sprintf("%s min total", formatMetricValue(g.totalDelay)),
		})
		table.Rows = append(table.Rows, map[string]interface{}{
			"delay_reason":        g.name,
			"incidents":           g.total,
			"total_delay_minutes": roundTo(g.totalDelay, 2),
			"avg_delay_minutes":   roundTo(g.totalDelay/float64(g.total), 2),
		})
		parts = append(parts, fmt.Sprintf("%s (%d)", g.name, g.total))
	}

	summary := fmt.Sprintf("Total delayed shipments by reason: %s over %s.", strings.Join(parts, ", "), describePeriod(tf))

	return &models.AnalysisResult{
		Summary: summary,
		Intent:  string(models.IntentDelayReason),
		Chart:   chart,
		Table:   table,
	}
}

var delayTableColumns = []models.TableColumn{
	{Key: "date", Label: "Date"},
	{Key: "total_shipments", Label: "Shipments"},
	{Key: "delayed_shipments", Label: "Delayed"},
	{Key: "avg_delay_minutes", Label: "Avg Delay (min)"},
}

// dayBucket aggregates one calendar day.
type dayBucket struct {
	date       string
	total      int
	delayed    int
	totalDelay float64
}

func bucketByDay(view []models.ShipmentRecord) []*dayBucket {
	index := map[string]*dayBucket{}
	var order []*dayBucket
	for _, r := range view {
		key := r.Date.Format("2006-01-02")
		b, ok := index[key]
		if !ok {
			b = &dayBucket{date: key}
			index[key] = b
			order = append(order, b)
		}
		b.total++
		if r.IsDelayed() {
			b.delayed++
		}
		b.totalDelay += r.DelayMinutes
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].date < order[j].date })
	return order
}

// DelayStatistics renders the per-day delay trend plus the plan's
// aggregate metrics. An evaluator failure discards the whole plan and
// falls back to the default metric set.
func (a *AnalyticsService) DelayStatistics(view []models.ShipmentRecord, plan models.DelayPlan, tf *models.Timeframe) *models.AnalysisResult {
	if len(view) == 0 {
		return emptyResult(models.IntentDelay, delayTableColumns, "Average Delay by Day", "line", tf)
	}

	days := bucketByDay(view)

	chart := &models.ChartSpec{
		Type:         "line",
		Title:        "Average Delay by Day",
		XLabel:       "Date",
		YLabel:       "Average Delay (min)",
		DatasetLabel: "Average Delay (min)",
	}
	table := &models.TableSpec{Columns: delayTableColumns, Rows: []map[string]interface{}{}}

	for _, d := range days {
		avg := d.totalDelay / float64(d.total)
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:   d.date,
			Value:   roundTo(avg, 2),
			Tooltip: fmt.Sprintf("Delayed %d / Total %d", d.delayed, d.total),
		})
		table.Rows = append(table.Rows, map[string]interface{}{
			"date":              d.date,
			"total_shipments":   d.total,
			"delayed_shipments": d.delayed,
			"avg_delay_minutes": roundTo(avg, 2),
		})
	}

	metrics, err := EvaluateDelayPlan(plan.Metrics, view)
	template := plan.SummaryTemplate
	if err != nil {
		log.Printf("遅延メトリクスの評価に失敗、デフォルトを使用: %v", err)
		def := DefaultDelayPlan()
		metrics, _ = EvaluateDelayPlan(def.Metrics, view)
		template = def.SummaryTemplate
	}

	summaryContext := map[string]string{"period": describePeriod(tf)}
	resultMetrics := map[string]interface{}{}
	for name, value := range metrics {
		summaryContext[name] = formatMetricValue(value)
		resultMetrics[name] = roundTo(value, 2)
	}
	fallback := fmt.Sprintf("Shipments averaged %s delay minutes across %d days over %s.",
		formatMetricValue(overallAvgDelay(view)), len(days), describePeriod(tf))
	summary := formatSummaryTemplate(template, summaryContext, fallback)

	return &models.AnalysisResult{
		Summary: summary,
		Intent:  string(models.IntentDelay),
		Chart:   chart,
		Table:   table,
		Metrics: resultMetrics,
	}
}

// Overview renders the dataset-wide totals and the per-day total delay
// trend. No table for this intent.
func (a *AnalyticsService) Overview(view []models.ShipmentRecord, tf *models.Timeframe) *models.AnalysisResult {
	if len(view) == 0 {
		return &models.AnalysisResult{
			Summary: noMatchSummary(tf),
			Intent:  string(models.IntentAnalytics),
			Chart: &models.ChartSpec{
				Type:  "line",
				Title: "Total Delay by Day",
				Data:  []models.ChartPoint{},
			},
		}
	}

	total := len(view)
	delayed := 0
	var totalDelay, totalDelivery float64
	for _, r := range view {
		if r.IsDelayed() {
			delayed++
		}
		totalDelay += r.DelayMinutes
		totalDelivery += r.DeliveryTime
	}

	chart := &models.ChartSpec{
		Type:         "line",
		Title:        "Total Delay by Day",
		XLabel:       "Date",
		YLabel:       "Total Delay (min)",
		DatasetLabel: "Total Delay (min)",
	}
	for _, d := range bucketByDay(view) {
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:   d.date,
			Value:   roundTo(d.totalDelay, 2),
			Tooltip: fmt.Sprintf("Delayed %d / Total %d", d.delayed, d.total),
		})
	}

	summary := fmt.Sprintf(
		"Tracked %d shipments over %s: %d delayed, average delivery time %s days, average delay %s minutes.",
		total, describePeriod(tf), delayed,
		formatMetricValue(totalDelivery/float64(total)),
		formatMetricValue(totalDelay/float64(total)))

	return &models.AnalysisResult{
		Summary: summary,
		Intent:  string(models.IntentAnalytics),
		Chart:   chart,
		Metrics: map[string]interface{}{
			"total_shipments":       total,
			"delayed_shipments":     delayed,
			"avg_delivery_time":     roundTo(totalDelivery/float64(total), 2),
			"average_delay_minutes": roundTo(totalDelay/float64(total), 2),
		},
	}
}

func sortGroups(groups []*groupStat, field, order string) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].metric(field), groups[j].metric(field)
		if order == "asc" {
			return a < b
		}
		return a > b
	})
}

func emptyResult(intent models.Intent, columns []models.TableColumn, chartTitle, chartType string, tf *models.Timeframe) *models.AnalysisResult {
	return &models.AnalysisResult{
		Summary: noMatchSummary(tf),
		Intent:  string(intent),
		Chart: &models.ChartSpec{
			Type:  chartType,
			Title: chartTitle,
			Data:  []models.ChartPoint{},
		},
		Table: &models.TableSpec{Columns: columns, Rows: []map[string]interface{}{}},
	}
}

func noMatchSummary(tf *models.Timeframe) string {
	return fmt.Sprintf("No matching shipments found for %s with the requested filters.", describePeriod(tf))
}

func overallAvgDelay(view []models.ShipmentRecord) float64 {
	if len(view) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range view {
		total += r.DelayMinutes
	}
	return total / float64(len(view))
}

// describePeriod renders a timeframe for summary text.
func describePeriod(tf *models.Timeframe) string {
	if tf == nil {
		return "the selected period"
	}
	return fmt.Sprintf("%s to %s", tf.Start.Format("Jan 02, 2006"), tf.End.Format("Jan 02, 2006"))
}

// formatMetricValue drops the fraction for integral values and keeps two
// decimals otherwise.
func formatMetricValue(v float64) string {
	rounded := roundTo(v, 2)
	if rounded == math.Trunc(rounded) {
		return fmt.Sprintf("%d", int64(rounded))
	}
	return fmt.Sprintf("%.2f", rounded)
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

var templatePlaceholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// formatSummaryTemplate substitutes {placeholder} tokens from the
// context map. Unknown placeholders render as "n/a"; an empty template
// or an all-n/a render falls back to the built-in sentence.
func formatSummaryTemplate(template string, context map[string]string, fallback string) string {
	if strings.TrimSpace(template) == "" {
		return fallback
	}
	rendered := templatePlaceholderRe.ReplaceAllStringFunc(template, func(token string) string {
		key := strings.Trim(token, "{}")
		if value, ok := context[key]; ok && value != "" {
			return value
		}
		return "n/a"
	})
	if strings.TrimSpace(rendered) == "" {
		return fallback
	}
	return rendered
}
