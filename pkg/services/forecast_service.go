package services

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"hermes-chat-api/pkg/models"
)

// MaxForecastHorizonDays caps how far ahead a prediction may run.
const MaxForecastHorizonDays = 90

// DefaultForecastHorizonDays is used when the query names no horizon.
const DefaultForecastHorizonDays = 7

// linearSegmentWeight blends the fitted trend with the historical mean
// of the filtered segment when entity filters are active.
const linearSegmentWeight = 0.7

// ForecastService projects average delay minutes per day ahead of the
// dataset's last date. Projections never go below zero.
type ForecastService struct{}

// NewForecastService creates the forecast engine.
func NewForecastService() *ForecastService {
	return &ForecastService{}
}

// ClampHorizon forces a horizon into [1, MaxForecastHorizonDays].
func ClampHorizon(days int) int {
	if days < 1 {
		return 1
	}
	if days > MaxForecastHorizonDays {
		return MaxForecastHorizonDays
	}
	return days
}

// dayAverage is one point of the daily average-delay series.
type dayAverage struct {
	date time.Time
	avg  float64
}

func dailyAverageDelay(view []models.ShipmentRecord) []dayAverage {
	type acc struct {
		total float64
		count int
	}
	index := map[string]*acc{}
	dates := map[string]time.Time{}
	var keys []string
	for _, r := range view {
		key := r.Date.Format("2006-01-02")
		a, ok := index[key]
		if !ok {
			a = &acc{}
			index[key] = a
			dates[key] = time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, time.UTC)
			keys = append(keys, key)
		}
		a.total += r.DelayMinutes
		a.count++
	}
	sort.Strings(keys)
	series := make([]dayAverage, 0, len(keys))
	for _, key := range keys {
		a := index[key]
		series = append(series, dayAverage{date: dates[key], avg: a.total / float64(a.count)})
	}
	return series
}

// fitLine is an ordinary least-squares first-degree fit. Fewer than two
// distinct x values degenerate to a flat line at the last known y.
func fitLine(xs, ys []float64) (slope, intercept float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	distinct := map[float64]bool{}
	for _, x := range xs {
		distinct[x] = true
	}
	if len(distinct) < 2 {
		return 0, ys[len(ys)-1]
	}

	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, ys[len(ys)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

var forecastTableColumns = []models.TableColumn{
	{Key: "date", Label: "Date"},
	{Key: "avg_delay_minutes", Label: "Avg Delay (min)"},
}

// Predict builds the prediction result: fitted trend over the filtered
// view, optional blend with the segment mean, ensemble estimates over
// the full dataset and the derived recommendations.
func (f *ForecastService) Predict(view, base []models.ShipmentRecord, filters map[string]string, horizonDays int, tf *models.Timeframe) *models.AnalysisResult {
	horizon := ClampHorizon(horizonDays)

	series := dailyAverageDelay(view)
	if len(series) == 0 {
		result := emptyResult(models.IntentPrediction, forecastTableColumns, "Delay Forecast", "line", tf)
		result.Metrics = map[string]interface{}{"forecast_horizon_days": horizon}
		return result
	}

	first := series[0].date
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, p := range series {
		xs[i] = p.date.Sub(first).Hours() / 24
		ys[i] = p.avg
	}
	slope, intercept := fitLine(xs, ys)

	segmentMean := overallAvgDelay(view)
	lastX := xs[len(xs)-1]
	lastDate := series[len(series)-1].date

	chart := &models.ChartSpec{
		Type:         "line",
		Title:        "Delay Forecast",
		XLabel:       "Date",
		YLabel:       "Average Delay (min)",
		DatasetLabel: "Average Delay (min)",
	}
	table := &models.TableSpec{Columns: forecastTableColumns, Rows: []map[string]interface{}{}}

	for _, p := range series {
		chart.Data = append(chart.Data, models.ChartPoint{
			Label: p.date.Format("2006-01-02"),
			Value: roundTo(p.avg, 2),
		})
		table.Rows = append(table.Rows, map[string]interface{}{
			"date":              p.date.Format("2006-01-02"),
			"avg_delay_minutes": roundTo(p.avg, 2),
		})
	}

	var projectedSum float64
	for i := 1; i <= horizon; i++ {
		linear := slope*(lastX+float64(i)) + intercept
		predicted := linear
		if len(filters) > 0 {
			predicted = linearSegmentWeight*linear + (1-linearSegmentWeight)*segmentMean
		}
		if predicted < 0 {
			predicted = 0
		}
		projectedSum += predicted

		date := lastDate.AddDate(0, 0, i).Format("2006-01-02")
		chart.Data = append(chart.Data, models.ChartPoint{
			Label:      date,
			Value:      roundTo(predicted, 2),
			IsForecast: true,
			Tooltip:    "Projected",
		})
		table.Forecast = append(table.Forecast, models.ForecastRow{
			Date:              date,
			PredictedAvgDelay: roundTo(predicted, 2),
		})
	}
	projectedMean := projectedSum / float64(horizon)

	estimates := f.ensembleEstimates(base, filters)
	recommendations := buildRecommendations(estimates)
	riskNote := primaryRiskNote(view)

	var summary strings.Builder
	fmt.Fprintf(&summary, "Projected average delay over the next %s is %s minutes per shipment.",
		describeHorizon(horizon), formatMetricValue(projectedMean))
	if sentence := describeFilters(filters); sentence != "" {
		summary.WriteString(" " + sentence)
	}
	if len(recommendations) > 0 {
		summary.WriteString(" Best option: " + recommendations[0])
	}
	if riskNote != "" {
		summary.WriteString(" " + riskNote)
	}

	metrics := map[string]interface{}{"forecast_horizon_days": horizon}
	if len(estimates) > 0 {
		top := estimates
		if len(top) > 5 {
			top = top[:5]
		}
		rows := make([]map[string]interface{}, 0, len(top))
		for _, e := range top {
			rows = append(rows, map[string]interface{}{
				"route":               e.route,
				"warehouse":           e.warehouse,
				"delay_reason":        e.reason,
				"predicted_avg_delay": roundTo(e.predicted, 2),
			})
		}
		metrics["ensemble_estimates"] = rows
	}

	return &models.AnalysisResult{
		Summary:         summary.String(),
		Intent:          string(models.IntentPrediction),
		Chart:           chart,
		Table:           table,
		Recommendations: recommendations,
		Metrics:         metrics,
	}
}

// comboEstimate is one route x warehouse x reason prediction.
type comboEstimate struct {
	route     string
	warehouse string
	reason    string
	predicted float64
}

// ensembleEstimates averages a one-hot regression prediction with a
// group-mean fallback chain for every combination of the unpinned
// columns. Filtered columns stay pinned to their filter value.
func (f *ForecastService) ensembleEstimates(base []models.ShipmentRecord, filters map[string]string) []comboEstimate {
	if len(base) == 0 {
		return nil
	}

	routes := pinnedOrUnique(base, filters, "route", func(r models.ShipmentRecord) string { return r.Route })
	warehouses := pinnedOrUnique(base, filters, "warehouse", func(r models.ShipmentRecord) string { return r.Warehouse })
	reasons := pinnedOrUnique(base, filters, "delay_reason", func(r models.ShipmentRecord) string { return r.DelayReason })

	model, err := fitOneHot(base, routes, warehouses, reasons)
	if err != nil {
		log.Printf("ワンホット回帰の学習に失敗、グループ平均のみ使用: %v", err)
	}

	var estimates []comboEstimate
	for _, route := range routes {
		for _, warehouse := range warehouses {
			for _, reason := range reasons {
				groupMean := groupMeanFallback(base, route, warehouse, reason)
				predicted := groupMean
				if model != nil {
					predicted = (model.predict(route, warehouse, reason) + groupMean) / 2
				}
				if predicted < 0 {
					predicted = 0
				}
				estimates = append(estimates, comboEstimate{
					route: route, warehouse: warehouse, reason: reason, predicted: predicted,
				})
			}
		}
	}
	sort.SliceStable(estimates, func(i, j int) bool { return estimates[i].predicted < estimates[j].predicted })
	return estimates
}

func pinnedOrUnique(base []models.ShipmentRecord, filters map[string]string, column string, key func(models.ShipmentRecord) string) []string {
	if pinned, ok := filters[column]; ok {
		return []string{pinned}
	}
	seen := map[string]bool{}
	var values []string
	for _, r := range base {
		v := key(r)
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	return values
}

// groupMeanFallback walks progressively coarser groupings until one has
// data: column pairs, single columns, then the overall mean.
func groupMeanFallback(base []models.ShipmentRecord, route, warehouse, reason string) float64 {
	predicates := []func(models.ShipmentRecord) bool{
		func(r models.ShipmentRecord) bool { return r.Route == route && r.Warehouse == warehouse },
		func(r models.ShipmentRecord) bool { return r.Route == route && r.DelayReason == reason },
		func(r models.ShipmentRecord) bool { return r.Warehouse == warehouse && r.DelayReason == reason },
		func(r models.ShipmentRecord) bool { return r.Route == route },
		func(r models.ShipmentRecord) bool { return r.Warehouse == warehouse },
		func(r models.ShipmentRecord) bool { return r.DelayReason == reason },
	}
	for _, match := range predicates {
		total, count := 0.0, 0
		for _, r := range base {
			if match(r) {
				total += r.DelayMinutes
				count++
			}
		}
		if count > 0 {
			return total / float64(count)
		}
	}
	return overallAvgDelay(base)
}

// oneHotModel is a ridge-stabilized least-squares fit of delay minutes
// on route/warehouse/reason dummies. The first category of each column
// is the reference level absorbed by the intercept.
type oneHotModel struct {
	intercept  float64
	routeCoef  map[string]float64
	whCoef     map[string]float64
	reasonCoef map[string]float64
}

func (m *oneHotModel) predict(route, warehouse, reason string) float64 {
	return m.intercept + m.routeCoef[route] + m.whCoef[warehouse] + m.reasonCoef[reason]
}

func fitOneHot(base []models.ShipmentRecord, routes, warehouses, reasons []string) (*oneHotModel, error) {
	routeIdx := indexAfterFirst(routes)
	whIdx := indexAfterFirst(warehouses)
	reasonIdx := indexAfterFirst(reasons)

	p := 1 + len(routeIdx) + len(whIdx) + len(reasonIdx)
	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)

	row := make([]float64, p)
	for _, r := range base {
		for i := range row {
			row[i] = 0
		}
		row[0] = 1
		if j, ok := routeIdx[r.Route]; ok {
			row[1+j] = 1
		}
		if j, ok := whIdx[r.Warehouse]; ok {
			row[1+len(routeIdx)+j] = 1
		}
		if j, ok := reasonIdx[r.DelayReason]; ok {
			row[1+len(routeIdx)+len(whIdx)+j] = 1
		}
		for i := 0; i < p; i++ {
			if row[i] == 0 {
				continue
			}
			for j := 0; j < p; j++ {
				xtx[i][j] += row[i] * row[j]
			}
			xty[i] += row[i] * r.DelayMinutes
		}
	}

	// リッジ項で正規方程式を正定値に保つ
	for i := 0; i < p; i++ {
		xtx[i][i] += 1e-3
	}

	coefs, err := solveSymmetric(xtx, xty)
	if err != nil {
		return nil, err
	}

	model := &oneHotModel{
		intercept:  coefs[0],
		routeCoef:  map[string]float64{},
		whCoef:     map[string]float64{},
		reasonCoef: map[string]float64{},
	}
	for name, j := range routeIdx {
		model.routeCoef[name] = coefs[1+j]
	}
	for name, j := range whIdx {
		model.whCoef[name] = coefs[1+len(routeIdx)+j]
	}
	for name, j := range reasonIdx {
		model.reasonCoef[name] = coefs[1+len(routeIdx)+len(whIdx)+j]
	}
	return model, nil
}

func indexAfterFirst(values []string) map[string]int {
	index := map[string]int{}
	for i, v := range values {
		if i == 0 {
			continue
		}
		index[v] = i - 1
	}
	return index
}

// solveSymmetric solves Ax = b for a symmetric positive-definite A via
// Cholesky decomposition.
func solveSymmetric(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, fmt.Errorf("行列が正定値ではありません")
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}

	// 前進代入 L y = b
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * y[k]
		}
		y[i] = sum / l[i][i]
	}

	// 後退代入 L^T x = y
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x, nil
}

func buildRecommendations(estimates []comboEstimate) []string {
	var recs []string
	for _, e := range estimates {
		if len(recs) == 3 {
			break
		}
		tail := fmt.Sprintf("watch for %s delays.", e.reason)
		if e.reason == models.NoDelayReason {
			tail = "minimal weather risk."
		}
		recs = append(recs, fmt.Sprintf("Route %s via %s -> ~%s min; %s",
			e.route, e.warehouse, formatMetricValue(e.predicted), tail))
	}
	return recs
}

// primaryRiskNote names the delay reason with the highest mean delay
// among delayed shipments.
func primaryRiskNote(view []models.ShipmentRecord) string {
	type acc struct {
		total float64
		count int
	}
	index := map[string]*acc{}
	var order []string
	for _, r := range view {
		if !r.IsDelayed() {
			continue
		}
		a, ok := index[r.DelayReason]
		if !ok {
			a = &acc{}
			index[r.DelayReason] = a
			order = append(order, r.DelayReason)
		}
		a.total += r.DelayMinutes
		a.count++
	}
	if len(order) == 0 {
		return ""
	}

	best := order[0]
	bestMean := index[best].total / float64(index[best].count)
	for _, reason := range order[1:] {
		mean := index[reason].total / float64(index[reason].count)
		if mean > bestMean {
			best, bestMean = reason, mean
		}
	}
	return fmt.Sprintf("Primary disruption driver: %s (~%s minutes when it occurs).", best, formatMetricValue(bestMean))
}

func describeFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	var parts []string
	for _, column := range []string{"route", "warehouse", "delay_reason"} {
		if value, ok := filters[column]; ok {
			parts = append(parts, fmt.Sprintf("%s '%s'", strings.ReplaceAll(column, "_", " "), value))
		}
	}
	return "Filtered by " + strings.Join(parts, ", ") + "."
}

// describeHorizon renders a horizon in the largest clean unit.
func describeHorizon(days int) string {
	switch {
	case days%30 == 0:
		months := days / 30
		if months == 1 {
			return "month"
		}
		return fmt.Sprintf("%d months", months)
	case days%7 == 0:
		weeks := days / 7
		if weeks == 1 {
			return "week"
		}
		return fmt.Sprintf("%d weeks", weeks)
	case days == 1:
		return "day"
	}
	return fmt.Sprintf("%d days", days)
}
