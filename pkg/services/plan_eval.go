package services

import (
	"fmt"
	"math"

	"hermes-chat-api/pkg/models"
)

// maxMetricInstructions bounds the work a single plan may request.
const maxMetricInstructions = 16

var numericMetricFields = map[string]bool{
	"delay_minutes": true,
	"delivery_time": true,
}

var stringMetricFields = map[string]bool{
	"id":           true,
	"route":        true,
	"warehouse":    true,
	"delay_reason": true,
}

var metricOps = map[string]bool{
	"sum": true, "mean": true, "count": true, "min": true, "max": true,
}

var metricCmps = map[string]bool{
	"gt": true, "ge": true, "lt": true, "le": true, "eq": true, "ne": true,
}

// ValidateMetricInstructions checks a plan against the instruction
// allow-lists without evaluating it.
func ValidateMetricInstructions(instrs []models.MetricInstruction) error {
	if len(instrs) == 0 {
		return fmt.Errorf("命令が空です")
	}
	if len(instrs) > maxMetricInstructions {
		return fmt.Errorf("命令数が上限を超えています: %d > %d", len(instrs), maxMetricInstructions)
	}
	for i, instr := range instrs {
		if instr.Name == "" {
			return fmt.Errorf("命令%dに名前がありません", i)
		}
		if !metricOps[instr.Op] {
			return fmt.Errorf("許可されていない集計操作: %q", instr.Op)
		}
		if !numericMetricFields[instr.Field] && !stringMetricFields[instr.Field] {
			return fmt.Errorf("許可されていないフィールド: %q", instr.Field)
		}
		if stringMetricFields[instr.Field] && instr.Op != "count" {
			return fmt.Errorf("文字列フィールド %q に使える操作はcountのみです", instr.Field)
		}
		if instr.Filter != nil {
			if err := validateMetricFilter(instr.Filter); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateMetricFilter(f *models.MetricFilter) error {
	if !metricCmps[f.Cmp] {
		return fmt.Errorf("許可されていない比較演算子: %q", f.Cmp)
	}
	switch {
	case numericMetricFields[f.Field]:
		if _, ok := toFloat(f.Value); !ok {
			return fmt.Errorf("数値フィールド %q の比較値が数値ではありません", f.Field)
		}
	case stringMetricFields[f.Field]:
		if f.Cmp != "eq" && f.Cmp != "ne" {
			return fmt.Errorf("文字列フィールド %q で使える比較はeq/neのみです", f.Field)
		}
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("文字列フィールド %q の比較値が文字列ではありません", f.Field)
		}
	default:
		return fmt.Errorf("許可されていないフィルタフィールド: %q", f.Field)
	}
	return nil
}

// EvaluateDelayPlan runs a validated instruction list against the
// filtered records. Any violation aborts the whole evaluation so the
// caller can fall back to the default metric set; partially applied
// plans are never returned.
func EvaluateDelayPlan(instrs []models.MetricInstruction, records []models.ShipmentRecord) (map[string]float64, error) {
	if err := ValidateMetricInstructions(instrs); err != nil {
		return nil, err
	}

	results := make(map[string]float64, len(instrs))
	for _, instr := range instrs {
		value, err := evaluateInstruction(instr, records)
		if err != nil {
			return nil, err
		}
		results[instr.Name] = value
	}
	return results, nil
}

func evaluateInstruction(instr models.MetricInstruction, records []models.ShipmentRecord) (float64, error) {
	rows := records
	if instr.Filter != nil {
		filtered := make([]models.ShipmentRecord, 0, len(records))
		for _, r := range records {
			keep, err := applyMetricFilter(instr.Filter, r)
			if err != nil {
				return 0, err
			}
			if keep {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if instr.Op == "count" {
		return float64(len(rows)), nil
	}

	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		values = append(values, numericField(r, instr.Field))
	}
	if len(values) == 0 {
		return 0, nil
	}

	switch instr.Op {
	case "sum":
		return sumFloats(values), nil
	case "mean":
		return sumFloats(values) / float64(len(values)), nil
	case "min":
		min := math.Inf(1)
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return min, nil
	case "max":
		max := math.Inf(-1)
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max, nil
	}
	return 0, fmt.Errorf("許可されていない集計操作: %q", instr.Op)
}

func applyMetricFilter(f *models.MetricFilter, r models.ShipmentRecord) (bool, error) {
	if numericMetricFields[f.Field] {
		threshold, ok := toFloat(f.Value)
		if !ok {
			return false, fmt.Errorf("数値フィールド %q の比較値が数値ではありません", f.Field)
		}
		return compareFloats(numericField(r, f.Field), f.Cmp, threshold), nil
	}

	expected, ok := f.Value.(string)
	if !ok {
		return false, fmt.Errorf("文字列フィールド %q の比較値が文字列ではありません", f.Field)
	}
	actual := stringField(r, f.Field)
	switch f.Cmp {
	case "eq":
		return actual == expected, nil
	case "ne":
		return actual != expected, nil
	}
	return false, fmt.Errorf("文字列フィールド %q で使える比較はeq/neのみです", f.Field)
}

func numericField(r models.ShipmentRecord, field string) float64 {
	switch field {
	case "delay_minutes":
		return r.DelayMinutes
	case "delivery_time":
		return r.DeliveryTime
	}
	return 0
}

func stringField(r models.ShipmentRecord, field string) string {
	switch field {
	case "id":
		return r.ID
	case "route":
		return r.Route
	case "warehouse":
		return r.Warehouse
	case "delay_reason":
		return r.DelayReason
	}
	return ""
}

func compareFloats(a float64, cmp string, b float64) bool {
	switch cmp {
	case "gt":
		return a > b
	case "ge":
		return a >= b
	case "lt":
		return a < b
	case "le":
		return a <= b
	case "eq":
		return a == b
	case "ne":
		return a != b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func sumFloats(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
