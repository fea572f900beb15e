package services

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hermes-chat-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// DatasetService は出荷データセットを読み込み、読み取り専用で保持します。
// 起動時に一度だけロードされ、以降は変更されないため、ロックなしで
// 複数リクエストから同時に参照できます。
type DatasetService struct {
	records []models.ShipmentRecord
}

// NewDatasetService returns an empty dataset service. Call LoadFile before
// serving queries.
func NewDatasetService() *DatasetService {
	return &DatasetService{}
}

// NewDatasetServiceFromRecords builds a pre-loaded service, used by tests.
func NewDatasetServiceFromRecords(records []models.ShipmentRecord) *DatasetService {
	return &DatasetService{records: records}
}

// LoadFile loads shipment records from a CSV or XLSX file, dispatching on
// the file extension.
func (s *DatasetService) LoadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return s.LoadXLSX(path)
	default:
		return s.LoadCSV(path)
	}
}

// 期待するカラム。CSVとXLSXで共通です。
var datasetColumns = []string{"id", "route", "warehouse", "delivery_time", "delay_minutes", "delay_reason", "date"}

// LoadCSV loads shipment records from a CSV file with a header row.
func (s *DatasetService) LoadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("データセットを開けませんでした: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("CSVの読み込みに失敗: %w", err)
	}
	return s.loadRows(rows)
}

// LoadXLSX loads shipment records from the first sheet of an Excel book.
func (s *DatasetService) LoadXLSX(path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("Excelファイルを開けませんでした: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return fmt.Errorf("Excelファイルにシートがありません")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("Excelシートの読み込みに失敗: %w", err)
	}
	return s.loadRows(rows)
}

// loadRows parses header + data rows shared by both loaders.
func (s *DatasetService) loadRows(rows [][]string) error {
	if len(rows) < 2 {
		return fmt.Errorf("データセットが空です（ヘッダー行とデータ行が必要）")
	}

	// ヘッダー行からカラム位置を解決（順不同を許容）
	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range datasetColumns {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("必須カラム '%s' が見つかりません", col)
		}
	}

	records := make([]models.ShipmentRecord, 0, len(rows)-1)
	for lineNo, row := range rows[1:] {
		get := func(col string) string {
			i := index[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		deliveryTime, err := strconv.ParseFloat(get("delivery_time"), 64)
		if err != nil {
			return fmt.Errorf("%d行目のdelivery_timeが不正です: %w", lineNo+2, err)
		}
		delayMinutes, err := strconv.ParseFloat(get("delay_minutes"), 64)
		if err != nil {
			return fmt.Errorf("%d行目のdelay_minutesが不正です: %w", lineNo+2, err)
		}
		date, err := parseDatasetDate(get("date"))
		if err != nil {
			return fmt.Errorf("%d行目のdateが不正です: %w", lineNo+2, err)
		}

		reason := get("delay_reason")
		if reason == "" {
			reason = models.NoDelayReason
		}

		records = append(records, models.ShipmentRecord{
			ID:           get("id"),
			Route:        get("route"),
			Warehouse:    get("warehouse"),
			DeliveryTime: deliveryTime,
			DelayMinutes: delayMinutes,
			DelayReason:  reason,
			Date:         date,
		})
	}

	s.records = records
	return nil
}

// parseDatasetDate accepts the formats the original dataset files use.
func parseDatasetDate(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", time.RFC3339, "1/2/06 15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("未対応の日付形式: %q", value)
}

// Records returns the loaded dataset. Callers must treat it as read-only.
func (s *DatasetService) Records() []models.ShipmentRecord {
	return s.records
}

// Count returns the number of loaded records.
func (s *DatasetService) Count() int {
	return len(s.records)
}

// UniqueValues returns the distinct values of a categorical column in
// first-seen dataset order. Unknown column names yield nil.
func (s *DatasetService) UniqueValues(column string) []string {
	var values []string
	seen := make(map[string]bool)
	for _, r := range s.records {
		var v string
		switch column {
		case "route":
			v = r.Route
		case "warehouse":
			v = r.Warehouse
		case "delay_reason":
			v = r.DelayReason
		default:
			return nil
		}
		if v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	return values
}

// MatchValue matches a user-supplied candidate against a column's known
// values case-insensitively, returning the canonical dataset spelling.
func (s *DatasetService) MatchValue(column, candidate string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(candidate))
	if key == "" {
		return "", false
	}
	for _, v := range s.UniqueValues(column) {
		if strings.ToLower(v) == key {
			return v, true
		}
	}
	return "", false
}

// DateRange returns the min and max record dates; ok is false when the
// dataset is empty.
func (s *DatasetService) DateRange() (start, end time.Time, ok bool) {
	if len(s.records) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = s.records[0].Date, s.records[0].Date
	for _, r := range s.records[1:] {
		if r.Date.Before(start) {
			start = r.Date
		}
		if r.Date.After(end) {
			end = r.Date
		}
	}
	return start, end, true
}

// ApplyFilters returns the records that satisfy the timeframe bound and
// every entity filter. Both bounds are inclusive; filters are exact
// matches on route/warehouse/delay_reason. Dataset order is preserved.
func ApplyFilters(records []models.ShipmentRecord, tf *models.Timeframe, filters map[string]string) []models.ShipmentRecord {
	out := make([]models.ShipmentRecord, 0, len(records))
	for _, r := range records {
		if tf != nil {
			if !tf.Start.IsZero() && r.Date.Before(tf.Start) {
				continue
			}
			if !tf.End.IsZero() && r.Date.After(tf.End) {
				continue
			}
		}
		if !matchesFilters(r, filters) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesFilters(r models.ShipmentRecord, filters map[string]string) bool {
	for column, value := range filters {
		switch column {
		case "route":
			if r.Route != value {
				return false
			}
		case "warehouse":
			if r.Warehouse != value {
				return false
			}
		case "delay_reason":
			if r.DelayReason != value {
				return false
			}
		}
	}
	return true
}
