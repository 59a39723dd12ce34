package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"tablesync/internal/models"
)

// MergeHeader extends header with target fields that first appear in
// records, in record order. It reports whether the header grew.
func MergeHeader(header []string, records []*models.Record) ([]string, bool) {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}
	merged := append([]string(nil), header...)
	for _, rec := range records {
		for _, key := range rec.Keys() {
			if !seen[key] {
				seen[key] = true
				merged = append(merged, key)
			}
		}
	}
	return merged, len(merged) != len(header)
}

// RowValues lays rec out by header column. Fields absent from rec are empty.
func RowValues(header []string, rec *models.Record) []interface{} {
	row := make([]interface{}, len(header))
	for i, h := range header {
		v, ok := rec.Get(h)
		if !ok {
			row[i] = ""
			continue
		}
		row[i] = CellValue(v)
	}
	return row
}

// CellValue converts a transformed value into something a sheet cell accepts.
func CellValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// HeaderStrings turns a fetched header row into column names.
func HeaderStrings(row []interface{}) []string {
	out := make([]string, 0, len(row))
	for _, cell := range row {
		out = append(out, fmt.Sprint(cell))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
