package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"tablesync/internal/models"
)

// Func is a pure value transform. Errors leave the original value in place.
type Func func(v interface{}) (interface{}, error)

var registry = map[string]Func{
	"trim":        trim,
	"toUpperCase": toUpperCase,
	"toLowerCase": toLowerCase,
	"toDate":      toDate,
	"toNumber":    toNumber,
	"toString":    toString,
	"toBoolean":   toBoolean,
}

func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names lists the registered transform names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

var errUnsupported = errors.New("unsupported value type")

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

func toString(v interface{}) (interface{}, error) {
	return stringify(v), nil
}

func trim(v interface{}) (interface{}, error) {
	return strings.TrimSpace(stringify(v)), nil
}

func toUpperCase(v interface{}) (interface{}, error) {
	return strings.ToUpper(stringify(v)), nil
}

func toLowerCase(v interface{}) (interface{}, error) {
	return strings.ToLower(stringify(v)), nil
}

func toNumber(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string, []byte:
		s := strings.TrimSpace(stringify(val))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("not a finite number: %q", s)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupported, v)
	}
}

// toDate renders a timestamp as ISO-8601 in UTC.
func toDate(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	case int64:
		return time.Unix(val, 0).UTC().Format(time.RFC3339), nil
	case string, []byte:
		s := strings.TrimSpace(stringify(val))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("not a date: %q", s)
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupported, v)
	}
}

func toBoolean(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string, []byte:
		s := strings.ToLower(strings.TrimSpace(stringify(val)))
		switch s {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off", "":
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", s)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupported, v)
	}
}

// toJSON keeps valid JSON text as is and encodes anything else.
func toJSON(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string, []byte:
		s := stringify(val)
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("not valid JSON: %q", s)
		}
		return s, nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

// coercerFor picks the coercion for a destination type.
func coercerFor(ft models.FieldType) Func {
	switch ft {
	case models.FieldTypeNumber:
		return toNumber
	case models.FieldTypeDatetime:
		return toDate
	case models.FieldTypeBoolean:
		return toBoolean
	default:
		return toString
	}
}

// hintFromDataType maps a declared data type to a coercion. "string" and
// unset declare nothing, so the value passes through.
func hintFromDataType(dataType string) (Func, string) {
	switch dataType {
	case models.DataTypeNumber:
		return toNumber, string(models.FieldTypeNumber)
	case models.DataTypeDate:
		return toDate, string(models.FieldTypeDatetime)
	case models.DataTypeBoolean:
		return toBoolean, string(models.FieldTypeBoolean)
	case models.DataTypeJSON:
		return toJSON, models.DataTypeJSON
	}
	return nil, ""
}
