package models

import (
	"encoding/json"
	"time"
)

// Record is one ordered row of key/value pairs, as read from a source table or
// produced for a destination sheet. Key order is insertion order.
type Record struct {
	keys   []string
	values map[string]interface{}
}

func NewRecord() *Record {
	return &Record{values: make(map[string]interface{})}
}

// RecordFromPairs builds a record from alternating key, value arguments.
func RecordFromPairs(pairs ...interface{}) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		r.Set(key, pairs[i+1])
	}
	return r
}

// Set stores value under key, keeping the original position of existing keys.
func (r *Record) Set(key string, value interface{}) {
	if r.values == nil {
		r.values = make(map[string]interface{})
	}
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (interface{}, bool) {
	if r == nil || r.values == nil {
		return nil, false
	}
	val, ok := r.values[key]
	return val, ok
}

func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Values returns values in key order.
func (r *Record) Values() []interface{} {
	if r == nil {
		return nil
	}
	out := make([]interface{}, len(r.keys))
	for i, key := range r.keys {
		out[i] = r.values[key]
	}
	return out
}

func (r *Record) GetString(key string) string {
	val, ok := r.Get(key)
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (r *Record) GetInt64(key string) int64 {
	val, ok := r.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (r *Record) GetTime(key string) time.Time {
	val, ok := r.Get(key)
	if !ok {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// MarshalJSON keeps key order so CLI output mirrors the sheet column order.
func (r *Record) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, key := range r.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	buf = append(buf, '}')
	return buf, nil
}
