package schema

import (
	"encoding/json"
	"math"
)

// StringField returns fields[key] if it holds a string.
func StringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntField returns fields[key] as an int64.
// Documents decoded from JSON carry numbers as float64 or json.Number,
// documents built in process carry Go integers; all are accepted.
func IntField(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
