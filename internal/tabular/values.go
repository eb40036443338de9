package tabular

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical storage layouts for date values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"

	displayDate     = "02.01.2006"
	displayDateTime = "02.01.2006 15:04:05"
)

// dateLayouts are tried in order when parsing user supplied dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateTimeLayout,
	"2006-01-02 15:04",
	DateLayout,
	displayDateTime,
	"02.01.2006 15:04",
	displayDate,
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// ParseDate parses s with the accepted layouts. The boolean reports whether
// the value carried a time component.
func ParseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, strings.Contains(layout, "15"), nil
		}
		lastErr = err
	}
	return time.Time{}, false, lastErr
}

// IsEmpty reports whether v carries no value: nil, a blank string or an
// empty list or object.
func IsEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []interface{}:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]interface{}:
		return len(x) == 0
	}
	return false
}

// ToNumber converts numeric values and numeric strings to float64. NaN and
// infinities are rejected.
func ToNumber(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// int64Bound is 2^63, the first float beyond the int64 range.
const int64Bound = 1 << 63

// TruncInt truncates f toward zero. It fails when the result does not fit
// in an int64.
func TruncInt(f float64) (int64, bool) {
	n := math.Trunc(f)
	if n < -int64Bound || n >= int64Bound {
		return 0, false
	}
	return int64(n), true
}

// ToBool casts v the loose way: zero numbers, blank strings, "0", "false",
// empty lists and nil are false; anything else is true.
func ToBool(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		return s != "" && s != "0" && s != "false"
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	if f, ok := ToNumber(v); ok {
		return f != 0
	}
	return true
}

// ToString renders a scalar as text. Lists and objects are JSON encoded.
func ToString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// toList accepts JSON arrays and Go string slices.
func toList(v interface{}) ([]string, bool) {
	switch x := v.(type) {
	case []interface{}:
		out := make([]string, len(x))
		for i, item := range x {
			out[i] = ToString(item)
		}
		return out, true
	case []string:
		return x, true
	}
	return nil, false
}
