package tabular

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grebion/tables/internal/model"
)

// ConvertValue converts a stored value from one column type to another. It
// is used when a schema changes a column's type and existing rows must
// follow. A nil result with a nil error means the value was empty.
func ConvertValue(v interface{}, from, to model.ColumnType) (interface{}, error) {
	if from == to || v == nil {
		return v, nil
	}

	switch to {
	case model.TypeNumber:
		f, ok := ToNumber(v)
		if !ok {
			if b, isBool := v.(bool); isBool {
				if b {
					return int64(1), nil
				}
				return int64(0), nil
			}
			return nil, fmt.Errorf("cannot convert %q to a number", ToString(v))
		}
		n, ok := TruncInt(f)
		if !ok {
			return nil, fmt.Errorf("%q is out of the integer range", ToString(v))
		}
		return n, nil

	case model.TypeFloat:
		f, ok := ToNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %q to a decimal number", ToString(v))
		}
		return f, nil

	case model.TypeBoolean:
		return ToBool(v), nil

	case model.TypeJSON:
		switch x := v.(type) {
		case string:
			var decoded interface{}
			if err := json.Unmarshal([]byte(x), &decoded); err == nil {
				return decoded, nil
			}
			return map[string]interface{}{"value": x}, nil
		case map[string]interface{}, []interface{}:
			return x, nil
		default:
			return map[string]interface{}{"value": x}, nil
		}

	case model.TypeMultiselect:
		if items, ok := toList(v); ok {
			return items, nil
		}
		s := ToString(v)
		if s == "" {
			return nil, nil
		}
		parts := strings.Split(s, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, nil

	case model.TypeDate, model.TypeDateTime:
		s := ToString(v)
		t, _, err := ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to a date", s)
		}
		if to == model.TypeDate {
			return t.Format(DateLayout), nil
		}
		return t.Format(DateTimeLayout), nil

	case model.TypeFile:
		f, ok := ToNumber(v)
		n, fits := TruncInt(f)
		if !ok || !fits || n < 0 {
			return nil, fmt.Errorf("cannot convert %q to a file id", ToString(v))
		}
		return n, nil
	}

	if items, ok := toList(v); ok {
		return strings.Join(items, ", "), nil
	}
	return ToString(v), nil
}

// truthyImport lists the strings an imported boolean cell is true for.
var truthyImport = map[string]bool{
	"1":    true,
	"true": true,
	"да":   true,
	"yes":  true,
	"y":    true,
}

// CoerceImported turns the raw text of an imported cell into a value of the
// column's type. Empty dates become nil and unparseable dates are kept as
// text so the validator can report them.
func CoerceImported(col model.SchemaColumn, raw string) interface{} {
	raw = strings.TrimSpace(raw)

	switch col.Type {
	case model.TypeNumber:
		if raw == "" {
			return nil
		}
		if f, ok := ToNumber(normalizeDecimal(raw)); ok {
			if n, fits := TruncInt(f); fits {
				return n
			}
		}
		return raw

	case model.TypeFloat:
		if raw == "" {
			return nil
		}
		if f, ok := ToNumber(normalizeDecimal(raw)); ok {
			return f
		}
		return raw

	case model.TypeBoolean:
		return truthyImport[strings.ToLower(raw)]

	case model.TypeDate, model.TypeDateTime:
		if raw == "" {
			return nil
		}
		t, _, err := ParseDate(raw)
		if err != nil {
			return raw
		}
		if col.Type == model.TypeDate {
			return t.Format(DateLayout)
		}
		return t.Format(DateTimeLayout)

	case model.TypeMultiselect:
		if raw == "" {
			return nil
		}
		v, _ := ConvertValue(raw, model.TypeText, model.TypeMultiselect)
		return v

	case model.TypeFile:
		if raw == "" {
			return nil
		}
		if f, ok := ToNumber(raw); ok {
			if n, fits := TruncInt(f); fits {
				return n
			}
		}
		return raw

	case model.TypeJSON:
		if raw == "" {
			return nil
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			return decoded
		}
		return raw
	}

	if raw == "" {
		return nil
	}
	return raw
}

// normalizeDecimal accepts "1 234,5" style numbers produced by our own
// formatter and by spreadsheet exports.
func normalizeDecimal(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return s
}
