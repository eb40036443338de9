package tabular

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/grebion/tables/internal/model"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{3,24}$`)
)

// ValidateFieldValue checks v against the column definition and returns the
// normalized value to store. Empty values pass unless the column is
// required, in which case they are rejected.
func ValidateFieldValue(col model.SchemaColumn, v interface{}) (interface{}, error) {
	if IsEmpty(v) {
		if col.IsRequired() {
			return nil, fmt.Errorf("value is required")
		}
		return nil, nil
	}

	settings := col.Settings
	if settings == nil {
		settings = &model.ColumnSettings{}
	}

	switch col.Type {
	case model.TypeText, model.TypeEmail, model.TypeURL, model.TypePhone:
		s := ToString(v)
		if settings.MaxLength > 0 && utf8.RuneCountInString(s) > settings.MaxLength {
			return nil, fmt.Errorf("maximum length of %d characters exceeded", settings.MaxLength)
		}
		switch col.Type {
		case model.TypeEmail:
			if !emailPattern.MatchString(s) {
				return nil, fmt.Errorf("invalid email address")
			}
		case model.TypeURL:
			u, err := url.ParseRequestURI(s)
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, fmt.Errorf("invalid URL")
			}
		case model.TypePhone:
			if !phonePattern.MatchString(s) {
				return nil, fmt.Errorf("invalid phone number")
			}
		}
		return s, nil

	case model.TypeNumber:
		f, ok := ToNumber(v)
		if !ok {
			return nil, fmt.Errorf("value must be a number")
		}
		n, ok := TruncInt(f)
		if !ok {
			return nil, fmt.Errorf("value is out of the integer range")
		}
		if err := checkRange(float64(n), settings); err != nil {
			return nil, err
		}
		return n, nil

	case model.TypeFloat:
		f, ok := ToNumber(v)
		if !ok {
			return nil, fmt.Errorf("value must be a number")
		}
		if err := checkRange(f, settings); err != nil {
			return nil, err
		}
		return f, nil

	case model.TypeBoolean:
		return ToBool(v), nil

	case model.TypeDate, model.TypeDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value must be a date string")
		}
		t, _, err := ParseDate(s)
		if err != nil {
			if col.Type == model.TypeDate {
				return nil, fmt.Errorf("invalid date format")
			}
			return nil, fmt.Errorf("invalid date and time format")
		}
		if col.Type == model.TypeDate {
			return t.Format(DateLayout), nil
		}
		return t.Format(DateTimeLayout), nil

	case model.TypeSelect:
		s := ToString(v)
		if opts := col.ChoiceOptions(); len(opts) > 0 && !opts.Has(s) {
			return nil, fmt.Errorf("value %q is not an allowed option", s)
		}
		return s, nil

	case model.TypeMultiselect:
		items, ok := toList(v)
		if !ok {
			return nil, fmt.Errorf("value must be a list")
		}
		opts := col.ChoiceOptions()
		for _, item := range items {
			if len(opts) > 0 && !opts.Has(item) {
				return nil, fmt.Errorf("value %q is not an allowed option", item)
			}
		}
		return items, nil

	case model.TypeFile:
		f, ok := ToNumber(v)
		if !ok || f < 0 || f >= int64Bound || f != math.Trunc(f) {
			return nil, fmt.Errorf("file id must be a number")
		}
		return int64(f), nil

	case model.TypeJSON:
		switch x := v.(type) {
		case string:
			var decoded interface{}
			if err := json.Unmarshal([]byte(x), &decoded); err != nil {
				return nil, fmt.Errorf("invalid JSON")
			}
			return decoded, nil
		case map[string]interface{}, []interface{}:
			return x, nil
		default:
			return nil, fmt.Errorf("value must be JSON")
		}
	}

	return nil, fmt.Errorf("unsupported column type %q", col.Type)
}

func checkRange(f float64, settings *model.ColumnSettings) error {
	if settings.MinValue != nil && f < *settings.MinValue {
		return fmt.Errorf("value is less than the minimum (%s)", ToString(*settings.MinValue))
	}
	if settings.MaxValue != nil && f > *settings.MaxValue {
		return fmt.Errorf("value is greater than the maximum (%s)", ToString(*settings.MaxValue))
	}
	return nil
}

// ValidateRowData checks every value of data against cols and returns the
// normalized data. Unknown codes and invalid values are all reported in one
// *ValidationError. With partial set, missing required columns are not
// reported and cleared values are kept as nil so callers can drop them from
// the stored row.
func ValidateRowData(cols []model.SchemaColumn, data map[string]interface{}, partial bool) (map[string]interface{}, error) {
	byCode := make(map[string]model.SchemaColumn, len(cols))
	for _, c := range cols {
		byCode[c.Code] = c
	}

	verr := &ValidationError{}
	out := make(map[string]interface{}, len(data))

	codes := make([]string, 0, len(data))
	for code := range data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		col, ok := byCode[code]
		if !ok {
			verr.Add(code, CodeUnknownColumn, fmt.Sprintf("column '%s' not found", code))
			continue
		}
		v, err := ValidateFieldValue(col, data[code])
		if err != nil {
			c := CodeInvalidValue
			if IsEmpty(data[code]) {
				c = CodeRequired
			}
			verr.Add(code, c, fmt.Sprintf("column '%s': %s", code, err.Error()))
			continue
		}
		if v != nil || partial {
			out[code] = v
		}
	}

	if !partial {
		for _, col := range cols {
			if _, present := data[col.Code]; !present && col.IsRequired() {
				verr.Add(col.Code, CodeRequired, fmt.Sprintf("column '%s': value is required", col.Code))
			}
		}
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
