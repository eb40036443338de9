package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/model"
)

// Display strings for boolean and file values.
const (
	BoolTrue    = "Да"
	BoolFalse   = "Нет"
	filePattern = "Файл #%d"
)

// DefaultDecimals is used for float columns without a decimals setting.
const DefaultDecimals = 2

// MaxDecimals caps the decimals setting when formatting.
const MaxDecimals = 10

// FormatValue renders a stored value for display. Numbers use a space as the
// thousands separator and a comma as the decimal separator, dates use
// dd.mm.yyyy, choices show their labels.
func FormatValue(col model.SchemaColumn, v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok && s == "" {
		return ""
	}

	switch col.Type {
	case model.TypeNumber:
		f, ok := ToNumber(v)
		if !ok {
			return ToString(v)
		}
		return FormatNumber(math.Trunc(f), 0)

	case model.TypeFloat:
		f, ok := ToNumber(v)
		if !ok {
			return ToString(v)
		}
		decimals := DefaultDecimals
		if col.Settings != nil && col.Settings.Decimals != nil {
			decimals = *col.Settings.Decimals
		}
		return FormatNumber(f, decimals)

	case model.TypeBoolean:
		if ToBool(v) {
			return BoolTrue
		}
		return BoolFalse

	case model.TypeDate, model.TypeDateTime:
		s := ToString(v)
		t, _, err := ParseDate(s)
		if err != nil {
			return s
		}
		if col.Type == model.TypeDate {
			return t.Format(displayDate)
		}
		return t.Format(displayDateTime)

	case model.TypeSelect:
		s := ToString(v)
		if label, ok := col.ChoiceOptions().Label(s); ok {
			return label
		}
		return s

	case model.TypeMultiselect:
		items, ok := toList(v)
		if !ok {
			return ToString(v)
		}
		opts := col.ChoiceOptions()
		labels := make([]string, len(items))
		for i, item := range items {
			if label, ok := opts.Label(item); ok {
				labels[i] = label
			} else {
				labels[i] = item
			}
		}
		return strings.Join(labels, ", ")

	case model.TypeFile:
		f, ok := ToNumber(v)
		if ok && f > 0 {
			return fmt.Sprintf(filePattern, int64(f))
		}
		return ""

	case model.TypeJSON:
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "    ")
			if err := enc.Encode(v); err != nil {
				return ToString(v)
			}
			return strings.TrimRight(buf.String(), "\n")
		}
		return ToString(v)
	}

	return ToString(v)
}

// FormatNumber renders f with the given number of decimals, rounding half
// away from zero, grouping thousands with a space and using a comma as the
// decimal separator.
func FormatNumber(f float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	if decimals > MaxDecimals {
		decimals = MaxDecimals
	}
	rounded := f
	pow := math.Pow(10, float64(decimals))
	if scaled := f * pow; !math.IsInf(scaled, 0) {
		rounded = math.Round(scaled) / pow
	}

	neg := rounded < 0
	s := strconv.FormatFloat(math.Abs(rounded), 'f', decimals, 64)

	intPart, fracPart := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, fracPart = s[:dot], s[dot+1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(ch)
	}
	if fracPart != "" {
		b.WriteByte(',')
		b.WriteString(fracPart)
	}
	return b.String()
}

// FormatRow formats every value of data that has a column definition.
func FormatRow(cols []model.SchemaColumn, data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c.Code] = FormatValue(c, data[c.Code])
	}
	return out
}
