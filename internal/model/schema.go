package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ColumnType is the value type of a table column.
type ColumnType string

const (
	TypeText        ColumnType = "text"
	TypeNumber      ColumnType = "number"
	TypeFloat       ColumnType = "float"
	TypeDate        ColumnType = "date"
	TypeDateTime    ColumnType = "datetime"
	TypeFile        ColumnType = "file"
	TypeBoolean     ColumnType = "boolean"
	TypeSelect      ColumnType = "select"
	TypeMultiselect ColumnType = "multiselect"
	TypeEmail       ColumnType = "email"
	TypeURL         ColumnType = "url"
	TypePhone       ColumnType = "phone"
	TypeJSON        ColumnType = "json"
)

// TableSchema is a named, versionless set of column definitions. Table
// instances reference a schema and store rows keyed by its column codes.
type TableSchema struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Columns     []SchemaColumn `json:"columns"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Column returns the column with the given code.
func (s *TableSchema) Column(code string) (SchemaColumn, bool) {
	for _, c := range s.Columns {
		if c.Code == code {
			return c, true
		}
	}
	return SchemaColumn{}, false
}

// SchemaDocument is the persisted JSON shape of a schema's columns.
type SchemaDocument struct {
	Columns []SchemaColumn `json:"columns"`
}

// SchemaColumn is one column definition inside a schema document. Legacy
// per-table columns are converted into this shape as well, so validation and
// formatting only deal with one representation.
type SchemaColumn struct {
	Code     string          `json:"code"`
	Title    string          `json:"title"`
	Type     ColumnType      `json:"type"`
	Sort     int             `json:"sort"`
	Options  Options         `json:"options,omitempty"`
	Required bool            `json:"required,omitempty"`
	Settings *ColumnSettings `json:"settings,omitempty"`
}

// IsRequired reports whether an empty value must be rejected.
func (c SchemaColumn) IsRequired() bool {
	return c.Required || (c.Settings != nil && c.Settings.Required)
}

// ChoiceOptions returns the options for select-like columns. Options on the
// column itself win over options in settings.
func (c SchemaColumn) ChoiceOptions() Options {
	if len(c.Options) > 0 {
		return c.Options
	}
	if c.Settings != nil {
		return c.Settings.Options
	}
	return nil
}

// ColumnSettings holds optional per-type constraints and display settings.
type ColumnSettings struct {
	MaxLength int      `json:"max_length,omitempty"`
	MinValue  *float64 `json:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty"`
	Decimals  *int     `json:"decimals,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Options   Options  `json:"options,omitempty"`
}

// Option is a single choice of a select or multiselect column.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options is an ordered list of choices. It decodes from either a plain
// array (each item is both value and label) or an object mapping value to
// label, and keeps the original order in both cases.
type Options []Option

// Has reports whether value is one of the option values.
func (o Options) Has(value string) bool {
	_, ok := o.Label(value)
	return ok
}

// Label returns the display label for value.
func (o Options) Label(value string) (string, bool) {
	for _, opt := range o {
		if opt.Value == value {
			return opt.Label, true
		}
	}
	return "", false
}

// Values returns the option values in order.
func (o Options) Values() []string {
	out := make([]string, len(o))
	for i, opt := range o {
		out[i] = opt.Value
	}
	return out
}

// MarshalJSON writes a plain array when every label equals its value and an
// ordered object otherwise.
func (o Options) MarshalJSON() ([]byte, error) {
	plain := true
	for _, opt := range o {
		if opt.Label != opt.Value {
			plain = false
			break
		}
	}
	if plain {
		return json.Marshal(o.Values())
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, opt := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(opt.Value)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(opt.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts ["a","b"], [{"value":"a","label":"A"}] and
// {"a":"A","b":"B"}.
func (o *Options) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("options: %w", err)
		}
		out := make(Options, 0, len(items))
		for _, raw := range items {
			opt, err := decodeOption(raw)
			if err != nil {
				return err
			}
			out = append(out, opt)
		}
		*o = out
		return nil

	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("options: %w", err)
		}
		var out Options
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("options: %w", err)
			}
			key, _ := tok.(string)
			var label interface{}
			if err := dec.Decode(&label); err != nil {
				return fmt.Errorf("options: %w", err)
			}
			out = append(out, Option{Value: key, Label: scalarString(label)})
		}
		*o = out
		return nil
	}
	return fmt.Errorf("options: expected array or object, got %s", string(data))
}

func decodeOption(raw json.RawMessage) (Option, error) {
	var obj Option
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Option{}, fmt.Errorf("options: %w", err)
		}
		if obj.Label == "" {
			obj.Label = obj.Value
		}
		return obj, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Option{}, fmt.Errorf("options: %w", err)
	}
	s := scalarString(v)
	return Option{Value: s, Label: s}, nil
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
