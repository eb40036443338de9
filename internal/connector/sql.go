package connector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/query"
	"github.com/grebion/tables/internal/tabular"
)

// System columns every published table starts with.
const (
	RowIDColumn = "_row_id"
	SortColumn  = "_sort"
)

// maxBatchRows caps the rows of one INSERT. SQL Server rejects more than
// 1000 rows in a VALUES list.
const maxBatchRows = 1000

// ErrInvalidTarget is returned for unusable publish target names.
var ErrInvalidTarget = errors.New("invalid publish target")

// Target is a possibly schema-qualified table name in a publish source.
type Target struct {
	Schema string
	Table  string
}

// ParseTarget parses "table" or "schema.table". An unqualified name uses
// defaultSchema, which may be empty.
func ParseTarget(raw, defaultSchema string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if isSQLi, fp := libinjection.IsSQLi(raw); isSQLi {
		return Target{}, fmt.Errorf("%w: %q matches pattern %s", ErrInvalidTarget, raw, fp)
	}

	t := Target{Schema: defaultSchema, Table: raw}
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		t.Schema, t.Table = raw[:i], raw[i+1:]
		if err := query.ValidateIdentifier(t.Schema); err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
	}
	if err := query.ValidateIdentifier(t.Table); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return t, nil
}

// String returns the unquoted dotted name.
func (t Target) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Quoted returns the target quoted for d.
func (t Target) Quoted(d Dialect) string {
	if t.Schema == "" {
		return d.QuoteIdentifier(t.Table)
	}
	return d.QuoteIdentifier(t.Schema) + "." + d.QuoteIdentifier(t.Table)
}

// BuildCreateTable returns the CREATE TABLE statement for a published
// table: the system columns followed by one column per table column.
func BuildCreateTable(d Dialect, t Target, cols []model.SchemaColumn) string {
	defs := make([]string, 0, len(cols)+2)
	defs = append(defs,
		d.QuoteIdentifier(RowIDColumn)+" "+d.ColumnType(model.TypeNumber)+" NOT NULL PRIMARY KEY",
		d.QuoteIdentifier(SortColumn)+" "+d.ColumnType(model.TypeNumber)+" NOT NULL",
	)
	for _, c := range cols {
		defs = append(defs, d.QuoteIdentifier(c.Code)+" "+d.ColumnType(c.Type))
	}
	return "CREATE TABLE " + t.Quoted(d) + " (" + strings.Join(defs, ", ") + ")"
}

// BuildDropTable returns a statement that drops t if it exists. Oracle has
// no IF EXISTS and ignores ORA-00942 instead.
func BuildDropTable(d Dialect, t Target) string {
	if d.DriverName() == "oracle" {
		return "BEGIN EXECUTE IMMEDIATE 'DROP TABLE " + t.Quoted(d) + "'; " +
			"EXCEPTION WHEN OTHERS THEN IF SQLCODE != -942 THEN RAISE; END IF; END;"
	}
	return "DROP TABLE IF EXISTS " + t.Quoted(d)
}

// BuildExistsQuery returns a query that succeeds only when t exists.
func BuildExistsQuery(d Dialect, t Target) string {
	return "SELECT 1 FROM " + t.Quoted(d) + " WHERE 1 = 0"
}

// BuildInsert returns one multi-row INSERT for rows. Oracle gets an
// INSERT ALL statement.
func BuildInsert(d Dialect, t Target, cols []model.SchemaColumn, rows []model.Row) (string, []interface{}, error) {
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("no rows to insert")
	}
	if n := len(rows) * (len(cols) + 2); n > d.MaxParams() {
		return "", nil, fmt.Errorf("%d parameters exceed the %s limit of %d", n, d.DriverName(), d.MaxParams())
	}

	names := make([]string, 0, len(cols)+2)
	names = append(names, d.QuoteIdentifier(RowIDColumn), d.QuoteIdentifier(SortColumn))
	for _, c := range cols {
		names = append(names, d.QuoteIdentifier(c.Code))
	}
	into := t.Quoted(d) + " (" + strings.Join(names, ", ") + ")"

	args := make([]interface{}, 0, len(rows)*len(names))
	tuples := make([]string, len(rows))
	idx := 1
	for i, r := range rows {
		ph := make([]string, len(names))
		for j := range ph {
			ph[j] = d.ParameterPlaceholder(idx)
			idx++
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"

		args = append(args, r.ID, int64(r.Sort))
		for _, c := range cols {
			args = append(args, d.BindValue(c.Type, r.Data[c.Code]))
		}
	}

	if d.DriverName() == "oracle" {
		var b strings.Builder
		b.WriteString("INSERT ALL")
		for _, tuple := range tuples {
			b.WriteString(" INTO " + into + " VALUES " + tuple)
		}
		b.WriteString(" SELECT 1 FROM DUAL")
		return b.String(), args, nil
	}
	return "INSERT INTO " + into + " VALUES " + strings.Join(tuples, ", "), args, nil
}

// BatchSize returns the rows per INSERT for ncols table columns. A positive
// requested size is honored when it fits the dialect's limits.
func BatchSize(d Dialect, ncols, requested int) int {
	size := d.MaxParams() / (ncols + 2)
	if size > maxBatchRows {
		size = maxBatchRows
	}
	if requested > 0 && requested < size {
		size = requested
	}
	if size < 1 {
		size = 1
	}
	return size
}

// BindCommon converts a stored value for drivers that accept Go booleans
// and time.Time. Lists and objects become JSON text, numbers follow the
// column type and dates are parsed.
func BindCommon(t model.ColumnType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case model.TypeNumber, model.TypeFile:
		if f, ok := tabular.ToNumber(v); ok {
			if n, fits := tabular.TruncInt(f); fits {
				return n
			}
		}
	case model.TypeFloat:
		if f, ok := tabular.ToNumber(v); ok {
			return f
		}
	case model.TypeBoolean:
		return tabular.ToBool(v)
	case model.TypeDate, model.TypeDateTime:
		if ts, _, err := tabular.ParseDate(tabular.ToString(v)); err == nil {
			return ts
		}
	}
	switch x := v.(type) {
	case []interface{}, []string, map[string]interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return tabular.ToString(x)
		}
		return string(b)
	case string:
		return x
	}
	return tabular.ToString(v)
}

// BindBoolAsInt is BindCommon with booleans as 0 or 1.
func BindBoolAsInt(t model.ColumnType, v interface{}) interface{} {
	out := BindCommon(t, v)
	if b, ok := out.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return out
}

// BindDatesAsText is BindBoolAsInt with dates kept as text, for databases
// without date types.
func BindDatesAsText(t model.ColumnType, v interface{}) interface{} {
	out := BindBoolAsInt(t, v)
	if ts, ok := out.(time.Time); ok {
		if t == model.TypeDate {
			return ts.Format(tabular.DateLayout)
		}
		return ts.Format(tabular.DateTimeLayout)
	}
	return out
}
