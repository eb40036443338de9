package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// OrderClause is one "code [ASC|DESC]" directive.
type OrderClause struct {
	Column string
	Desc   bool
}

func (o OrderClause) String() string {
	if o.Desc {
		return o.Column + " DESC"
	}
	return o.Column + " ASC"
}

// ParseOrderClause parses "price DESC, title" into clauses. The direction
// defaults to ASC.
func ParseOrderClause(order string) ([]OrderClause, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return nil, nil
	}

	var clauses []OrderClause
	for _, part := range strings.Split(order, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		if len(fields) > 2 {
			return nil, fmt.Errorf("invalid order clause %q: expected 'column [ASC|DESC]'", strings.TrimSpace(part))
		}
		if err := validateCode(fields[0]); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		c := OrderClause{Column: fields[0]}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				c.Desc = true
			default:
				return nil, fmt.Errorf("invalid order direction %q: must be ASC or DESC", fields[1])
			}
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// SortRows orders rows in place. Without clauses rows follow their sort
// value, then id. Empty values come first in ascending order. Ties are
// broken by sort and id so the result is stable across calls.
func SortRows(rows []model.Row, clauses []OrderClause) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, c := range clauses {
			cmp := compareValues(fieldValue(rows[i], c.Column), fieldValue(rows[j], c.Column))
			if cmp == 0 {
				continue
			}
			if c.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		if rows[i].Sort != rows[j].Sort {
			return rows[i].Sort < rows[j].Sort
		}
		return rows[i].ID < rows[j].ID
	})
}

func compareValues(a, b interface{}) int {
	aEmpty, bEmpty := tabular.IsEmpty(a), tabular.IsEmpty(b)
	switch {
	case aEmpty && bEmpty:
		return 0
	case aEmpty:
		return -1
	case bEmpty:
		return 1
	}
	return compare(a, b)
}

// ParseFieldSelection parses "id,title,price" into codes. Returns nil for an
// empty list, meaning every field.
func ParseFieldSelection(fields string) ([]string, error) {
	fields = strings.TrimSpace(fields)
	if fields == "" {
		return nil, nil
	}

	var result []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(fields, ",") {
		code := strings.TrimSpace(part)
		if code == "" || seen[code] {
			continue
		}
		if err := validateCode(code); err != nil {
			return nil, fmt.Errorf("invalid field name: %w", err)
		}
		seen[code] = true
		result = append(result, code)
	}
	return result, nil
}

// Project returns a copy of data holding only the given fields. Fields the
// data lacks are omitted. A nil field list copies everything.
func Project(data map[string]interface{}, fields []string) map[string]interface{} {
	if fields == nil {
		out := make(map[string]interface{}, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

// ProjectRows applies Project to the data of every row.
func ProjectRows(rows []model.Row, fields []string) []model.Row {
	if fields == nil {
		return rows
	}
	out := make([]model.Row, len(rows))
	for i, r := range rows {
		r.Data = Project(r.Data, fields)
		out[i] = r
	}
	return out
}

// Page slices rows by limit and offset. A limit of zero or less means no
// limit.
func Page(rows []model.Row, limit, offset int) []model.Row {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []model.Row{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
