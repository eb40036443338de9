package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// Predicate reports whether a row matches a parsed filter.
type Predicate func(row model.Row) bool

// Match evaluates p against row. A nil Predicate matches every row.
func (p Predicate) Match(row model.Row) bool {
	if p == nil {
		return true
	}
	return p(row)
}

// FilterRows returns the rows p matches, keeping their order.
func FilterRows(rows []model.Row, p Predicate) []model.Row {
	if p == nil {
		return rows
	}
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if p(r) {
			out = append(out, r)
		}
	}
	return out
}

// ParseFilter compiles a filter expression such as
//
//	(price > 100 AND status IN ('new', 'open')) OR title CONTAINS 'urgent'
//
// into a Predicate. Identifiers are column codes; id, sort, created_at and
// updated_at address the row itself unless the row data has such a column.
// Returns nil, nil for an empty expression.
func ParseFilter(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	p := &parser{tokens: tokens}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.value, t.pos)
	}
	return pred, nil
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type tokenType int

const (
	tokIdentifier tokenType = iota
	tokNumber
	tokString
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokAND
	tokOR
	tokNOT
	tokIN
	tokLIKE
	tokIS
	tokNULL
	tokBETWEEN
	tokCONTAINS
	tokSTARTS
	tokENDS
	tokWITH
	tokTRUE
	tokFALSE
)

var tokenNames = map[tokenType]string{
	tokIdentifier: "identifier",
	tokNumber:     "number",
	tokString:     "string",
	tokOperator:   "operator",
	tokLParen:     "'('",
	tokRParen:     "')'",
	tokComma:      "','",
}

func (t tokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for word, kt := range keywords {
		if kt == t {
			return word
		}
	}
	return fmt.Sprintf("token(%d)", int(t))
}

type token struct {
	typ   tokenType
	value string
	pos   int
}

var keywords = map[string]tokenType{
	"AND":      tokAND,
	"OR":       tokOR,
	"NOT":      tokNOT,
	"IN":       tokIN,
	"LIKE":     tokLIKE,
	"IS":       tokIS,
	"NULL":     tokNULL,
	"BETWEEN":  tokBETWEEN,
	"CONTAINS": tokCONTAINS,
	"STARTS":   tokSTARTS,
	"ENDS":     tokENDS,
	"WITH":     tokWITH,
	"TRUE":     tokTRUE,
	"FALSE":    tokFALSE,
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func tokenize(input string) ([]token, error) {
	l := &lexer{input: input}
	for l.pos < len(l.input) {
		if err := l.next(); err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

func (l *lexer) emit(typ tokenType, value string, start int) {
	l.tokens = append(l.tokens, token{typ: typ, value: value, pos: start})
}

func (l *lexer) next() error {
	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
		l.pos++
	case ch == '(':
		l.emit(tokLParen, "(", start)
		l.pos++
	case ch == ')':
		l.emit(tokRParen, ")", start)
		l.pos++
	case ch == ',':
		l.emit(tokComma, ",", start)
		l.pos++
	case ch == '!' || ch == '<' || ch == '>' || ch == '=':
		return l.operator()
	case ch == '\'':
		return l.quoted()
	case isDigit(ch) || (ch == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		return l.number()
	case ch == '_' || isLetter(ch):
		for l.pos < len(l.input) && (l.input[l.pos] == '_' || isLetter(l.input[l.pos]) || isDigit(l.input[l.pos])) {
			l.pos++
		}
		word := l.input[start:l.pos]
		if kt, ok := keywords[strings.ToUpper(word)]; ok {
			l.emit(kt, strings.ToUpper(word), start)
		} else {
			l.emit(tokIdentifier, word, start)
		}
	default:
		return fmt.Errorf("unexpected character %q at position %d", string(ch), start)
	}
	return nil
}

func (l *lexer) operator() error {
	start := l.pos
	if l.pos+1 < len(l.input) {
		switch two := l.input[l.pos : l.pos+2]; two {
		case "!=", "<>", ">=", "<=":
			l.emit(tokOperator, two, start)
			l.pos += 2
			return nil
		}
	}
	ch := l.input[l.pos]
	if ch == '!' {
		return fmt.Errorf("unexpected character %q at position %d", "!", start)
	}
	l.emit(tokOperator, string(ch), start)
	l.pos++
	return nil
}

// quoted reads a single-quoted literal; a doubled quote escapes itself.
func (l *lexer) quoted() error {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\'' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			l.emit(tokString, sb.String(), start)
			return nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return fmt.Errorf("unterminated string literal starting at position %d", start)
}

func (l *lexer) number() error {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		if l.pos >= len(l.input) || !isDigit(l.input[l.pos]) {
			return fmt.Errorf("invalid number at position %d: trailing decimal point", start)
		}
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	l.emit(tokNumber, l.input[start:l.pos], start)
	return nil
}

func isDigit(ch byte) bool  { return ch >= '0' && ch <= '9' }
func isLetter(ch byte) bool { return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) advance() *token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *parser) accept(typ tokenType) bool {
	if t := p.peek(); t != nil && t.typ == typ {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(typ tokenType) (*token, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter, expected %v", typ)
	}
	if t.typ != typ {
		return nil, fmt.Errorf("expected %v but got %q at position %d", typ, t.value, t.pos)
	}
	return t, nil
}

// parseOr: or_expr → and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOR) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(row model.Row) bool { return l(row) || right(row) }
	}
	return left, nil
}

// parseAnd: and_expr → not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Predicate, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(tokAND) {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(row model.Row) bool { return l(row) && right(row) }
	}
	return left, nil
}

// parseNot: not_expr → "NOT" not_expr | primary
func (p *parser) parseNot() (Predicate, error) {
	if p.accept(tokNOT) {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return func(row model.Row) bool { return !inner(row) }, nil
	}
	return p.parsePrimary()
}

// parsePrimary: primary → "(" or_expr ")" | comparison
func (p *parser) parsePrimary() (Predicate, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter expression")
	}
	if p.accept(tokLParen) {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

// parseComparison handles
//
//	code op value
//	code [NOT] IN (value, ...)
//	code [NOT] LIKE value
//	code [NOT] BETWEEN value AND value
//	code IS [NOT] NULL
//	code CONTAINS value
//	code STARTS WITH value
//	code ENDS WITH value
func (p *parser) parseComparison() (Predicate, error) {
	colTok, err := p.expect(tokIdentifier)
	if err != nil {
		return nil, fmt.Errorf("expected column code: %w", err)
	}
	if err := validateCode(colTok.value); err != nil {
		return nil, fmt.Errorf("invalid column code: %w", err)
	}
	code := colTok.value

	opTok := p.advance()
	if opTok == nil {
		return nil, fmt.Errorf("unexpected end of filter after column %q", code)
	}

	switch opTok.typ {
	case tokOperator:
		val, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("expected value after %s %s: %w", code, opTok.value, err)
		}
		return compareLeaf(code, opTok.value, val), nil

	case tokIS:
		negate := p.accept(tokNOT)
		if _, err := p.expect(tokNULL); err != nil {
			return nil, fmt.Errorf("expected NULL after %s IS: %w", code, err)
		}
		return func(row model.Row) bool {
			return tabular.IsEmpty(fieldValue(row, code)) != negate
		}, nil

	case tokNOT:
		next := p.advance()
		if next == nil {
			return nil, fmt.Errorf("unexpected end of filter after %s NOT", code)
		}
		var inner Predicate
		switch next.typ {
		case tokIN:
			inner, err = p.parseInList(code)
		case tokLIKE:
			inner, err = p.parseLike(code)
		case tokBETWEEN:
			inner, err = p.parseBetween(code)
		default:
			return nil, fmt.Errorf("expected IN, LIKE, or BETWEEN after %s NOT, got %q", code, next.value)
		}
		if err != nil {
			return nil, err
		}
		return notPresent(code, inner), nil

	case tokIN:
		return p.parseInList(code)

	case tokLIKE:
		return p.parseLike(code)

	case tokBETWEEN:
		return p.parseBetween(code)

	case tokCONTAINS:
		s, err := p.parseText(code, "CONTAINS")
		if err != nil {
			return nil, err
		}
		s = strings.ToLower(s)
		return textLeaf(code, func(v string) bool { return strings.Contains(strings.ToLower(v), s) }), nil

	case tokSTARTS, tokENDS:
		if _, err := p.expect(tokWITH); err != nil {
			return nil, fmt.Errorf("expected WITH after %s %s: %w", code, opTok.value, err)
		}
		s, err := p.parseText(code, opTok.value+" WITH")
		if err != nil {
			return nil, err
		}
		s = strings.ToLower(s)
		if opTok.typ == tokSTARTS {
			return textLeaf(code, func(v string) bool { return strings.HasPrefix(strings.ToLower(v), s) }), nil
		}
		return textLeaf(code, func(v string) bool { return strings.HasSuffix(strings.ToLower(v), s) }), nil
	}

	return nil, fmt.Errorf("unexpected token %q after column %q at position %d", opTok.value, code, opTok.pos)
}

func (p *parser) parseInList(code string) (Predicate, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, fmt.Errorf("expected '(' after %s IN: %w", code, err)
	}
	var values []interface{}
	for {
		val, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("expected value in %s IN list: %w", code, err)
		}
		values = append(values, val)

		next := p.advance()
		if next == nil {
			return nil, fmt.Errorf("unexpected end of filter in %s IN list", code)
		}
		if next.typ == tokRParen {
			break
		}
		if next.typ != tokComma {
			return nil, fmt.Errorf("expected ',' or ')' in %s IN list, got %q", code, next.value)
		}
	}
	return leaf(code, func(v interface{}) bool {
		for _, want := range values {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	}), nil
}

func (p *parser) parseLike(code string) (Predicate, error) {
	pattern, err := p.parseText(code, "LIKE")
	if err != nil {
		return nil, err
	}
	re := likeRegexp(pattern)
	return textLeaf(code, re.MatchString), nil
}

// parseBetween consumes "low AND high"; the AND belongs to BETWEEN.
func (p *parser) parseBetween(code string) (Predicate, error) {
	low, err := p.parseValue()
	if err != nil {
		return nil, fmt.Errorf("expected lower bound after %s BETWEEN: %w", code, err)
	}
	if _, err := p.expect(tokAND); err != nil {
		return nil, fmt.Errorf("expected AND in %s BETWEEN: %w", code, err)
	}
	high, err := p.parseValue()
	if err != nil {
		return nil, fmt.Errorf("expected upper bound in %s BETWEEN: %w", code, err)
	}
	return leaf(code, func(v interface{}) bool {
		return compare(v, low) >= 0 && compare(v, high) <= 0
	}), nil
}

// parseValue returns a string, int64, float64 or bool literal.
func (p *parser) parseValue() (interface{}, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter, expected a value")
	}
	switch t.typ {
	case tokString:
		return t.value, nil
	case tokTRUE:
		return true, nil
	case tokFALSE:
		return false, nil
	case tokNumber:
		if !strings.Contains(t.value, ".") {
			if n, err := strconv.ParseInt(t.value, 10, 64); err == nil {
				return n, nil
			}
		}
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.value, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected a value (string or number), got %q at position %d", t.value, t.pos)
}

func (p *parser) parseText(code, op string) (string, error) {
	val, err := p.parseValue()
	if err != nil {
		return "", fmt.Errorf("expected value after %s %s: %w", code, op, err)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s requires a string value, got %T", op, val)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// fieldValue resolves a code against the row data first, then the row's own
// fields.
func fieldValue(row model.Row, code string) interface{} {
	if v, ok := row.Data[code]; ok {
		return v
	}
	switch code {
	case "id":
		return row.ID
	case "sort":
		return int64(row.Sort)
	case "created_at":
		return row.CreatedAt.UTC().Format(tabular.DateTimeLayout)
	case "updated_at":
		return row.UpdatedAt.UTC().Format(tabular.DateTimeLayout)
	}
	return nil
}

// leaf builds a predicate over one column. Empty values never match, and a
// list value matches when any of its items does.
func leaf(code string, test func(v interface{}) bool) Predicate {
	return func(row model.Row) bool {
		v := fieldValue(row, code)
		if tabular.IsEmpty(v) {
			return false
		}
		switch items := v.(type) {
		case []interface{}:
			for _, item := range items {
				if test(item) {
					return true
				}
			}
			return false
		case []string:
			for _, item := range items {
				if test(item) {
					return true
				}
			}
			return false
		}
		return test(v)
	}
}

func textLeaf(code string, test func(s string) bool) Predicate {
	return leaf(code, func(v interface{}) bool { return test(tabular.ToString(v)) })
}

// notPresent negates a positive predicate while still rejecting empty values,
// so "x NOT IN (1)" does not match rows without x.
func notPresent(code string, positive Predicate) Predicate {
	return func(row model.Row) bool {
		if tabular.IsEmpty(fieldValue(row, code)) {
			return false
		}
		return !positive(row)
	}
}

func compareLeaf(code, op string, want interface{}) Predicate {
	if op == "!=" || op == "<>" {
		return notPresent(code, compareLeaf(code, "=", want))
	}
	return leaf(code, func(v interface{}) bool {
		c := compare(v, want)
		switch op {
		case "=":
			return c == 0
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		}
		return false
	})
}

// compare orders a stored value against a literal: booleans by truthiness,
// numerically when both sides are numeric, otherwise as case-sensitive
// strings.
func compare(v, want interface{}) int {
	if b, ok := want.(bool); ok {
		return compareBool(tabular.ToBool(v), b)
	}
	if b, ok := v.(bool); ok {
		if _, numeric := tabular.ToNumber(want); numeric {
			return compareBool(b, tabular.ToBool(want))
		}
	}
	if a, ok := tabular.ToNumber(v); ok {
		if b, ok := tabular.ToNumber(want); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(tabular.ToString(v), tabular.ToString(want))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// likeRegexp translates a LIKE pattern (% and _ wildcards) into a
// case-insensitive anchored regexp.
func likeRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
