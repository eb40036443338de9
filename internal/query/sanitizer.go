// Package query filters, orders and projects table rows in memory. Filter
// expressions use a small SQL-like grammar over column codes.
package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"
)

// MaxSearchLen caps the length of a search term in characters.
const MaxSearchLen = 255

// identifierRegex validates column codes and publish target names.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords cannot be used as names of published tables.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "VIEW": true, "SCHEMA": true,
}

// ValidateIdentifier checks a name that ends up in generated SQL: it must
// match [a-zA-Z_][a-zA-Z0-9_]*, be at most 128 characters and not be a
// reserved word.
func ValidateIdentifier(name string) error {
	if err := validateCode(name); err != nil {
		return err
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// validateCode is the looser check applied to column codes in filters and
// field lists. Codes like "index" or "from" are legal column codes.
func validateCode(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 chars): %q", name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}

// SanitizeSearchTerm trims a free-text search term, strips null bytes and
// rejects terms over MaxSearchLen characters. Terms are only ever bound as
// query parameters, so quotes and SQL keywords are legal text.
func SanitizeSearchTerm(term string) (string, error) {
	term = strings.TrimSpace(strings.ReplaceAll(term, "\x00", ""))
	if utf8.RuneCountInString(term) > MaxSearchLen {
		return "", fmt.Errorf("search term too long (max %d chars)", MaxSearchLen)
	}
	return term, nil
}

// DetectSQLi reports whether libinjection flags term, with the matched
// fingerprint. Callers log the match; the term is still searched.
func DetectSQLi(term string) (string, bool) {
	isSQLi, fingerprint := libinjection.IsSQLi(term)
	return fingerprint, isSQLi
}
