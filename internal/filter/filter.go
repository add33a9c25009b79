// Package filter models the schema-scoped table filters that restrict a
// catalog fetch, and compiles them into SQL predicates.
//
// A Filter maps a schema name to an ordered list of table-name patterns.
// Patterns are PostgreSQL regular expressions matched against pg_class.relname.
package filter

import (
	"regexp"
	"strings"
)

// Filter is an ordered mapping from schema name to table-name patterns.
// The zero value and a nil *Filter are both empty filters.
type Filter struct {
	schemas  []string
	patterns map[string][]string
}

// New returns an empty Filter.
func New() *Filter {
	return &Filter{patterns: make(map[string][]string)}
}

// Add appends patterns to schema, creating the schema entry on first use.
func (f *Filter) Add(schema string, patterns ...string) *Filter {
	if f.patterns == nil {
		f.patterns = make(map[string][]string)
	}
	if _, ok := f.patterns[schema]; !ok {
		f.schemas = append(f.schemas, schema)
		f.patterns[schema] = nil
	}
	f.patterns[schema] = append(f.patterns[schema], patterns...)
	return f
}

// AddTable appends the exact-match pattern for table to schema.
func (f *Filter) AddTable(schema, table string) *Filter {
	return f.Add(schema, TablePattern(table))
}

// Schemas returns schema names in insertion order.
func (f *Filter) Schemas() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.schemas...)
}

// Patterns returns the patterns registered for schema.
func (f *Filter) Patterns(schema string) []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns[schema]...)
}

// Len returns the number of (schema, pattern) pairs.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, s := range f.schemas {
		n += len(f.patterns[s])
	}
	return n
}

// IsEmpty reports whether the filter holds no pattern at all.
func (f *Filter) IsEmpty() bool {
	return f.Len() == 0
}

// TablePattern builds the anchored pattern matching exactly one table name.
// Identifier quoting is stripped and regex metacharacters are escaped.
func TablePattern(name string) string {
	return "^" + regexp.QuoteMeta(Unquote(name)) + "$"
}

// Unquote strips SQL double-quote identifier quoting: `"Order ""A"""`
// becomes `Order "A"`. Unquoted identifiers are returned unchanged.
func Unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
	}
	return ident
}

// TableRef names a single table, optionally schema-qualified.
type TableRef struct {
	Schema string
	Name   string
}

// ParseTableRef splits "schema.table" on the first dot outside of double
// quotes and unquotes both parts. An unqualified name leaves Schema empty.
func ParseTableRef(s string) TableRef {
	inQuotes := false
	for i, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == '.' && !inQuotes:
			return TableRef{Schema: Unquote(s[:i]), Name: Unquote(s[i+1:])}
		}
	}
	return TableRef{Name: Unquote(s)}
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}
