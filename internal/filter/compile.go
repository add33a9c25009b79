package filter

import (
	"fmt"
	"strings"
)

// Clause is a compiled filter as consumed by the query templates.
// Present says whether the template emits the clause at all; Text is the
// boolean expression. An absent clause is never rendered as a tautology.
type Clause struct {
	Present bool
	Text    string
}

// Compile returns one predicate per (schema, pattern) pair, in filter order.
//
// Including terms read
//
//	schemaCol = 'schema' and tableCol ~ 'pattern'
//
// and excluding terms (negate) are the negation of that same test:
//
//	not (schemaCol = 'schema' and tableCol ~ 'pattern')
//
// An empty filter compiles to no predicate.
func Compile(f *Filter, schemaCol, tableCol string, negate bool) []string {
	if f.IsEmpty() {
		return nil
	}
	preds := make([]string, 0, f.Len())
	for _, schema := range f.schemas {
		for _, pattern := range f.patterns[schema] {
			term := fmt.Sprintf("%s = %s and %s ~ %s",
				schemaCol, quoteLiteral(schema), tableCol, quoteLiteral(pattern))
			if negate {
				term = "not (" + term + ")"
			}
			preds = append(preds, term)
		}
	}
	return preds
}

// Predicate compiles f into a single Clause. Including terms are joined with
// "or" (a relation passes when any pattern matches); excluding terms with
// "and" (a relation passes only when no pattern matches).
func Predicate(f *Filter, schemaCol, tableCol string, negate bool) Clause {
	preds := Compile(f, schemaCol, tableCol, negate)
	if len(preds) == 0 {
		return Clause{}
	}
	sep := " or "
	if negate {
		sep = " and "
	}
	for i, p := range preds {
		preds[i] = "(" + p + ")"
	}
	return Clause{Present: true, Text: strings.Join(preds, sep)}
}

// quoteLiteral renders s as a standard-conforming SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
