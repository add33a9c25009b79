package fetch

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filter"
)

//go:embed queries/*.sql
var queryFS embed.FS

var queries = template.Must(template.ParseFS(queryFS, "queries/*.sql"))

// Column names the compiled filters test, per side of a join.
const (
	schemaCol        = "n.nspname"
	tableCol         = "c.relname"
	foreignSchemaCol = "nf.nspname"
	foreignTableCol  = "cf.relname"
)

// scopeData feeds the columns and indexes templates.
type scopeData struct {
	RelKinds  string
	Including filter.Clause
	Excluding filter.Clause
}

// fkeyData feeds the fkeys template: both ends of a constraint are filtered
// independently.
type fkeyData struct {
	RelKinds         string
	Including        filter.Clause
	Excluding        filter.Clause
	ForeignIncluding filter.Clause
	ForeignExcluding filter.Clause
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := queries.ExecuteTemplate(&sb, name, data); err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("render %s", name), err)
	}
	return sb.String(), nil
}

// relKindList renders kinds as a SQL literal list: 'r', 'p'.
func relKindList(kinds []catalog.RelKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = "'" + strings.ReplaceAll(string(k), "'", "''") + "'"
	}
	return strings.Join(parts, ", ")
}

// splitIdentList splits a comma-joined list of quote_ident output into
// unquoted names. Commas inside double quotes are kept.
func splitIdentList(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out      []string
		start    int
		inQuotes bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, filter.Unquote(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, filter.Unquote(s[start:]))
}
