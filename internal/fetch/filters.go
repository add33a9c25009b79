package fetch

import (
	"context"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filter"
)

// filterForTable builds {schema: [^name$]}. An unqualified name takes the
// schema it resolves to through the search path, or the current schema
// when it does not resolve at all.
func (r *run) filterForTable(ctx context.Context, ref filter.TableRef) (*filter.Filter, error) {
	if ref.Name == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty table name")
	}
	schema := ref.Schema
	if schema == "" {
		resolved, err := r.tableSchema(ctx, ref.Name)
		if err != nil {
			return nil, err
		}
		schema = resolved
	}
	return filter.New().AddTable(schema, ref.Name), nil
}

// filterForCatalog lists every table and view of source under its target
// schema. Relations whose schema carries no name at all fall back to the
// current schema of this database, looked up once.
func (r *run) filterForCatalog(ctx context.Context, source *catalog.Catalog) (*filter.Filter, error) {
	f := filter.New()
	for _, rel := range source.Relations() {
		schema := rel.Schema().Target()
		if schema == "" {
			def, err := r.defaultSchema(ctx)
			if err != nil {
				return nil, err
			}
			schema = def
		}
		f.AddTable(schema, rel.Name)
	}
	return f, nil
}

func (r *run) tableSchema(ctx context.Context, name string) (string, error) {
	sql, err := render("table_schema.sql", nil)
	if err != nil {
		return "", err
	}
	var schema string
	err = r.db.QueryRow(ctx, sql, name).Scan(&schema)
	switch {
	case err == nil:
		return schema, nil
	case errs.IsNotFound(err):
		return r.defaultSchema(ctx)
	default:
		return "", errs.Annotate(err, "resolve schema of "+name)
	}
}

// defaultSchema returns current_schema(), cached for the rest of the run.
func (r *run) defaultSchema(ctx context.Context) (string, error) {
	if r.currentSchema != nil {
		return *r.currentSchema, nil
	}
	sql, err := render("current_schema.sql", nil)
	if err != nil {
		return "", err
	}
	var schema *string
	if err := r.db.QueryRow(ctx, sql).Scan(&schema); err != nil {
		return "", errs.Annotate(err, "query current schema")
	}
	if schema == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "search_path selects no existing schema")
	}
	r.currentSchema = schema
	return *schema, nil
}
