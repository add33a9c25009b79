package fetch

import (
	"context"
)

// ListSchemas returns the user schemas of the database, sorted by name.
// System schemas (pg_* and information_schema) are left out.
func (f *Fetcher) ListSchemas(ctx context.Context) ([]string, error) {
	sql, err := render("schemas.sql", nil)
	if err != nil {
		return nil, err
	}
	rows, err := f.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, scanErr(err, "schema")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TableOids resolves each name through the search path and returns the oid
// of every relation that exists. Names that resolve to nothing are absent
// from the result. Names are parsed as SQL, so mixed case needs quotes.
func (f *Fetcher) TableOids(ctx context.Context, names []string) (map[string]uint32, error) {
	out := make(map[string]uint32, len(names))
	if len(names) == 0 {
		return out, nil
	}
	sql, err := render("table_oids.sql", nil)
	if err != nil {
		return nil, err
	}
	rows, err := f.db.Query(ctx, sql, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			oid  *uint32
		)
		if err := rows.Scan(&name, &oid); err != nil {
			return nil, scanErr(err, "table oid")
		}
		if oid != nil {
			out[name] = *oid
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
