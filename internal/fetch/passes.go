package fetch

import (
	"context"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filter"
)

// fetchColumns creates schemas and relations on first reference and
// appends columns in attnum order.
func (r *run) fetchColumns(ctx context.Context, cat *catalog.Catalog, s scope) error {
	sql, err := render("columns.sql", s.data())
	if err != nil {
		return err
	}
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName, kind string
			oid                         uint32
			col                         catalog.Column
		)
		if err := rows.Scan(
			&schemaName, &tableName, &oid, &kind,
			&col.Name, &col.TypeName, &col.TypeMod, &col.Nullable, &col.Default,
		); err != nil {
			return scanErr(err, "column")
		}
		tbl := cat.FindOrCreateSchema(schemaName).FindOrCreateTable(tableName, oid, catalog.RelKind(kind))
		tbl.AddColumn(&col)
	}
	return rows.Err()
}

// fetchIndexes attaches every index to its relation. The relation must
// exist already: the indexes query is scoped like the columns query.
func (r *run) fetchIndexes(ctx context.Context, cat *catalog.Catalog, s scope) error {
	sql, err := render("indexes.sql", s.data())
	if err != nil {
		return err
	}
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName string
			idx                   catalog.Index
		)
		if err := rows.Scan(
			&schemaName, &tableName, &idx.Name, &idx.Oid,
			&idx.Primary, &idx.Unique, &idx.SQL,
			&idx.ConstraintName, &idx.ConstraintDef,
		); err != nil {
			return scanErr(err, "index")
		}

		tbl, ok := lookupRelation(cat, schemaName, tableName)
		if !ok {
			return errs.Newf(errs.ErrKindContractViolation,
				"index %q belongs to %s.%s, which the columns pass did not return", idx.Name, schemaName, tableName)
		}
		tbl.PutIndex(&idx)
	}
	return rows.Err()
}

// fetchForeignKeys attaches the foreign keys whose both ends are in the
// catalog. A constraint with an end out of scope is skipped with a notice.
func (r *run) fetchForeignKeys(ctx context.Context, cat *catalog.Catalog, s scope) error {
	sql, err := render("fkeys.sql", fkeyData{
		RelKinds:         s.relKinds,
		Including:        filter.Predicate(s.including, schemaCol, tableCol, false),
		Excluding:        filter.Predicate(s.excluding, schemaCol, tableCol, true),
		ForeignIncluding: filter.Predicate(s.including, foreignSchemaCol, foreignTableCol, false),
		ForeignExcluding: filter.Predicate(s.excluding, foreignSchemaCol, foreignTableCol, true),
	})
	if err != nil {
		return err
	}
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName, fschemaName, ftableName string
			updCode, delCode, matchCode                    string
			cols, fcols                                    *string
			fk                                             catalog.ForeignKey
		)
		if err := rows.Scan(
			&schemaName, &tableName, &fschemaName, &ftableName,
			&fk.Oid, &fk.Name, &fk.Definition,
			&updCode, &delCode, &matchCode,
			&fk.Deferrable, &fk.InitiallyDeferred,
			&cols, &fcols,
		); err != nil {
			return scanErr(err, "foreign key")
		}

		if fk.UpdateRule, err = catalog.DecodeAction(updCode); err != nil {
			return errs.Annotate(err, "foreign key "+fk.Name)
		}
		if fk.DeleteRule, err = catalog.DecodeAction(delCode); err != nil {
			return errs.Annotate(err, "foreign key "+fk.Name)
		}
		if fk.MatchRule, err = catalog.DecodeMatch(matchCode); err != nil {
			return errs.Annotate(err, "foreign key "+fk.Name)
		}

		local, ok := cat.Table(schemaName, tableName)
		if !ok {
			r.log.Noticef("skipping foreign key %q: table %s.%s is not in the catalog", fk.Name, schemaName, tableName)
			continue
		}
		foreign, ok := cat.Table(fschemaName, ftableName)
		if !ok {
			r.log.Noticef("skipping foreign key %q: referenced table %s.%s is not in the catalog", fk.Name, fschemaName, ftableName)
			continue
		}

		fk.ForeignTable = foreign
		if cols != nil {
			fk.Columns = splitIdentList(*cols)
		}
		if fcols != nil {
			fk.ForeignColumns = splitIdentList(*fcols)
		}
		if err := local.PutForeignKey(&fk); err != nil {
			return errs.Wrap(errs.ErrKindContractViolation, "attach foreign key", err)
		}
	}
	return rows.Err()
}

func lookupRelation(cat *catalog.Catalog, schema, name string) (*catalog.Table, bool) {
	s, ok := cat.Schema(schema)
	if !ok {
		return nil, false
	}
	return s.Relation(name)
}
