package fetch

import (
	"context"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
)

// noForeignKeys stands in for an empty oid list so "<> all(...)" always
// has an operand. No constraint has oid -1.
var noForeignKeys = []int64{-1}

// fetchFKeyDependencies finds the foreign keys outside the catalog that
// reference an index of the catalog, and records each one as a dependency
// stub of that index. Those constraints must be dropped before the index
// and recreated after it.
func (r *run) fetchFKeyDependencies(ctx context.Context, cat *catalog.Catalog) error {
	var (
		indexOids []int64
		fkeyOids  []int64
		byOid     = make(map[uint32]*catalog.Index)
	)
	for _, tbl := range cat.Tables() {
		for _, idx := range tbl.Indexes() {
			indexOids = append(indexOids, int64(idx.Oid))
			byOid[idx.Oid] = idx
		}
		for _, fk := range tbl.ForeignKeys() {
			fkeyOids = append(fkeyOids, int64(fk.Oid))
		}
	}
	if len(indexOids) == 0 {
		return nil
	}
	if len(fkeyOids) == 0 {
		fkeyOids = noForeignKeys
	}

	sql, err := render("fkey_deps.sql", nil)
	if err != nil {
		return err
	}
	rows, err := r.db.Query(ctx, sql, indexOids, fkeyOids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName, fschemaName, ftableName string
			oid, indexOid                                  uint32
			name, definition                               string
		)
		if err := rows.Scan(
			&schemaName, &tableName, &fschemaName, &ftableName,
			&oid, &name, &definition, &indexOid,
		); err != nil {
			return scanErr(err, "foreign key dependency")
		}

		idx, ok := byOid[indexOid]
		if !ok {
			return errs.Newf(errs.ErrKindContractViolation,
				"foreign key %q depends on index oid %d, which is not in the catalog", name, indexOid)
		}
		stub := catalog.NewDependencyStub(name, oid, definition,
			catalog.NewStubTable(schemaName, tableName),
			catalog.NewStubTable(fschemaName, ftableName))
		if err := idx.AddDependency(stub); err != nil {
			return errs.Wrap(errs.ErrKindContractViolation, "attach foreign key dependency", err)
		}
	}
	return rows.Err()
}
