package catalog

import "fmt"

// Index is an index of a table, possibly backing a named constraint.
type Index struct {
	Name    string
	Oid     uint32
	Primary bool
	Unique  bool
	// SQL is the CREATE INDEX statement, pg_get_indexdef.
	SQL string
	// ConstraintName and ConstraintDef are set only when the index backs a
	// primary key, unique or exclusion constraint.
	ConstraintName *string
	ConstraintDef  *string

	table *Table
	deps  []*ForeignKey
}

// Table returns the owning table.
func (idx *Index) Table() *Table {
	return idx.table
}

// Schema returns the owning table's schema.
func (idx *Index) Schema() *Schema {
	if idx.table == nil {
		return nil
	}
	return idx.table.schema
}

// AddDependency records a dependency stub: a foreign key outside the fetch
// scope that references this index. Order of discovery is kept. Full
// foreign keys are refused: they belong to their table.
func (idx *Index) AddDependency(fk *ForeignKey) error {
	if !fk.stub {
		return fmt.Errorf("foreign key %q is not a dependency stub and cannot depend on index %q", fk.Name, idx.Name)
	}
	idx.deps = append(idx.deps, fk)
	return nil
}

// Dependencies returns the foreign keys to drop before this index and to
// recreate after it.
func (idx *Index) Dependencies() []*ForeignKey {
	return idx.deps
}
