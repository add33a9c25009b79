package catalog

import "fmt"

// Column is one attribute of a relation, in catalog column order.
type Column struct {
	Name     string
	TypeName string
	// TypeMod is pg_attribute.atttypmod: precision/scale or length
	// encoding, -1 when the type takes none.
	TypeMod  int32
	Nullable bool
	Default  *string // nil when the column has no default expression
}

// Table is a table or a view. A stub table carries only its schema and
// name: it is the out-of-scope end of a dependency foreign key.
type Table struct {
	Name string
	Oid  uint32
	Kind RelKind

	schema *Schema
	stub   bool

	columns    []*Column
	colByName  map[string]*Column
	indexes    []*Index
	idxByName  map[string]*Index
	idxByOid   map[uint32]*Index
	fkeys      []*ForeignKey
	fkeyByName map[string]*ForeignKey
	fkeyByOid  map[uint32]*ForeignKey
}

func (t *Table) init() {
	t.colByName = make(map[string]*Column)
	t.idxByName = make(map[string]*Index)
	t.idxByOid = make(map[uint32]*Index)
	t.fkeyByName = make(map[string]*ForeignKey)
	t.fkeyByOid = make(map[uint32]*ForeignKey)
}

// NewStubTable builds a detached, name-only table inside a detached stub
// schema. Stubs never enter a Catalog's collections.
func NewStubTable(schema, name string) *Table {
	s := &Schema{Name: schema, stub: true, relByName: make(map[string]*Table)}
	t := &Table{Name: name, schema: s, stub: true}
	t.init()
	return t
}

// Schema returns the owning schema.
func (t *Table) Schema() *Schema {
	return t.schema
}

// IsStub reports whether t is a dependency stub.
func (t *Table) IsStub() bool {
	return t.stub
}

// IsView reports whether t was created from a view kind.
func (t *Table) IsView() bool {
	return t.Kind.IsView()
}

// QualifiedName returns "schema.name".
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.schema.Name, t.Name)
}

// --- columns ---

// AddColumn appends col; a second column with the same name replaces the
// first in place.
func (t *Table) AddColumn(col *Column) {
	if old, ok := t.colByName[col.Name]; ok {
		for i, c := range t.columns {
			if c == old {
				t.columns[i] = col
			}
		}
	} else {
		t.columns = append(t.columns, col)
	}
	t.colByName[col.Name] = col
}

// Columns returns the columns in catalog order.
func (t *Table) Columns() []*Column {
	return t.columns
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.colByName[name]
	return c, ok
}

// --- indexes ---

// PutIndex attaches idx to t, keyed by name. An index with the same name is
// overwritten in place and its oid dropped from the oid map.
func (t *Table) PutIndex(idx *Index) {
	idx.table = t
	if old, ok := t.idxByName[idx.Name]; ok {
		for i, x := range t.indexes {
			if x == old {
				t.indexes[i] = idx
			}
		}
		delete(t.idxByOid, old.Oid)
	} else {
		t.indexes = append(t.indexes, idx)
	}
	t.idxByName[idx.Name] = idx
	t.idxByOid[idx.Oid] = idx
}

// Indexes returns the indexes in discovery order.
func (t *Table) Indexes() []*Index {
	return t.indexes
}

// Index looks up an index by name.
func (t *Table) Index(name string) (*Index, bool) {
	idx, ok := t.idxByName[name]
	return idx, ok
}

// IndexByOid looks up an index by oid.
func (t *Table) IndexByOid(oid uint32) (*Index, bool) {
	idx, ok := t.idxByOid[oid]
	return idx, ok
}

// --- foreign keys ---

// PutForeignKey attaches fk to t's own foreign-key list, keyed by name with
// the same overwrite rule as PutIndex. Dependency stubs are rejected: they
// belong to an Index's dependency list.
func (t *Table) PutForeignKey(fk *ForeignKey) error {
	if fk.stub {
		return fmt.Errorf("foreign key %q is a dependency stub and cannot be owned by table %s", fk.Name, t.QualifiedName())
	}
	fk.Table = t
	if old, ok := t.fkeyByName[fk.Name]; ok {
		for i, x := range t.fkeys {
			if x == old {
				t.fkeys[i] = fk
			}
		}
		delete(t.fkeyByOid, old.Oid)
	} else {
		t.fkeys = append(t.fkeys, fk)
	}
	t.fkeyByName[fk.Name] = fk
	t.fkeyByOid[fk.Oid] = fk
	return nil
}

// ForeignKeys returns the table's own foreign keys in discovery order.
func (t *Table) ForeignKeys() []*ForeignKey {
	return t.fkeys
}

// ForeignKey looks up a foreign key by name.
func (t *Table) ForeignKey(name string) (*ForeignKey, bool) {
	fk, ok := t.fkeyByName[name]
	return fk, ok
}

// ForeignKeyByOid looks up a foreign key by constraint oid.
func (t *Table) ForeignKeyByOid(oid uint32) (*ForeignKey, bool) {
	fk, ok := t.fkeyByOid[oid]
	return fk, ok
}
