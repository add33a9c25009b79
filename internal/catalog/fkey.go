package catalog

// ForeignKey is a foreign-key constraint from Table to ForeignTable.
//
// Columns and ForeignColumns are parallel: Columns[i] references
// ForeignColumns[i]. A dependency stub (see NewDependencyStub) only carries
// name, oid, definition and its two end tables; its column lists and rules
// are left empty.
type ForeignKey struct {
	Name string
	Oid  uint32
	// Definition is pg_get_constraintdef output, replayable verbatim.
	Definition string

	Table          *Table
	ForeignTable   *Table
	Columns        []string
	ForeignColumns []string

	UpdateRule        Action
	DeleteRule        Action
	MatchRule         Match
	Deferrable        bool
	InitiallyDeferred bool

	stub bool
}

// NewDependencyStub builds the minimal foreign key recorded on an index's
// dependency list. local and foreign are normally stub tables.
func NewDependencyStub(name string, oid uint32, definition string, local, foreign *Table) *ForeignKey {
	return &ForeignKey{
		Name:         name,
		Oid:          oid,
		Definition:   definition,
		Table:        local,
		ForeignTable: foreign,
		stub:         true,
	}
}

// IsStub reports whether fk is a dependency stub.
func (fk *ForeignKey) IsStub() bool {
	return fk.stub
}
