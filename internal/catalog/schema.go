package catalog

// Schema owns the tables and views of one namespace. Tables and views share
// the name space of the schema's relations but are listed separately.
type Schema struct {
	Name string

	// TargetName, when set, is the schema this one maps to on the target
	// database. It is recorded by callers that rename schemas.
	TargetName string

	catalog   *Catalog
	stub      bool
	tables    []*Table
	views     []*Table
	relByName map[string]*Table
}

func newSchema(c *Catalog, name string) *Schema {
	return &Schema{Name: name, catalog: c, relByName: make(map[string]*Table)}
}

// Catalog returns the owning catalog; nil for a stub schema.
func (s *Schema) Catalog() *Catalog {
	return s.catalog
}

// IsStub reports whether s only exists to name the far side of a
// dependency foreign key.
func (s *Schema) IsStub() bool {
	return s.stub
}

// Target returns TargetName when set, else Name.
func (s *Schema) Target() string {
	if s.TargetName != "" {
		return s.TargetName
	}
	return s.Name
}

// Tables returns the schema's tables in creation order.
func (s *Schema) Tables() []*Table {
	return s.tables
}

// Views returns the schema's views in creation order.
func (s *Schema) Views() []*Table {
	return s.views
}

// Table looks up a table by name; views are not returned.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.relByName[name]
	if !ok || t.IsView() {
		return nil, false
	}
	return t, true
}

// View looks up a view by name.
func (s *Schema) View(name string) (*Table, bool) {
	t, ok := s.relByName[name]
	if !ok || !t.IsView() {
		return nil, false
	}
	return t, true
}

// Relation looks up a table or view by name.
func (s *Schema) Relation(name string) (*Table, bool) {
	t, ok := s.relByName[name]
	return t, ok
}

// FindOrCreateTable returns the relation called name, creating a table of
// the given kind and oid when absent. A view kind lands in the view list.
// An existing relation is returned unchanged whatever kind is asked for.
func (s *Schema) FindOrCreateTable(name string, oid uint32, kind RelKind) *Table {
	if t, ok := s.relByName[name]; ok {
		return t
	}
	t := &Table{Name: name, Oid: oid, Kind: kind, schema: s}
	t.init()
	if kind.IsView() {
		s.views = append(s.views, t)
	} else {
		s.tables = append(s.tables, t)
	}
	s.relByName[name] = t
	return t
}
