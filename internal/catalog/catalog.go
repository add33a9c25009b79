// Package catalog is the in-memory model of a database structure:
// Catalog → Schema → {Table, View} → {Column, Index, ForeignKey}.
//
// Every collection keeps its insertion order and is indexed by name, and
// where the source assigns one, by oid. The ordered slice and its maps are
// always updated together.
package catalog

// Catalog is the root of the object graph for one database.
type Catalog struct {
	Name string

	schemas      []*Schema
	schemaByName map[string]*Schema
}

// New returns an empty catalog for database name.
func New(name string) *Catalog {
	return &Catalog{Name: name, schemaByName: make(map[string]*Schema)}
}

// Schemas returns the schemas in creation order.
func (c *Catalog) Schemas() []*Schema {
	return c.schemas
}

// Schema looks up a schema by name.
func (c *Catalog) Schema(name string) (*Schema, bool) {
	s, ok := c.schemaByName[name]
	return s, ok
}

// FindOrCreateSchema returns the schema called name, creating it first
// if the catalog does not hold one yet.
func (c *Catalog) FindOrCreateSchema(name string) *Schema {
	if s, ok := c.schemaByName[name]; ok {
		return s
	}
	s := newSchema(c, name)
	c.schemas = append(c.schemas, s)
	c.schemaByName[name] = s
	return s
}

// Table looks up a table (not a view) by schema and name.
func (c *Catalog) Table(schema, name string) (*Table, bool) {
	s, ok := c.schemaByName[schema]
	if !ok {
		return nil, false
	}
	return s.Table(name)
}

// Tables returns every table of every schema, in catalog order.
func (c *Catalog) Tables() []*Table {
	var out []*Table
	for _, s := range c.schemas {
		out = append(out, s.tables...)
	}
	return out
}

// Views returns every view of every schema, in catalog order.
func (c *Catalog) Views() []*Table {
	var out []*Table
	for _, s := range c.schemas {
		out = append(out, s.views...)
	}
	return out
}

// Relations returns tables then views of every schema, schema by schema.
func (c *Catalog) Relations() []*Table {
	var out []*Table
	for _, s := range c.schemas {
		out = append(out, s.tables...)
		out = append(out, s.views...)
	}
	return out
}

// Indexes returns the indexes of every table, in catalog order. These are
// the indexes a load drops beforehand and recreates afterwards.
func (c *Catalog) Indexes() []*Index {
	var out []*Index
	for _, t := range c.Tables() {
		out = append(out, t.indexes...)
	}
	return out
}

// Counts summarises a catalog.
type Counts struct {
	Schemas               int `json:"schemas"`
	Tables                int `json:"tables"`
	Views                 int `json:"views"`
	Columns               int `json:"columns"`
	Indexes               int `json:"indexes"`
	ForeignKeys           int `json:"foreign_keys"`
	DependencyForeignKeys int `json:"dependency_foreign_keys"`
}

// Counts walks the catalog once and returns its object counts.
func (c *Catalog) Counts() Counts {
	n := Counts{Schemas: len(c.schemas)}
	for _, s := range c.schemas {
		n.Views += len(s.views)
		for _, v := range s.views {
			n.Columns += len(v.columns)
		}
		n.Tables += len(s.tables)
		for _, t := range s.tables {
			n.Columns += len(t.columns)
			n.Indexes += len(t.indexes)
			n.ForeignKeys += len(t.fkeys)
			for _, idx := range t.indexes {
				n.DependencyForeignKeys += len(idx.deps)
			}
		}
	}
	return n
}
