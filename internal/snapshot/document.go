// Package snapshot serialises a fetched catalog to YAML and rebuilds a
// catalog from it, so a later fetch can mirror a database that is no
// longer reachable (Options.Source).
package snapshot

import (
	"io"
	"time"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Version is the document format written by Encode.
const Version = 1

// Document is the YAML form of a catalog. Dependency stubs are kept on
// their index; their end tables are recorded by name only.
type Document struct {
	Version   int         `yaml:"version" json:"version"`
	Database  string      `yaml:"database" json:"database"`
	FetchedAt time.Time   `yaml:"fetched_at" json:"fetched_at"`
	Schemas   []SchemaDoc `yaml:"schemas" json:"schemas"`
}

type SchemaDoc struct {
	Name   string     `yaml:"name" json:"name"`
	Target string     `yaml:"target,omitempty" json:"target,omitempty"`
	Tables []TableDoc `yaml:"tables,omitempty" json:"tables,omitempty"`
	Views  []TableDoc `yaml:"views,omitempty" json:"views,omitempty"`
}

type TableDoc struct {
	Name        string      `yaml:"name" json:"name"`
	Oid         uint32      `yaml:"oid" json:"oid"`
	Kind        string      `yaml:"kind" json:"kind"`
	Columns     []ColumnDoc `yaml:"columns" json:"columns"`
	Indexes     []IndexDoc  `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	ForeignKeys []FKeyDoc   `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
}

type ColumnDoc struct {
	Name     string  `yaml:"name" json:"name"`
	Type     string  `yaml:"type" json:"type"`
	TypeMod  int32   `yaml:"typmod" json:"typmod"`
	Nullable bool    `yaml:"nullable" json:"nullable"`
	Default  *string `yaml:"default,omitempty" json:"default,omitempty"`
}

type IndexDoc struct {
	Name           string   `yaml:"name" json:"name"`
	Oid            uint32   `yaml:"oid" json:"oid"`
	Primary        bool     `yaml:"primary,omitempty" json:"primary,omitempty"`
	Unique         bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
	SQL            string   `yaml:"sql" json:"sql"`
	ConstraintName *string  `yaml:"constraint_name,omitempty" json:"constraint_name,omitempty"`
	ConstraintDef  *string  `yaml:"constraint_def,omitempty" json:"constraint_def,omitempty"`
	Dependencies   []DepDoc `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

type FKeyDoc struct {
	Name              string   `yaml:"name" json:"name"`
	Oid               uint32   `yaml:"oid" json:"oid"`
	Definition        string   `yaml:"definition" json:"definition"`
	ForeignSchema     string   `yaml:"foreign_schema" json:"foreign_schema"`
	ForeignTable      string   `yaml:"foreign_table" json:"foreign_table"`
	Columns           []string `yaml:"columns" json:"columns"`
	ForeignColumns    []string `yaml:"foreign_columns" json:"foreign_columns"`
	OnUpdate          string   `yaml:"on_update" json:"on_update"`
	OnDelete          string   `yaml:"on_delete" json:"on_delete"`
	Match             string   `yaml:"match" json:"match"`
	Deferrable        bool     `yaml:"deferrable,omitempty" json:"deferrable,omitempty"`
	InitiallyDeferred bool     `yaml:"initially_deferred,omitempty" json:"initially_deferred,omitempty"`
}

// DepDoc is a dependency stub: a foreign key outside the catalog that
// references the index it is listed under.
type DepDoc struct {
	Name          string `yaml:"name" json:"name"`
	Oid           uint32 `yaml:"oid" json:"oid"`
	Definition    string `yaml:"definition" json:"definition"`
	Schema        string `yaml:"schema" json:"schema"`
	Table         string `yaml:"table" json:"table"`
	ForeignSchema string `yaml:"foreign_schema" json:"foreign_schema"`
	ForeignTable  string `yaml:"foreign_table" json:"foreign_table"`
}

// FromCatalog captures cat as it is now.
func FromCatalog(cat *catalog.Catalog, fetchedAt time.Time) *Document {
	doc := &Document{Version: Version, Database: cat.Name, FetchedAt: fetchedAt.UTC()}
	for _, s := range cat.Schemas() {
		sd := SchemaDoc{Name: s.Name, Target: s.TargetName}
		for _, t := range s.Tables() {
			sd.Tables = append(sd.Tables, NewTableDoc(t))
		}
		for _, v := range s.Views() {
			sd.Views = append(sd.Views, NewTableDoc(v))
		}
		doc.Schemas = append(doc.Schemas, sd)
	}
	return doc
}

// NewTableDoc captures one relation with its columns, indexes and keys.
func NewTableDoc(t *catalog.Table) TableDoc {
	td := TableDoc{Name: t.Name, Oid: t.Oid, Kind: string(t.Kind)}
	for _, c := range t.Columns() {
		td.Columns = append(td.Columns, ColumnDoc{
			Name: c.Name, Type: c.TypeName, TypeMod: c.TypeMod, Nullable: c.Nullable, Default: c.Default,
		})
	}
	for _, idx := range t.Indexes() {
		id := IndexDoc{
			Name: idx.Name, Oid: idx.Oid, Primary: idx.Primary, Unique: idx.Unique, SQL: idx.SQL,
			ConstraintName: idx.ConstraintName, ConstraintDef: idx.ConstraintDef,
		}
		for _, dep := range idx.Dependencies() {
			id.Dependencies = append(id.Dependencies, DepDoc{
				Name:          dep.Name,
				Oid:           dep.Oid,
				Definition:    dep.Definition,
				Schema:        dep.Table.Schema().Name,
				Table:         dep.Table.Name,
				ForeignSchema: dep.ForeignTable.Schema().Name,
				ForeignTable:  dep.ForeignTable.Name,
			})
		}
		td.Indexes = append(td.Indexes, id)
	}
	for _, fk := range t.ForeignKeys() {
		td.ForeignKeys = append(td.ForeignKeys, FKeyDoc{
			Name:              fk.Name,
			Oid:               fk.Oid,
			Definition:        fk.Definition,
			ForeignSchema:     fk.ForeignTable.Schema().Name,
			ForeignTable:      fk.ForeignTable.Name,
			Columns:           fk.Columns,
			ForeignColumns:    fk.ForeignColumns,
			OnUpdate:          string(fk.UpdateRule),
			OnDelete:          string(fk.DeleteRule),
			Match:             string(fk.MatchRule),
			Deferrable:        fk.Deferrable,
			InitiallyDeferred: fk.InitiallyDeferred,
		})
	}
	return td
}

// Catalog rebuilds the catalog the document was taken from. Foreign keys
// are attached once every table exists, so forward references resolve.
func (d *Document) Catalog() (*catalog.Catalog, error) {
	cat := catalog.New(d.Database)

	for _, sd := range d.Schemas {
		s := cat.FindOrCreateSchema(sd.Name)
		s.TargetName = sd.Target
		for _, td := range append(append([]TableDoc{}, sd.Tables...), sd.Views...) {
			if err := addTable(s, td); err != nil {
				return nil, err
			}
		}
	}

	for _, sd := range d.Schemas {
		for _, td := range sd.Tables {
			t, ok := cat.Table(sd.Name, td.Name)
			if !ok {
				return nil, errs.Newf(errs.ErrKindInvalidInput, "snapshot: %s.%s is listed as a table but is a view", sd.Name, td.Name)
			}
			for _, fd := range td.ForeignKeys {
				if err := addForeignKey(cat, t, fd); err != nil {
					return nil, err
				}
			}
		}
	}
	return cat, nil
}

func addTable(s *catalog.Schema, td TableDoc) error {
	kind, err := catalog.ParseRelKind(td.Kind)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "snapshot: table "+td.Name, err)
	}
	t := s.FindOrCreateTable(td.Name, td.Oid, kind)
	for _, cd := range td.Columns {
		t.AddColumn(&catalog.Column{
			Name: cd.Name, TypeName: cd.Type, TypeMod: cd.TypeMod, Nullable: cd.Nullable, Default: cd.Default,
		})
	}
	for _, id := range td.Indexes {
		idx := &catalog.Index{
			Name: id.Name, Oid: id.Oid, Primary: id.Primary, Unique: id.Unique, SQL: id.SQL,
			ConstraintName: id.ConstraintName, ConstraintDef: id.ConstraintDef,
		}
		t.PutIndex(idx)
		for _, dd := range id.Dependencies {
			stub := catalog.NewDependencyStub(dd.Name, dd.Oid, dd.Definition,
				catalog.NewStubTable(dd.Schema, dd.Table),
				catalog.NewStubTable(dd.ForeignSchema, dd.ForeignTable))
			if err := idx.AddDependency(stub); err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, "snapshot: index "+id.Name, err)
			}
		}
	}
	return nil
}

func addForeignKey(cat *catalog.Catalog, t *catalog.Table, fd FKeyDoc) error {
	foreign, ok := cat.Table(fd.ForeignSchema, fd.ForeignTable)
	if !ok {
		return errs.Newf(errs.ErrKindInvalidInput, "snapshot: foreign key %q references unknown table %s.%s",
			fd.Name, fd.ForeignSchema, fd.ForeignTable)
	}
	upd, err := catalog.ParseAction(fd.OnUpdate)
	if err != nil {
		return errs.Annotate(err, "snapshot: foreign key "+fd.Name)
	}
	del, err := catalog.ParseAction(fd.OnDelete)
	if err != nil {
		return errs.Annotate(err, "snapshot: foreign key "+fd.Name)
	}
	match, err := catalog.ParseMatch(fd.Match)
	if err != nil {
		return errs.Annotate(err, "snapshot: foreign key "+fd.Name)
	}
	fk := &catalog.ForeignKey{
		Name:              fd.Name,
		Oid:               fd.Oid,
		Definition:        fd.Definition,
		ForeignTable:      foreign,
		Columns:           fd.Columns,
		ForeignColumns:    fd.ForeignColumns,
		UpdateRule:        upd,
		DeleteRule:        del,
		MatchRule:         match,
		Deferrable:        fd.Deferrable,
		InitiallyDeferred: fd.InitiallyDeferred,
	}
	if err := t.PutForeignKey(fk); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "snapshot: foreign key "+fd.Name, err)
	}
	return nil
}

// Encode writes doc as YAML.
func Encode(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "encode snapshot", err)
	}
	return enc.Close()
}

// Decode reads a document written by Encode.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "decode snapshot", err)
	}
	if doc.Version != Version {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported snapshot version %d", doc.Version)
	}
	return &doc, nil
}
