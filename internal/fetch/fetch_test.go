package fetch

import (
	"bytes"
	"context"
	"testing"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filter"
	"github.com/koustreak/pgcatalog/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func idCol(name string) fakeCol {
	return fakeCol{name: name, typ: "int4", typmod: -1}
}

// shopDB is a small database: public.customers <- public.orders, a copy
// of orders in schema archive, and a view over orders.
func shopDB() *fakeDB {
	return &fakeDB{
		rels: []fakeRel{
			{schema: "archive", name: "orders", oid: 300, kind: "r", cols: []fakeCol{idCol("id")}},
			{schema: "public", name: "customers", oid: 100, kind: "r", cols: []fakeCol{
				idCol("id"),
				{name: "name", typ: "varchar", typmod: 68, nullable: true, def: strp("'anonymous'::character varying")},
			}},
			{schema: "public", name: "order_totals", oid: 150, kind: "v", cols: []fakeCol{idCol("customer_id")}},
			{schema: "public", name: "orders", oid: 200, kind: "r", cols: []fakeCol{
				idCol("id"), idCol("customer_id"),
			}},
		},
		idxs: []fakeIndex{
			{schema: "public", table: "customers", name: "customers_pkey", oid: 10, primary: true, unique: true,
				sql:     "CREATE UNIQUE INDEX customers_pkey ON public.customers USING btree (id)",
				conname: strp("customers_pkey"), condef: strp("PRIMARY KEY (id)")},
			{schema: "public", table: "orders", name: "orders_pkey", oid: 11, primary: true, unique: true,
				sql:     "CREATE UNIQUE INDEX orders_pkey ON public.orders USING btree (id)",
				conname: strp("orders_pkey"), condef: strp("PRIMARY KEY (id)")},
		},
		fkeys: []fakeFKey{
			{schema: "public", table: "orders", fschema: "public", ftable: "customers",
				oid: 20, name: "orders_customer_id_fkey", deferrable: true,
				def: "FOREIGN KEY (customer_id) REFERENCES public.customers(id) ON DELETE CASCADE DEFERRABLE",
				upd: "a", del: "c", match: "s", cols: "customer_id", fcols: "id", indexOid: 10},
		},
		search: map[string]string{"orders": "public", "customers": "public"},
		oids:   map[string]uint32{"orders": 200, "public.customers": 100},
		curr:   strp("public"),
	}
}

func TestFetch_WholeDatabase(t *testing.T) {
	db := shopDB()
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	require.NoError(t, err)

	assert.Equal(t, "shop", cat.Name)
	n := cat.Counts()
	assert.Equal(t, 2, n.Schemas)
	assert.Equal(t, 3, n.Tables)
	assert.Equal(t, 0, n.Views, "views are not fetched by default")
	assert.Equal(t, 2, n.Indexes)
	assert.Equal(t, 1, n.ForeignKeys)
	assert.Equal(t, 0, n.DependencyForeignKeys)

	customers, ok := cat.Table("public", "customers")
	require.True(t, ok)
	assert.Equal(t, uint32(100), customers.Oid)
	require.Len(t, customers.Columns(), 2)
	name := customers.Columns()[1]
	assert.Equal(t, "name", name.Name)
	assert.Equal(t, "varchar", name.TypeName)
	assert.Equal(t, int32(68), name.TypeMod)
	assert.True(t, name.Nullable)
	require.NotNil(t, name.Default)
	assert.Equal(t, "'anonymous'::character varying", *name.Default)

	pkey, ok := customers.IndexByOid(10)
	require.True(t, ok)
	assert.Equal(t, "customers_pkey", pkey.Name)
	assert.True(t, pkey.Primary)
	require.NotNil(t, pkey.ConstraintDef)
	assert.Equal(t, "PRIMARY KEY (id)", *pkey.ConstraintDef)

	orders, _ := cat.Table("public", "orders")
	fk, ok := orders.ForeignKey("orders_customer_id_fkey")
	require.True(t, ok)
	assert.Same(t, orders, fk.Table)
	assert.Same(t, customers, fk.ForeignTable)
	assert.Equal(t, []string{"customer_id"}, fk.Columns)
	assert.Equal(t, []string{"id"}, fk.ForeignColumns)
	assert.Equal(t, catalog.NoAction, fk.UpdateRule)
	assert.Equal(t, catalog.Cascade, fk.DeleteRule)
	assert.Equal(t, catalog.MatchSimple, fk.MatchRule)
	assert.True(t, fk.Deferrable)
	assert.False(t, fk.InitiallyDeferred)
	assert.False(t, fk.IsStub())

	// The foreign key already in the catalog is excluded from pass 4.
	deps := db.called("fkey-deps")
	require.Len(t, deps, 1)
	assert.ElementsMatch(t, []int64{10, 11}, deps[0].args[0])
	assert.Equal(t, []int64{20}, deps[0].args[1])
}

func TestFetch_PassOrder(t *testing.T) {
	db := shopDB()
	_, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	require.NoError(t, err)

	var names []string
	for _, c := range db.calls {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"columns", "indexes", "fkeys", "fkey-deps"}, names)
}

func TestFetch_IncludingLimitsScope(t *testing.T) {
	db := shopDB()
	inc := filter.New().Add("public", "^orders$")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Including: inc})
	require.NoError(t, err)

	rels := cat.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "public.orders", rels[0].QualifiedName())
	assert.Contains(t, db.called("columns")[0].sql,
		"((n.nspname = 'public' and c.relname ~ '^orders$'))")

	// The referenced table is out of scope: the query filters the key out.
	orders := rels[0]
	assert.Empty(t, orders.ForeignKeys())
	assert.Contains(t, db.called("fkeys")[0].sql,
		"((nf.nspname = 'public' and cf.relname ~ '^orders$'))")
}

func TestFetch_ExcludingAcrossSchemas(t *testing.T) {
	db := shopDB()
	exc := filter.New().Add("public", "^orders$").Add("archive", "^orders$")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Excluding: exc})
	require.NoError(t, err)

	rels := cat.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "public.customers", rels[0].QualifiedName())
	assert.Contains(t, db.called("columns")[0].sql,
		"(not (n.nspname = 'public' and c.relname ~ '^orders$')) and (not (n.nspname = 'archive' and c.relname ~ '^orders$'))")
}

func TestFetch_NoFilterRendersNoClause(t *testing.T) {
	db := shopDB()
	_, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	require.NoError(t, err)

	sql := db.called("columns")[0].sql
	assert.NotContains(t, sql, "nspname =")
	assert.Contains(t, sql, "c.relkind in ('r', 'p')")
}

func TestFetch_DependencyStubs(t *testing.T) {
	db := shopDB()
	inc := filter.New().Add("public", "^customers$")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Including: inc})
	require.NoError(t, err)

	customers, ok := cat.Table("public", "customers")
	require.True(t, ok)
	assert.Empty(t, customers.ForeignKeys())

	pkey, _ := customers.Index("customers_pkey")
	deps := pkey.Dependencies()
	require.Len(t, deps, 1)
	dep := deps[0]
	assert.True(t, dep.IsStub())
	assert.Equal(t, "orders_customer_id_fkey", dep.Name)
	assert.Equal(t, uint32(20), dep.Oid)
	assert.Contains(t, dep.Definition, "REFERENCES public.customers(id)")
	assert.True(t, dep.Table.IsStub())
	assert.Equal(t, "public.orders", dep.Table.QualifiedName())
	assert.True(t, dep.ForeignTable.IsStub())
	assert.Equal(t, "public.customers", dep.ForeignTable.QualifiedName())
	assert.Empty(t, dep.Columns)

	// The stub ends never join the catalog.
	_, ok = cat.Table("public", "orders")
	assert.False(t, ok)
	assert.Equal(t, 1, cat.Counts().DependencyForeignKeys)

	call := db.called("fkey-deps")[0]
	assert.Equal(t, []int64{10}, call.args[0])
	assert.Equal(t, []int64{-1}, call.args[1], "empty fkey list is sent as a sentinel")
}

func TestFetch_NoIndexesSkipsDependencyPass(t *testing.T) {
	db := shopDB()
	inc := filter.New().Add("archive", ".*")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Including: inc})
	require.NoError(t, err)

	assert.Len(t, cat.Tables(), 1)
	assert.Empty(t, db.called("fkey-deps"))
}

func TestFetch_ForeignKeyToUnfetchedTableIsNoticed(t *testing.T) {
	db := shopDB()
	db.rels[1].kind = "p" // customers becomes partitioned

	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf})
	cat, err := New(db, log).Fetch(context.Background(), "shop", Options{
		RelKinds: []catalog.RelKind{catalog.RelKindTable},
	})
	require.NoError(t, err)

	orders, ok := cat.Table("public", "orders")
	require.True(t, ok)
	assert.Empty(t, orders.ForeignKeys())
	assert.Contains(t, buf.String(), `"severity":"notice"`)
	assert.Contains(t, buf.String(), "skipping foreign key")
	assert.Contains(t, buf.String(), "orders_customer_id_fkey")
}

func TestFetch_ForeignKeyToExcludedTableIsFilteredOut(t *testing.T) {
	db := shopDB()

	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf})
	exc := filter.New().Add("public", "^customers$")
	cat, err := New(db, log).Fetch(context.Background(), "shop", Options{Excluding: exc})
	require.NoError(t, err)

	orders, ok := cat.Table("public", "orders")
	require.True(t, ok)
	assert.Empty(t, orders.ForeignKeys())
	// The foreign side is filtered in SQL, so the row never reaches the
	// notice path.
	assert.Contains(t, db.called("fkeys")[0].sql,
		"(not (nf.nspname = 'public' and cf.relname ~ '^customers$'))")
	assert.NotContains(t, buf.String(), "skipping foreign key")
}

func TestFetch_ViewsWhenAsked(t *testing.T) {
	db := shopDB()
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{
		RelKinds: []catalog.RelKind{catalog.RelKindTable, catalog.RelKindView},
	})
	require.NoError(t, err)

	views := cat.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "order_totals", views[0].Name)
	assert.True(t, views[0].IsView())
	_, ok := cat.Table("public", "order_totals")
	assert.False(t, ok)
}

func TestFetch_SingleTable(t *testing.T) {
	db := shopDB()
	ref := filter.ParseTableRef("orders")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Table: &ref})
	require.NoError(t, err)

	rels := cat.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "public.orders", rels[0].QualifiedName())
	assert.Len(t, db.called("table-schema"), 1)
}

func TestFetch_SingleTableQualified(t *testing.T) {
	db := shopDB()
	ref := filter.ParseTableRef("archive.orders")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Table: &ref})
	require.NoError(t, err)

	rels := cat.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "archive.orders", rels[0].QualifiedName())
	assert.Empty(t, db.called("table-schema"))
}

func TestFetch_SingleTableNotFound(t *testing.T) {
	db := shopDB()
	ref := filter.ParseTableRef("invoices")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Table: &ref})

	assert.Nil(t, cat)
	assert.True(t, errs.IsAmbiguous(err))
	assert.Contains(t, err.Error(), `"invoices" not found`)
	// Unresolved names fall back to current_schema().
	assert.Len(t, db.called("current-schema"), 1)
}

func TestFetch_SingleTableMatchesMany(t *testing.T) {
	db := shopDB()
	ref := filter.ParseTableRef("orders")
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{
		Table:     &ref,
		Including: filter.New().Add("public", "^orders$").Add("archive", "^orders$"),
	})

	assert.Nil(t, cat)
	assert.True(t, errs.IsAmbiguous(err))
	assert.Contains(t, err.Error(), "matched 2 tables")
}

func TestFetch_EmptyTableName(t *testing.T) {
	ref := filter.TableRef{Schema: "public"}
	_, err := New(shopDB(), nil).Fetch(context.Background(), "shop", Options{Table: &ref})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestFetch_SourceCatalog(t *testing.T) {
	src := catalog.New("legacy")
	old := src.FindOrCreateSchema("legacy_public")
	old.TargetName = "public"
	old.FindOrCreateTable("orders", 9000, catalog.RelKindTable)
	src.FindOrCreateSchema("archive").FindOrCreateTable("orders", 9001, catalog.RelKindTable)

	db := shopDB()
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Source: src})
	require.NoError(t, err)

	var names []string
	for _, r := range cat.Relations() {
		names = append(names, r.QualifiedName())
	}
	assert.Equal(t, []string{"archive.orders", "public.orders"}, names)
	// Oids come from the fetched database, not the source.
	orders, _ := cat.Table("public", "orders")
	assert.Equal(t, uint32(200), orders.Oid)
}

func TestFetch_SourceViewsAreFetchedAsViews(t *testing.T) {
	src := catalog.New("legacy")
	public := src.FindOrCreateSchema("public")
	public.FindOrCreateTable("orders", 9000, catalog.RelKindTable)
	public.FindOrCreateTable("order_totals", 9001, catalog.RelKindView)

	db := shopDB()
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{Source: src})
	require.NoError(t, err)

	views := cat.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "public.order_totals", views[0].QualifiedName())
	require.Len(t, cat.Tables(), 1)
	assert.Contains(t, db.called("columns")[0].sql, "c.relkind in ('r', 'p', 'v')")
	assert.Equal(t, []catalog.RelKind{catalog.RelKindTable, catalog.RelKindPartitioned}, catalog.DefaultRelKinds)
}

func TestFetch_SourceKeepsExplicitRelKinds(t *testing.T) {
	src := catalog.New("legacy")
	src.FindOrCreateSchema("public").FindOrCreateTable("order_totals", 9001, catalog.RelKindView)

	db := shopDB()
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{
		Source:   src,
		RelKinds: []catalog.RelKind{catalog.RelKindTable},
	})
	require.NoError(t, err)
	assert.Empty(t, cat.Views())
	assert.Contains(t, db.called("columns")[0].sql, "c.relkind in ('r')")
}

func TestFetch_IncludingWinsOverSource(t *testing.T) {
	src := catalog.New("legacy")
	src.FindOrCreateSchema("archive").FindOrCreateTable("orders", 1, catalog.RelKindTable)

	cat, err := New(shopDB(), nil).Fetch(context.Background(), "shop", Options{
		Source:    src,
		Including: filter.New().Add("public", "^customers$"),
	})
	require.NoError(t, err)
	require.Len(t, cat.Relations(), 1)
	assert.Equal(t, "public.customers", cat.Relations()[0].QualifiedName())
}

func TestFetch_Idempotent(t *testing.T) {
	db := shopDB()
	f := New(db, nil)

	first, err := f.Fetch(context.Background(), "shop", Options{})
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), "shop", Options{})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Counts(), second.Counts())
	for i, r := range first.Relations() {
		assert.Equal(t, r.QualifiedName(), second.Relations()[i].QualifiedName())
	}
}

func TestFetch_UnknownRuleCode(t *testing.T) {
	db := shopDB()
	db.fkeys[0].del = "z"
	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{})

	assert.Nil(t, cat)
	assert.True(t, errs.IsContractViolation(err))
	assert.Contains(t, err.Error(), "orders_customer_id_fkey")
}

func TestFetch_IndexOfUnknownTable(t *testing.T) {
	db := shopDB()
	// A relation without columns never reaches the catalog.
	db.rels = append(db.rels, fakeRel{schema: "public", name: "empty", oid: 400, kind: "r"})
	db.idxs = append(db.idxs, fakeIndex{schema: "public", table: "empty", name: "empty_idx", oid: 12})

	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	assert.Nil(t, cat)
	assert.True(t, errs.IsContractViolation(err))
	assert.Contains(t, err.Error(), "fetch indexes")
}

func TestFetch_DependencyOnUnknownIndex(t *testing.T) {
	db := shopDB()
	db.extraDeps = []fakeFKey{
		{schema: "sales", table: "invoices", fschema: "public", ftable: "customers",
			oid: 30, name: "invoices_customer_id_fkey", indexOid: 99,
			def: "FOREIGN KEY (customer_id) REFERENCES public.customers(id)"},
	}

	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	assert.Nil(t, cat)
	assert.True(t, errs.IsContractViolation(err))
	assert.Contains(t, err.Error(), "fetch foreign key dependencies")
	assert.Contains(t, err.Error(), "invoices_customer_id_fkey")
}

func TestFetch_QueryErrorAborts(t *testing.T) {
	db := shopDB()
	db.failOn = map[string]error{"fkeys": errs.New(errs.ErrKindPermissionDenied, "permission denied for table pg_constraint")}

	cat, err := New(db, nil).Fetch(context.Background(), "shop", Options{})
	assert.Nil(t, cat)
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Contains(t, err.Error(), "fetch foreign keys")
	assert.Empty(t, db.called("fkey-deps"))
}

func TestFilterForCatalog_DefaultSchemaLookedUpOnce(t *testing.T) {
	src := catalog.New("legacy")
	s := src.FindOrCreateSchema("")
	s.FindOrCreateTable("a", 1, catalog.RelKindTable)
	s.FindOrCreateTable("b", 2, catalog.RelKindTable)

	db := shopDB()
	f, err := New(db, nil).FilterForCatalog(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, []string{"public"}, f.Schemas())
	assert.Equal(t, []string{"^a$", "^b$"}, f.Patterns("public"))
	assert.Len(t, db.called("current-schema"), 1)
}

func TestFilterForTable_NoCurrentSchema(t *testing.T) {
	db := shopDB()
	db.curr = nil
	_, err := New(db, nil).FilterForTable(context.Background(), filter.TableRef{Name: "nowhere"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestListSchemas(t *testing.T) {
	got, err := New(shopDB(), nil).ListSchemas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "public"}, got)
}

func TestTableOids(t *testing.T) {
	db := shopDB()
	got, err := New(db, nil).TableOids(context.Background(), []string{"orders", "public.customers", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"orders": 200, "public.customers": 100}, got)

	got, err = New(db, nil).TableOids(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, db.called("table-oids"), 1)
}

func TestSplitIdentList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"id", []string{"id"}},
		{"a,b", []string{"a", "b"}},
		{`"Order Id",b`, []string{"Order Id", "b"}},
		{`"x,y",z`, []string{"x,y", "z"}},
		{`"say ""hi"""`, []string{`say "hi"`}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitIdentList(tt.in))
		})
	}
}
