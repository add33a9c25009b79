// Package fetch builds a catalog.Catalog from a live PostgreSQL database.
//
// A fetch runs four passes, in this order, on one session:
//
//  1. columns: creates schemas and relations on first reference
//  2. indexes: attaches indexes to the relations of pass 1
//  3. fkeys: attaches foreign keys whose both ends are in scope
//  4. fkey dependencies: attaches to in-scope indexes the out-of-scope
//     foreign keys that reference them
//
// Later passes rely on the objects created by earlier ones. Any query error
// aborts the fetch; a catalog from a failed fetch is never returned.
package fetch

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/database"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filter"
	"github.com/koustreak/pgcatalog/internal/logger"
)

// Fetcher runs catalog fetches against one query executor. A Fetcher keeps
// no state between calls; concurrent fetches need distinct executors.
type Fetcher struct {
	db  database.DB
	log *logger.Logger
}

// New returns a Fetcher reading through db. A nil log discards messages.
func New(db database.DB, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{db: db, log: log}
}

// Options scopes a fetch. The effective including filter is, by precedence:
// Including, else the filter for Table, else the filter mirroring Source,
// else none (the whole database minus Excluding).
type Options struct {
	// Table requests exactly one table. The fetch fails unless the result
	// holds exactly one relation.
	Table *filter.TableRef

	// Source is a catalog whose tables and views the fetch mirrors, by
	// target schema name.
	Source *catalog.Catalog

	Including *filter.Filter
	Excluding *filter.Filter

	// RelKinds restricts the columns pass. If empty, catalog.DefaultRelKinds
	// plus, when Source sets the scope, the view kinds Source holds.
	RelKinds []catalog.RelKind
}

// Fetch builds the catalog of database dbname.
func (f *Fetcher) Fetch(ctx context.Context, dbname string, opts Options) (*catalog.Catalog, error) {
	r := &run{Fetcher: f}

	including := opts.Including
	switch {
	case including != nil:
	case opts.Table != nil:
		inc, err := r.filterForTable(ctx, *opts.Table)
		if err != nil {
			return nil, err
		}
		including = inc
	case opts.Source != nil:
		inc, err := r.filterForCatalog(ctx, opts.Source)
		if err != nil {
			return nil, err
		}
		including = inc
	}

	kinds := opts.RelKinds
	if len(kinds) == 0 {
		kinds = catalog.DefaultRelKinds
		if opts.Including == nil && opts.Table == nil && opts.Source != nil {
			kinds = withViewKinds(kinds, opts.Source)
		}
	}

	cat := catalog.New(dbname)
	s := scope{
		relKinds:  relKindList(kinds),
		including: including,
		excluding: opts.Excluding,
	}

	if err := r.fetchColumns(ctx, cat, s); err != nil {
		return nil, errs.Annotate(err, "fetch columns")
	}
	if err := r.fetchIndexes(ctx, cat, s); err != nil {
		return nil, errs.Annotate(err, "fetch indexes")
	}
	if err := r.fetchForeignKeys(ctx, cat, s); err != nil {
		return nil, errs.Annotate(err, "fetch foreign keys")
	}
	if err := r.fetchFKeyDependencies(ctx, cat); err != nil {
		return nil, errs.Annotate(err, "fetch foreign key dependencies")
	}

	if opts.Table != nil {
		if err := checkSingleTable(cat, *opts.Table); err != nil {
			return nil, err
		}
	}

	n := cat.Counts()
	f.log.DebugWith("catalog fetched", map[string]interface{}{
		"database":          dbname,
		"tables":            n.Tables,
		"views":             n.Views,
		"indexes":           n.Indexes,
		"fkeys":             n.ForeignKeys,
		"dependency_fkeys":  n.DependencyForeignKeys,
		"including_entries": including.Len(),
		"excluding_entries": opts.Excluding.Len(),
	})
	return cat, nil
}

// FilterForTable returns the including filter that selects ref only.
func (f *Fetcher) FilterForTable(ctx context.Context, ref filter.TableRef) (*filter.Filter, error) {
	return (&run{Fetcher: f}).filterForTable(ctx, ref)
}

// FilterForCatalog returns the including filter that selects, on this
// database, every table and view of source.
func (f *Fetcher) FilterForCatalog(ctx context.Context, source *catalog.Catalog) (*filter.Filter, error) {
	return (&run{Fetcher: f}).filterForCatalog(ctx, source)
}

// run holds the lookup state private to one fetch.
type run struct {
	*Fetcher

	currentSchema *string
}

type scope struct {
	relKinds  string
	including *filter.Filter
	excluding *filter.Filter
}

func (s scope) data() scopeData {
	return scopeData{
		RelKinds:  s.relKinds,
		Including: filter.Predicate(s.including, schemaCol, tableCol, false),
		Excluding: filter.Predicate(s.excluding, schemaCol, tableCol, true),
	}
}

// withViewKinds returns kinds extended with the kinds of the views of
// source, so a mirrored view is fetched as a view.
func withViewKinds(kinds []catalog.RelKind, source *catalog.Catalog) []catalog.RelKind {
	out := append([]catalog.RelKind(nil), kinds...)
	for _, v := range source.Views() {
		if !slices.Contains(out, v.Kind) {
			out = append(out, v.Kind)
		}
	}
	return out
}

// checkSingleTable enforces that a single-table fetch found exactly one
// relation. An unqualified name may resolve in several schemas.
func checkSingleTable(cat *catalog.Catalog, ref filter.TableRef) error {
	rels := cat.Relations()
	switch len(rels) {
	case 1:
		return nil
	case 0:
		return errs.Newf(errs.ErrKindAmbiguous, "table %q not found", ref.String())
	}
	names := make([]string, len(rels))
	for i, t := range rels {
		names[i] = t.QualifiedName()
	}
	return errs.Newf(errs.ErrKindAmbiguous, "table %q matched %d tables: %s",
		ref.String(), len(rels), strings.Join(names, ", "))
}

func scanErr(err error, what string) error {
	return errs.Annotate(err, fmt.Sprintf("scan %s", what))
}
