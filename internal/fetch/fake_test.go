package fetch

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/koustreak/pgcatalog/internal/database"
	"github.com/koustreak/pgcatalog/internal/errs"
)

// fakeDB answers the fetch queries from an in-memory model. It reads the
// filter terms and relkind list out of the rendered SQL and applies them
// the way the server would, so tests exercise the compiled predicates.
type fakeDB struct {
	rels   []fakeRel
	idxs   []fakeIndex
	fkeys  []fakeFKey
	search map[string]string // unqualified name -> schema it resolves to
	oids   map[string]uint32
	curr   *string

	// extraDeps are returned by the fkey-deps query whatever its arguments.
	extraDeps []fakeFKey

	failOn map[string]error
	calls  []fakeCall
}

type fakeCall struct {
	name string
	sql  string
	args []any
}

type fakeRel struct {
	schema, name string
	oid          uint32
	kind         string
	cols         []fakeCol
}

type fakeCol struct {
	name, typ string
	typmod    int32
	nullable  bool
	def       *string
}

type fakeIndex struct {
	schema, table, name string
	oid                 uint32
	primary, unique     bool
	sql                 string
	conname, condef     *string
}

type fakeFKey struct {
	schema, table, fschema, ftable string
	oid                            uint32
	name, def                      string
	upd, del, match                string
	deferrable, deferred           bool
	cols, fcols                    string
	indexOid                       uint32
}

var _ database.DB = (*fakeDB)(nil)

func (db *fakeDB) Ping(context.Context) error { return nil }
func (db *fakeDB) Close()                     {}

func (db *fakeDB) called(name string) []fakeCall {
	var out []fakeCall
	for _, c := range db.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

var markerRe = regexp.MustCompile(`^-- pgcatalog:([\w-]+)`)

func (db *fakeDB) record(sql string, args []any) (string, error) {
	m := markerRe.FindStringSubmatch(sql)
	if m == nil {
		return "", fmt.Errorf("fake: query without marker: %s", sql)
	}
	db.calls = append(db.calls, fakeCall{name: m[1], sql: sql, args: args})
	if err := db.failOn[m[1]]; err != nil {
		return m[1], err
	}
	return m[1], nil
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (database.Rows, error) {
	name, err := db.record(sql, args)
	if err != nil {
		return nil, err
	}
	p := parsePredicates(sql)

	var out [][]any
	switch name {
	case "columns":
		for _, r := range db.rels {
			if !p.kind(r.kind) || !p.local(r.schema, r.name) {
				continue
			}
			for _, c := range r.cols {
				out = append(out, []any{r.schema, r.name, r.oid, r.kind, c.name, c.typ, c.typmod, c.nullable, c.def})
			}
		}
	case "indexes":
		for _, x := range db.idxs {
			if !p.kind(db.kindOf(x.schema, x.table)) || !p.local(x.schema, x.table) {
				continue
			}
			out = append(out, []any{x.schema, x.table, x.name, x.oid, x.primary, x.unique, x.sql, x.conname, x.condef})
		}
	case "fkeys":
		for _, f := range db.fkeys {
			if !p.kind(db.kindOf(f.schema, f.table)) || !p.local(f.schema, f.table) || !p.foreign(f.fschema, f.ftable) {
				continue
			}
			out = append(out, []any{f.schema, f.table, f.fschema, f.ftable, f.oid, f.name, f.def,
				f.upd, f.del, f.match, f.deferrable, f.deferred, nilIfEmpty(f.cols), nilIfEmpty(f.fcols)})
		}
	case "fkey-deps":
		indexOids, fkeyOids := args[0].([]int64), args[1].([]int64)
		for _, f := range db.fkeys {
			if !containsOid(indexOids, f.indexOid) || containsOid(fkeyOids, f.oid) {
				continue
			}
			out = append(out, []any{f.schema, f.table, f.fschema, f.ftable, f.oid, f.name, f.def, f.indexOid})
		}
		for _, f := range db.extraDeps {
			out = append(out, []any{f.schema, f.table, f.fschema, f.ftable, f.oid, f.name, f.def, f.indexOid})
		}
	case "schemas":
		seen := map[string]bool{}
		for _, r := range db.rels {
			if !seen[r.schema] {
				seen[r.schema] = true
				out = append(out, []any{r.schema})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i][0].(string) < out[j][0].(string) })
	case "table-oids":
		for _, n := range args[0].([]string) {
			if oid, ok := db.oids[n]; ok {
				out = append(out, []any{n, oid})
			} else {
				out = append(out, []any{n, nil})
			}
		}
	default:
		return nil, fmt.Errorf("fake: unexpected query %q", name)
	}
	return &fakeRows{data: out, pos: -1}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) database.Row {
	name, err := db.record(sql, args)
	if err != nil {
		return fakeRow{err: err}
	}
	switch name {
	case "current-schema":
		return fakeRow{vals: []any{db.curr}}
	case "table-schema":
		if s, ok := db.search[args[0].(string)]; ok {
			return fakeRow{vals: []any{s}}
		}
		return fakeRow{err: errs.New(errs.ErrKindNotFound, "no rows")}
	}
	return fakeRow{err: fmt.Errorf("fake: unexpected query %q", name)}
}

func (db *fakeDB) kindOf(schema, name string) string {
	for _, r := range db.rels {
		if r.schema == schema && r.name == name {
			return r.kind
		}
	}
	return "r"
}

func containsOid(list []int64, oid uint32) bool {
	for _, v := range list {
		if v == int64(oid) {
			return true
		}
	}
	return false
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return &s
}

// predicates is the filter parsed back out of a rendered query.
type predicates struct {
	kinds                    map[string]bool
	incl, excl, fincl, fexcl []term
}

type term struct {
	schema  string
	pattern *regexp.Regexp
}

var (
	termRe  = regexp.MustCompile(`(not \()?(\w+)\.nspname = '((?:[^']|'')*)' and (\w+)\.relname ~ '((?:[^']|'')*)'`)
	kindsRe = regexp.MustCompile(`relkind in \(([^)]*)\)`)
)

func parsePredicates(sql string) predicates {
	var p predicates
	if m := kindsRe.FindStringSubmatch(sql); m != nil {
		p.kinds = map[string]bool{}
		for _, k := range strings.Split(m[1], ",") {
			p.kinds[strings.Trim(strings.TrimSpace(k), "'")] = true
		}
	}
	for _, m := range termRe.FindAllStringSubmatch(sql, -1) {
		t := term{
			schema:  strings.ReplaceAll(m[3], "''", "'"),
			pattern: regexp.MustCompile(strings.ReplaceAll(m[5], "''", "'")),
		}
		negated, foreign := m[1] != "", m[2] == "nf"
		switch {
		case foreign && negated:
			p.fexcl = append(p.fexcl, t)
		case foreign:
			p.fincl = append(p.fincl, t)
		case negated:
			p.excl = append(p.excl, t)
		default:
			p.incl = append(p.incl, t)
		}
	}
	return p
}

func (p predicates) kind(k string) bool {
	return p.kinds == nil || p.kinds[k]
}

func (p predicates) local(schema, name string) bool {
	return admits(p.incl, p.excl, schema, name)
}

func (p predicates) foreign(schema, name string) bool {
	return admits(p.fincl, p.fexcl, schema, name)
}

func admits(incl, excl []term, schema, name string) bool {
	if len(incl) > 0 && !anyMatch(incl, schema, name) {
		return false
	}
	return !anyMatch(excl, schema, name)
}

func anyMatch(terms []term, schema, name string) bool {
	for _, t := range terms {
		if t.schema == schema && t.pattern.MatchString(name) {
			return true
		}
	}
	return false
}

type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error     { return assign(r.data[r.pos], dest) }
func (r *fakeRows) Columns() ([]string, error) { return nil, nil }
func (r *fakeRows) Close()                     {}
func (r *fakeRows) Err() error                 { return nil }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

// assign copies vals into dest the way a driver would: nil clears a
// pointer destination, and a value is boxed when dest points to a pointer.
func assign(vals, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("fake: %d values for %d destinations", len(vals), len(dest))
	}
	for i, v := range vals {
		dv := reflect.ValueOf(dest[i]).Elem()
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
			if dv.Kind() != reflect.Ptr {
				return fmt.Errorf("fake: NULL into non-pointer destination %d", i)
			}
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		if rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if dv.Kind() == reflect.Ptr {
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(rv.Convert(dv.Type().Elem()))
			dv.Set(p)
			continue
		}
		dv.Set(rv.Convert(dv.Type()))
	}
	return nil
}
