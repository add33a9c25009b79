package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/fetch"
	"github.com/koustreak/pgcatalog/internal/filter"
	"github.com/koustreak/pgcatalog/internal/snapshot"
	"github.com/spf13/cobra"
)

// scopeFlags select what a fetch reads. Unset flags fall back to the
// fetch section of the config file.
type scopeFlags struct {
	table    string
	include  []string
	exclude  []string
	relkinds []string
	source   string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.table, "table", "", "fetch exactly one table, optionally schema-qualified")
	f.StringArrayVar(&s.include, "include", nil, "schema:regex of tables to fetch (repeatable)")
	f.StringArrayVar(&s.exclude, "exclude", nil, "schema:regex of tables to skip (repeatable)")
	f.StringSliceVar(&s.relkinds, "relkind", nil, "relation kinds to read (default table,partitioned)")
	f.StringVar(&s.source, "source", "", "mirror the tables of this stored snapshot")
}

func (a *app) fetchOptions(ctx context.Context, s *scopeFlags) (fetch.Options, error) {
	var opts fetch.Options

	if s.table != "" {
		ref := filter.ParseTableRef(s.table)
		opts.Table = &ref
	} else {
		opts.Table = a.cfg.Fetch.TableRef()
	}

	inc, err := parseFilterFlags(s.include)
	if err != nil {
		return opts, err
	}
	if inc == nil {
		inc = a.cfg.Fetch.IncludingFilter()
	}
	opts.Including = inc

	exc, err := parseFilterFlags(s.exclude)
	if err != nil {
		return opts, err
	}
	if exc == nil {
		exc = a.cfg.Fetch.ExcludingFilter()
	}
	opts.Excluding = exc

	if len(s.relkinds) > 0 {
		for _, v := range s.relkinds {
			k, err := catalog.ParseRelKind(v)
			if err != nil {
				return opts, errs.Wrap(errs.ErrKindInvalidInput, "--relkind", err)
			}
			opts.RelKinds = append(opts.RelKinds, k)
		}
	} else if opts.RelKinds, err = a.cfg.Fetch.Kinds(); err != nil {
		return opts, err
	}

	if s.source != "" {
		repo, err := a.snapshots(ctx)
		if err != nil {
			return opts, err
		}
		doc, err := repo.Load(ctx, s.source)
		if err != nil {
			return opts, err
		}
		if opts.Source, err = doc.Catalog(); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		scope  scopeFlags
		save   string
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the catalog and print a summary, or write it out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts, err := a.fetchOptions(ctx, &scope)
			if err != nil {
				return err
			}

			var cat *catalog.Catalog
			err = a.withFetcher(ctx, func(f *fetch.Fetcher, dbname string) error {
				cat, err = f.Fetch(ctx, dbname, opts)
				return err
			})
			if err != nil {
				return err
			}
			doc := snapshot.FromCatalog(cat, time.Now())

			if save != "" {
				repo, err := a.snapshots(ctx)
				if err != nil {
					return err
				}
				info, err := repo.Save(ctx, save, doc)
				if err != nil {
					return err
				}
				a.log.InfoWith("snapshot saved", map[string]interface{}{"key": info.Key, "size": info.Size})
			}

			switch output {
			case "":
				return printSummary(cmd.OutOrStdout(), cat)
			case "-":
				return writeDocument(cmd.OutOrStdout(), doc, format)
			}
			fh, err := os.Create(output)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, "create "+output, err)
			}
			if err := writeDocument(fh, doc, format); err != nil {
				fh.Close()
				return err
			}
			return fh.Close()
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&save, "snapshot", "", "save the catalog to the snapshot store under this name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the catalog to this file (- for stdout)")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func writeDocument(w io.Writer, doc *snapshot.Document, format string) error {
	switch format {
	case "yaml":
		return snapshot.Encode(w, doc)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unknown format %q", format)
}

// printSummary writes one line per relation, then the totals.
func printSummary(w io.Writer, cat *catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RELATION\tKIND\tCOLUMNS\tINDEXES\tFKEYS\tDEPENDENT FKEYS")
	for _, t := range cat.Relations() {
		deps := 0
		for _, idx := range t.Indexes() {
			deps += len(idx.Dependencies())
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			t.QualifiedName(), t.Kind, len(t.Columns()), len(t.Indexes()), len(t.ForeignKeys()), deps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	n := cat.Counts()
	_, err := fmt.Fprintf(w, "\n%s: %d tables, %d views, %d indexes, %d foreign keys, %d dependent foreign keys\n",
		cat.Name, n.Tables, n.Views, n.Indexes, n.ForeignKeys, n.DependencyForeignKeys)
	return err
}
