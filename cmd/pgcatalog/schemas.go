package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/koustreak/pgcatalog/internal/fetch"
	"github.com/spf13/cobra"
)

func newSchemasCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List the user schemas of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withFetcher(ctx, func(f *fetch.Fetcher, _ string) error {
				names, err := f.ListSchemas(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

func newOidsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "oids NAME...",
		Short: "Resolve table names to oids through the search path",
		Long: `Resolve each NAME the way PostgreSQL resolves a table name in a query.
Names that do not resolve are reported on stderr and left out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withFetcher(ctx, func(f *fetch.Fetcher, _ string) error {
				oids, err := f.TableOids(ctx, args)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, name := range args {
					if oid, ok := oids[name]; ok {
						fmt.Fprintf(tw, "%s\t%d\n", name, oid)
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: no such relation\n", name)
					}
				}
				return tw.Flush()
			})
		},
	}
}
