package main

import (
	"context"
	"strings"

	"github.com/koustreak/pgcatalog/internal/config"
	"github.com/koustreak/pgcatalog/internal/database/postgres"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/fetch"
	"github.com/koustreak/pgcatalog/internal/filestore/minio"
	"github.com/koustreak/pgcatalog/internal/filter"
	"github.com/koustreak/pgcatalog/internal/logger"
	"github.com/koustreak/pgcatalog/internal/snapshot"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile   string
	dsn       string
	logLevel  string
	logFormat string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pgcatalog",
		Short: "Read the structure of a PostgreSQL database",
		Long: `pgcatalog reads tables, columns, indexes and foreign keys from the
PostgreSQL system catalogs, including the foreign keys outside the selected
tables that depend on their indexes.

Examples:

  pgcatalog fetch --include public:'^order' --exclude public:_old$
  pgcatalog fetch --table sales.orders -o orders.yaml
  pgcatalog serve --snapshot nightly
`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "pgcatalog.yaml", "config file")
	pf.StringVar(&a.dsn, "dsn", "", "PostgreSQL connection string (overrides database.dsn)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, notice, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "json or console")

	root.AddCommand(
		newFetchCmd(a),
		newSchemasCmd(a),
		newOidsCmd(a),
		newServeCmd(a),
		newSnapshotsCmd(a),
	)
	return root
}

// setup loads the config file and applies flag overrides: flag > file > default.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	a.cfg = cfg
	a.log = logger.New(&cfg.Log)
	return nil
}

// withFetcher runs fn with a Fetcher bound to one pinned connection.
func (a *app) withFetcher(ctx context.Context, fn func(f *fetch.Fetcher, dbname string) error) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	drv, err := postgres.New(ctx, &a.cfg.Database)
	if err != nil {
		return err
	}
	defer drv.Close()

	sess, err := drv.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	return fn(fetch.New(sess, a.log), drv.Database())
}

// snapshots opens the configured snapshot store.
func (a *app) snapshots(ctx context.Context) (*snapshot.Repository, error) {
	sc := &a.cfg.Snapshot
	if !sc.Enabled() {
		return nil, errs.New(errs.ErrKindInvalidInput, "snapshot.endpoint is not configured")
	}
	store, err := minio.New(ctx, sc)
	if err != nil {
		return nil, err
	}
	return snapshot.NewRepository(store, sc.Bucket, sc.Prefix), nil
}

// parseFilterFlags turns "schema:regex" values into a Filter, keeping
// flag order. A value without a regex selects the whole schema.
func parseFilterFlags(values []string) (*filter.Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}
	f := filter.New()
	for _, v := range values {
		schema, pattern, found := strings.Cut(v, ":")
		if schema == "" {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "filter %q: missing schema", v)
		}
		if !found || pattern == "" {
			pattern = ".*"
		}
		f.Add(schema, pattern)
	}
	return f, nil
}
