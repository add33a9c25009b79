package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/fetch"
	"github.com/koustreak/pgcatalog/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		scope    scopeFlags
		addr     string
		snapName string
		refresh  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over HTTP as JSON",
		Long: `Fetch the catalog (or load a stored snapshot) and serve it read-only.
With --refresh the catalog is fetched again periodically; a failed refresh
keeps the previous catalog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if snapName != "" && refresh > 0 {
				return errs.New(errs.ErrKindInvalidInput, "--refresh cannot be used with --snapshot")
			}

			load := func(ctx context.Context) (*catalog.Catalog, time.Time, error) {
				if snapName != "" {
					repo, err := a.snapshots(ctx)
					if err != nil {
						return nil, time.Time{}, err
					}
					doc, err := repo.Load(ctx, snapName)
					if err != nil {
						return nil, time.Time{}, err
					}
					cat, err := doc.Catalog()
					return cat, doc.FetchedAt, err
				}
				opts, err := a.fetchOptions(ctx, &scope)
				if err != nil {
					return nil, time.Time{}, err
				}
				var cat *catalog.Catalog
				err = a.withFetcher(ctx, func(f *fetch.Fetcher, dbname string) error {
					cat, err = f.Fetch(ctx, dbname, opts)
					return err
				})
				return cat, time.Now(), err
			}

			cat, at, err := load(ctx)
			if err != nil {
				return err
			}
			srv := server.New(cat, at, a.log)

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			httpSrv := &http.Server{
				Addr:         addr,
				Handler:      srv,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}

			if refresh > 0 {
				go func(servedAt time.Time) {
					ticker := time.NewTicker(refresh)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							next, nextAt, err := load(ctx)
							if err != nil {
								a.log.Warnf("refresh failed, still serving the catalog fetched at %s: %v",
									servedAt.Format(time.RFC3339), err)
								continue
							}
							servedAt = nextAt
							srv.SetCatalog(next, nextAt)
							a.log.Debugf("catalog refreshed: %d relations", len(next.Relations()))
						}
					}
				}(at)
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Infof("serving catalog %s on %s", cat.Name, addr)
				errc <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return errs.Wrap(errs.ErrKindConnectionFailed, "http server", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&snapName, "snapshot", "", "serve this stored snapshot instead of fetching")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "fetch again at this interval (0 disables)")
	return cmd
}
