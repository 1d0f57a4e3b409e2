package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(g *globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over a read-only HTTP API",
		Long: `Serve the persisted catalog until interrupted:

  GET /health
  GET /v1/info
  GET /v1/entries?model=..&varname=..&max_results=..&page_token=..
  GET /v1/files?model=..&experiment=..
  GET /v1/values/{field}
  GET /v1/variables/{varname}?realm=..
  GET /v1/ensembles?model=..&experiment=..&frequency=..&varname=..`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				g.cfg.ListenAddr = listen
			}
			a, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from LISTEN_ADDR or :8080)")
	return cmd
}

func newScheduleCmd(g *globals) *cobra.Command {
	var (
		spec  string
		now   bool
		serve bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Rebuild the catalog on a cron schedule until interrupted",
		Long: `Run build on a cron schedule (five-field cron or a descriptor such as @daily
or "@every 6h"). A tick that fires while a build is still running is skipped.
With --serve the HTTP API runs in the same process and answers from each new
build as soon as it is saved.`,
		Example: `  cmipcat schedule --spec "0 3 * * *"
  cmipcat schedule --spec "@every 6h" --now --serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("spec") {
				g.cfg.Schedule = spec
			}
			a, err := g.openAppForBuild(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			s, err := a.Scheduler()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if now {
				if err := s.RunNow(ctx); err != nil {
					g.logger.Warn("initial build failed", "error", err)
				}
			}

			eg, ctx := errgroup.WithContext(ctx)
			s.Start(ctx)
			if serve {
				eg.Go(func() error { return a.Serve(ctx) })
			}
			eg.Go(func() error {
				<-ctx.Done()
				s.Stop()
				return nil
			})
			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "Cron spec (default from CMIPCAT_SCHEDULE or @daily)")
	cmd.Flags().BoolVar(&now, "now", false, "Build once immediately before waiting for the schedule")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the HTTP API")
	return cmd
}

