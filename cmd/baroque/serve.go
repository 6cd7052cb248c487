package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/baroque-dev/baroque/internal/api"
	"github.com/baroque-dev/baroque/internal/api/handlers/baroque"
	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/logging"
	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/registry"
	"github.com/baroque-dev/baroque/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic usage sweep",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeps := scheduler.New("usage-sweep", a.cfg.Ingest.FetchInterval,
		func(ctx context.Context) { a.orch.Sweep(ctx) },
		scheduler.WithRunOnStart(a.cfg.ShouldRunOnStart()),
	)

	h := baroque.NewHandler(a.engine, registry.NewService(a.storage, a.orch), a.orch)
	srv := api.NewServer(a.cfg, h)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		sweeps.Start()
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sweeps.Stop(stopCtx)
	})

	g.Go(func() error {
		persistence.RunRetention(gctx, a.storage, a.cfg.Ingest.RetentionDays)
		return nil
	})

	g.Go(func() error {
		return config.Watch(gctx, flagConfig, func(next *config.Config) {
			sweeps.SetInterval(next.Ingest.FetchInterval)
			if err := logging.SetLevel(next.Logging.Level); err != nil {
				log.WithError(err).Warn("Keeping previous log level")
			}
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
