package main

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/ingest"
	"github.com/baroque-dev/baroque/internal/leaderboard"
	"github.com/baroque-dev/baroque/internal/logging"
	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/usagesource"
)

var flagConfig string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "baroque",
		Short:        "Developer API usage leaderboard",
		Long:         "Collect per-developer Anthropic API usage and rank developers by efficiency, cache use, output and tool use.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "Path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newFetchCmd(),
		newLeaderboardCmd(),
		newModelsCmd(),
	)
	return root
}

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	storage   persistence.Storage
	orch      *ingest.Orchestrator
	engine    *leaderboard.Engine
	logCloser io.Closer
}

// openApp loads configuration, sets up logging and opens storage.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}

	storage, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	client := usagesource.NewClient(cfg.UsageSource, nil)
	if !client.Configured() {
		log.Warn("ANTHROPIC_ADMIN_API_KEY is not set, usage will not be fetched")
	}

	log.WithFields(log.Fields{
		"database": cfg.Database.Type,
		"lookback": cfg.Ingest.LookbackDays,
	}).Debug("Application initialized")

	return &app{
		cfg:       cfg,
		storage:   storage,
		orch:      ingest.NewOrchestrator(client, storage, ingest.WithLookbackDays(cfg.Ingest.LookbackDays)),
		engine:    leaderboard.NewEngine(storage),
		logCloser: logCloser,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		log.WithError(err).Warn("Failed to close storage")
	}
	_ = a.logCloser.Close()
}

// resultError turns a failed ingestion result into a command error.
func resultError(res ingest.Result) error {
	switch res.Outcome {
	case ingest.OutcomeOK, ingest.OutcomeNoIdentities:
		return nil
	default:
		return fmt.Errorf("ingestion %s: %v", res.Outcome, res.Err)
	}
}
