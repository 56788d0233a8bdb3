package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/qmt/internal/campaign"
	"github.com/animus-labs/qmt/internal/config"
	"github.com/animus-labs/qmt/internal/platform/httpserver"
	"github.com/animus-labs/qmt/internal/platform/logging"
	"github.com/animus-labs/qmt/internal/platform/telemetry"
)

var errUsage = errors.New("usage")

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qmt <config.yaml>",
		Short: "Metamorphic differential testing of probabilistic programs",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCampaign,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	return cmd
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.OutOrStdout(), cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()
	c, cleanup, err := campaign.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	ids, err := c.Store.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list stored iterations: %w", err)
	}
	logger.Info("store opened", "backend", cfg.Store.Backend, "existing_iterations", len(ids), "experiment_folder", cfg.ExperimentFolder)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr == "" {
		g.Go(func() error { return c.Run(gctx) })
		return g.Wait()
	}

	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	mux := httpserver.NewMux("qmt", metrics.Handler(), httpserver.ReadinessCheck{
		Name:  "store",
		Check: c.Store.Ping,
	})
	g.Go(func() error {
		return httpserver.Run(serverCtx, logger, httpserver.Config{Service: "qmt", Addr: cfg.MetricsAddr}, httpserver.Wrap(logger, mux), nil)
	})
	g.Go(func() error {
		defer stopServer()
		return c.Run(gctx)
	})
	return g.Wait()
}
