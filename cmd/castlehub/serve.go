package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/castlehub/pkg/api"
	"github.com/cuemby/castlehub/pkg/events"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/cuemby/castlehub/pkg/reconciler"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler and the health server",
	Long: `Run castlehub in the foreground.

On start, clusters left in a running status by a previous process are
recovered. Provisioning clusters are then checked on every reconciler cycle,
expired clusters are destroyed when --cull-expired is set, and status
changes are forwarded to NATS when nats.url is configured.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("serve")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown incomplete")
		}
	}()
	metrics.RegisterComponent("store", true, "")

	if version, err := a.runner.Version(ctx); err != nil {
		metrics.RegisterComponent("terraform", false, err.Error())
		logger.Error().Err(err).Str("binary", cfg.Terraform.Binary).Msg("terraform is not usable")
	} else {
		metrics.RegisterComponent("terraform", true, "")
		logger.Info().Str("version", version).Msg("Found terraform")
	}

	if cfg.NATS.URL != "" {
		conn, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer conn.Close()

		forwarder := events.NewNATSForwarder(a.broker, conn, cfg.NATS.Subject)
		forwarder.Start()
		defer forwarder.Stop()
	}

	collector := metrics.NewCollector(a.store, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	recon := reconciler.NewReconciler(a.mgr, reconciler.Config{
		Interval:    cfg.Reconciler.Interval,
		CullExpired: cfg.Reconciler.CullExpired,
	})
	if err := recon.Start(ctx); err != nil {
		return err
	}
	defer recon.Stop()

	hs := api.NewHealthServer(a.store)
	errCh := make(chan error, 1)
	go func() {
		if err := hs.Start(cfg.Server.HealthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Str("clusters_dir", cfg.ClustersDir).
		Strs("domains", a.mgr.Domains()).
		Msg("castlehub is running")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if herr := hs.Shutdown(shutdownCtx); herr != nil {
		logger.Warn().Err(herr).Msg("Health server did not stop cleanly")
	}
	return err
}
