package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	bridgehttp "connbridge/internal/http"
	"connbridge/pkg/binding"
	"connbridge/pkg/metrics"
	"connbridge/pkg/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge HTTP server over an in-process state store",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}
	initLogger(&cfg, os.Stdout)

	instance := uuid.New()
	slog.SetDefault(slog.Default().With("instance", instance.String()))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(cfg.Storage, cfg.Bridge.ScanPrefetch)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close state store", "error", err)
		}
	}()

	m := metrics.NewMemory()
	bridge := binding.New(st, cfg.Bridge, binding.WithMetrics(m))
	engine := newPipeEngine(ctx, cfg.Bridge.CdcChannelCapacity)
	defer engine.Close()

	server := bridgehttp.NewServer(bridge, cfg.Server,
		bridgehttp.WithStore(st),
		bridgehttp.WithMetrics(m),
		bridgehttp.WithEngine(engine),
		bridgehttp.WithInstanceID(instance),
	)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if err := server.Stop(); err != nil {
		slog.Error("Error stopping server", "error", err)
	}
	return nil
}
