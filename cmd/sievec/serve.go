package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/migadu/sora-sieve/cache"
	"github.com/migadu/sora-sieve/config"
	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/pkg/health"
	"github.com/migadu/sora-sieve/pkg/metrics"
	"github.com/migadu/sora-sieve/server/httpapi"
	"github.com/migadu/sora-sieve/server/sieveengine"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	*rootOptions
	Addr string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compile, dump and evaluate API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Addr != "" {
				opts.cfg.HTTPAPI.Addr = opts.Addr
			}
			return serve(cmd.Context(), &opts.cfg)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP API listen address (overrides config)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case sig := <-signalChan:
			logger.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var store *cache.BinaryStore
	var engineStore sieveengine.BinaryStore
	var storeStats metrics.StoreStatsProvider
	if cfg.Store.Path != "" {
		var err error
		store, err = cache.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open binary store: %w", err)
		}
		defer store.Close()
		engineStore, storeStats = store, store

		maxAge, _ := cfg.Store.GetMaxAge()
		interval, _ := cfg.Store.GetPruneInterval()
		store.StartPruneLoop(ctx, interval, maxAge)
	}

	engine, err := sieveengine.NewFromConfig(cfg, engineStore)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		var cacheStats metrics.CacheStatsProvider
		if programs := engine.Programs(); programs != nil {
			cacheStats = programs
		}
		collector := metrics.NewCollector(storeStats, cacheStats, 0)
		go collector.Start(ctx)
		defer collector.Stop()
	}

	monitor := health.NewHealthMonitor()
	monitor.RegisterCheck(health.CreateCompilerHealthCheck(engine.Check))
	if store != nil {
		monitor.RegisterCheck(health.CreateStoreHealthCheck(store))
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	errChan := make(chan error, 1)
	go httpapi.Start(ctx, engine, httpapi.ServerOptions{
		Addr:         cfg.HTTPAPI.Addr,
		APIKey:       cfg.HTTPAPI.APIKey,
		AllowedHosts: cfg.HTTPAPI.AllowedHosts,
		Store:        store,
		Health:       monitor,
		MetricsPath:  metricsPath,
		TLS:          cfg.HTTPAPI.TLS,
		TLSCertFile:  cfg.HTTPAPI.TLSCertFile,
		TLSKeyFile:   cfg.HTTPAPI.TLSKeyFile,
	}, errChan)

	select {
	case <-ctx.Done():
		logger.Info("sora-sieve stopped")
		return nil
	case err := <-errChan:
		return err
	}
}
