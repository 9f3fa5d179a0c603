package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/mcguard/internal/config"
	"github.com/udisondev/mcguard/internal/filter"
	"github.com/udisondev/mcguard/internal/proxy"
	"github.com/udisondev/mcguard/internal/telemetry"
)

const ConfigPath = "config/mcguard.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Configure slog
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("mcguard edge proxy starting")

	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("MCGUARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadProxy(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"bind", cfg.BindAddress,
		"port", cfg.Port,
		"filter_enabled", cfg.Filter.Enabled)

	telemetry.InitMetrics()

	if !cfg.Filter.Enabled {
		return fmt.Errorf("filter disabled in config; nothing to run")
	}

	ctrl, err := filter.NewController(cfg.Filter)
	if err != nil {
		return fmt.Errorf("creating admission controller: %w", err)
	}
	if err := ctrl.Enable(ctx); err != nil {
		return fmt.Errorf("enabling admission controller: %w", err)
	}
	defer ctrl.Disable()

	edge := proxy.NewServer(cfg, ctrl)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := edge.Run(gctx); err != nil {
			return fmt.Errorf("edge proxy: %w", err)
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}

			go func() {
				<-gctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				srv.Shutdown(shutCtx)
			}()

			slog.Info("metrics endpoint started", "address", cfg.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
