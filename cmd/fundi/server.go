package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/gateway"
	"github.com/jkaninda/fundi/internal/gateway/httpapi"
	"github.com/jkaninda/fundi/internal/gateway/ws"
	"github.com/jkaninda/fundi/internal/janitor"
	"github.com/jkaninda/fundi/internal/ratelimit"
)

var (
	serverConfigPath string
	serverListenAddr string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `fundi --config path` and `fundi server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverListenAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer starts Fundi in server mode: the HTTP API plus the optional
// WebSocket monitor stream and scratch janitor.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FUNDI_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serverListenAddr != "" {
		cfg.Server.ListenAddr = serverListenAddr
	}

	logger = newLogger(cfg)
	logger.Info("starting in server mode",
		slog.String("config", serverConfigPath),
		slog.String("addr", cfg.Server.Addr()),
	)

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the scratch janitor (optional).
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		var jm *janitor.Metrics
		if c.Obs != nil && c.Obs.Metrics != nil {
			jm = janitor.NewMetrics(c.Obs.Metrics.Registry)
		}

		j, err := janitor.New(c.Workspace, janitor.Options{
			Schedule: cfg.Janitor.CronSchedule(),
			MaxAge:   cfg.Janitor.MaxAge(),
		}, jm, logger)
		if err != nil {
			return err
		}
		cancelJanitor := j.Start(ctx)
		defer cancelJanitor()

		logger.Debug("janitor started",
			slog.String("schedule", cfg.Janitor.CronSchedule()),
			slog.String("max_age", cfg.Janitor.MaxAge().String()),
		)
	}

	// Per-key request rate limiting (optional).
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Server.RateLimit.BurstSize,
		})
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Auth.Keys(),
		MaxRequestSize: cfg.Server.MaxRequestSizeBytes,
		Version:        version,
	}
	if c.Obs != nil {
		gwCfg.HealthChecker = c.Obs.Health
		if c.Obs.Metrics != nil {
			gwCfg.MetricsRegistry = c.Obs.Metrics.Registry
			gwCfg.Metrics = c.Obs.Metrics
			gwCfg.Tracer = c.Obs.TracerOrNil().Tracer()
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
	}

	httpGW := httpapi.NewGateway(gwCfg, c.Services, limiter, c.Recorder, logger)

	// Mount the live monitor stream (optional).
	if cfg.Monitor != nil && cfg.Monitor.WSEnabled {
		wsServer := ws.NewServer(c.Services.Monitor, cfg.Auth.Keys(), cfg.Monitor.StreamInterval(), logger)
		httpGW.WithHandler("/monitor/ws", wsServer.Handler())
		logger.Debug("monitor stream mounted",
			slog.String("interval", cfg.Monitor.StreamInterval().String()),
		)
	}

	gateways := []gateway.Gateway{httpGW}

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}
