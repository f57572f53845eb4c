package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/fundi/internal/config"
	mcpgw "github.com/jkaninda/fundi/internal/gateway/mcp"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the operations as MCP tools over stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

// runMCP starts Fundi in MCP mode: tools over stdio for agent clients.
// Logs go to stderr; stdout belongs to the protocol.
func runMCP(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FUNDI_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	logger = newLogger(cfg)

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := mcpgw.NewGateway(c.Services.Shell, c.Services.Files, c.Services.Code, version, logger)
	if err := gw.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
