// Package mcp exposes Fundi's operation services as MCP (Model Context
// Protocol) tools over stdio. An MCP-speaking client gets the same shell,
// file and code operations the HTTP API serves, with the same validation
// and admission limits — the services are shared, not reimplemented.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/fundi/internal/ops/code"
	"github.com/jkaninda/fundi/internal/ops/files"
	"github.com/jkaninda/fundi/internal/ops/shell"
)

// Gateway serves the MCP stdio transport.
type Gateway struct {
	shellSvc *shell.Service
	filesSvc *files.Service
	codeSvc  *code.Service
	logger   *slog.Logger
	version  string

	server *server.MCPServer
}

// NewGateway creates the MCP gateway over the shared operation services.
func NewGateway(shellSvc *shell.Service, filesSvc *files.Service, codeSvc *code.Service, version string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		shellSvc: shellSvc,
		filesSvc: filesSvc,
		codeSvc:  codeSvc,
		logger:   logger,
		version:  version,
	}
}

// Start registers the tools and serves stdio until ctx is canceled or
// stdin closes.
func (g *Gateway) Start(ctx context.Context) error {
	s := server.NewMCPServer("fundi", g.version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("run_shell_command",
		mcp.WithDescription("Execute a shell command on the host and return stdout, stderr and the exit code."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command line to execute."),
		),
		mcp.WithBoolean("background",
			mcp.Description("Start the command without waiting; returns the PID."),
		),
	), g.handleShell)

	s.AddTool(mcp.NewTool("file_operation",
		mcp.WithDescription("Manage files on the host: read, write, delete, stat, exists, list, copy, move."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of read, write, delete, stat, exists, list, copy, move."),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Target file or directory path."),
		),
		mcp.WithString("content",
			mcp.Description("File content for the write action."),
		),
		mcp.WithString("target_path",
			mcp.Description("Destination path for copy and move."),
		),
	), g.handleFiles)

	s.AddTool(mcp.NewTool("run_code",
		mcp.WithDescription("Run, test, lint, format or explain code in python, bash or node."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of run, explain, test, lint, fix, format."),
		),
		mcp.WithString("language",
			mcp.Description("python (default), bash or node."),
		),
		mcp.WithString("path",
			mcp.Description("Path to the source file. Mutually exclusive with content."),
		),
		mcp.WithString("content",
			mcp.Description("Inline source to run from a scratch file. Mutually exclusive with path."),
		),
		mcp.WithString("args",
			mcp.Description("Extra arguments appended to the run invocation."),
		),
	), g.handleCode)

	g.server = s
	g.logger.Info("mcp gateway starting", slog.String("transport", "stdio"))

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Stop is a no-op: the stdio transport ends when stdin closes or the
// Start context is canceled.
func (g *Gateway) Stop(_ context.Context) error {
	return nil
}

func (g *Gateway) handleShell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body, _ := g.shellSvc.Execute(ctx, shell.Request{
		Command:    command,
		Background: req.GetBool("background", false),
	})
	return toolResult(body)
}

func (g *Gateway) handleFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body, _ := g.filesSvc.Execute(ctx, files.Request{
		Operation: files.Operation{
			Action:     action,
			Path:       path,
			Content:    req.GetString("content", ""),
			TargetPath: req.GetString("target_path", ""),
		},
	})
	return toolResult(body)
}

func (g *Gateway) handleCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body, _ := g.codeSvc.Execute(ctx, code.Request{
		Action:   action,
		Language: req.GetString("language", ""),
		Path:     req.GetString("path", ""),
		Content:  req.GetString("content", ""),
		Args:     req.GetString("args", ""),
	})
	return toolResult(body)
}

// toolResult serializes an operation response body as a JSON text frame.
func toolResult(body map[string]any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
