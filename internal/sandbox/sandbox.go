// Package sandbox provides isolated execution for operator commands.
// All external commands run through a sandbox — never directly on the host.
package sandbox

import (
	"context"
	"time"
)

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	// Run executes an argv-style command and waits for it.
	Run(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)

	// RunShell executes a command line through the shell and waits for it.
	RunShell(ctx context.Context, req ShellRequest) (*ExecutionResult, error)

	// Start launches a command line through the shell without waiting.
	// The process outlives the calling request; its PID is returned.
	Start(req ShellRequest) (int, error)
}

// ExecutionRequest defines an argv-style command and its constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["git", "status"]).
	Command []string

	// WorkingDir overrides the working directory. Empty = use isolated temp dir.
	WorkingDir string

	// Env adds extra environment variables on top of the base set.
	Env map[string]string

	// InheritEnv keeps the parent environment instead of the minimal safe
	// set. Needed for tools that read global config or network settings.
	InheritEnv bool

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use sandbox defaults.
	Limits ResourceLimits
}

// ShellRequest defines a command line to hand to the shell via -c.
// The line is executed verbatim, so $0 inside it resolves to the shell
// path the way an interactive caller would see it.
type ShellRequest struct {
	// Command is the full command line.
	Command string

	// Shell overrides the sandbox's default shell binary.
	Shell string

	// WorkingDir overrides the working directory. Empty = use isolated temp dir.
	WorkingDir string

	// Env adds extra environment variables on top of the base set.
	Env map[string]string

	// InheritEnv keeps the parent environment instead of the minimal safe set.
	InheritEnv bool

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use sandbox defaults.
	Limits ResourceLimits
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// ExecutionResult captures the outcome of a sandboxed command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration

	// TimedOut marks runs cut short by the deadline. Partial output is kept.
	TimedOut bool

	// Truncated marks output that hit the byte cap.
	Truncated bool
}
