package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// defaultMaxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	defaultMaxOutputBytes = 1 << 20 // 1 MiB

	defaultShell      = "/bin/bash"
	defaultTimeout    = 60 * time.Second
	defaultCPUSeconds = 120
	defaultMemoryMB   = 512

	// timedOutExitCode is reported when the deadline killed the process
	// before it could exit on its own.
	timedOutExitCode = -1
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultShell   string
	DefaultTimeout time.Duration
	MaxOutputBytes int
	DefaultLimits  ResourceLimits
}

// ProcessSandbox executes commands as isolated OS processes.
//
// Security guarantees:
//   - Each execution gets its own temp directory (removed after)
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - No environment inheritance by default — only a minimal safe set
//   - Resource limits enforced via ulimit
//   - stdout/stderr capped to prevent OOM
type ProcessSandbox struct {
	shell          string
	defaultTimeout time.Duration
	maxOutput      int
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	shell := cfg.DefaultShell
	if shell == "" {
		shell = defaultShell
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessSandbox{
		shell:          shell,
		defaultTimeout: timeout,
		maxOutput:      maxOutput,
		defaultLimits:  limits,
		logger:         logger,
	}
}

// Run executes an argv-style command in an isolated process environment.
//
// The command is wrapped: sh -c 'ulimit ...; exec "$@"' _ cmd args...
// Using exec "$@" with positional parameters prevents shell injection —
// the argv is never interpolated into the shell string.
func (s *ProcessSandbox) Run(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	limits := s.resolveLimits(req.Limits)
	memKB := limits.MaxMemoryMB * 1024
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", script, "_") // "_" is the $0 placeholder
	args = append(args, req.Command...)

	return s.execute(ctx, "/bin/sh", args, executeOptions{
		workingDir: req.WorkingDir,
		env:        req.Env,
		inheritEnv: req.InheritEnv,
		timeout:    req.Timeout,
		display:    fmt.Sprintf("%v", req.Command),
	})
}

// RunShell executes a command line through the shell.
//
// The resource limits are prepended as separate shell statements so the
// command line itself stays untouched — $0, quoting, and exit status all
// behave exactly as if the caller had typed the line at a prompt.
func (s *ProcessSandbox) RunShell(ctx context.Context, req ShellRequest) (*ExecutionResult, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	shell := req.Shell
	if shell == "" {
		shell = s.shell
	}
	limits := s.resolveLimits(req.Limits)
	memKB := limits.MaxMemoryMB * 1024
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null\n%s",
		memKB, limits.MaxCPUSeconds, req.Command,
	)

	return s.execute(ctx, shell, []string{"-c", script}, executeOptions{
		workingDir: req.WorkingDir,
		env:        req.Env,
		inheritEnv: req.InheritEnv,
		timeout:    req.Timeout,
		display:    req.Command,
	})
}

// Start launches a command line through the shell without waiting for it.
// The child is detached into its own process group and reaped in the
// background, so it survives the request that spawned it.
func (s *ProcessSandbox) Start(req ShellRequest) (int, error) {
	if req.Command == "" {
		return 0, fmt.Errorf("empty command")
	}

	shell := req.Shell
	if shell == "" {
		shell = s.shell
	}
	cmd := exec.Command(shell, "-c", req.Command)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = s.buildEnv(os.TempDir(), req.Env, req.InheritEnv)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting background command: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	s.logger.Info("background command started",
		slog.String("command", req.Command),
		slog.Int("pid", pid),
	)
	return pid, nil
}

type executeOptions struct {
	workingDir string
	env        map[string]string
	inheritEnv bool
	timeout    time.Duration
	display    string
}

func (s *ProcessSandbox) execute(ctx context.Context, bin string, args []string, opts executeOptions) (*ExecutionResult, error) {
	timeout := opts.timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "fundi-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	cmd := exec.CommandContext(ctx, bin, args...)
	if opts.workingDir != "" {
		cmd.Dir = opts.workingDir
	} else {
		cmd.Dir = tmpDir
	}

	// Process group isolation — the child runs in its own group, and the
	// whole group is killed on timeout so grandchildren die too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = s.buildEnv(tmpDir, opts.env, opts.inheritEnv)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, remaining: s.maxOutput}
	stderr := &limitedWriter{w: &stderrBuf, remaining: s.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.logger.Info("sandbox executing",
		slog.String("command", opts.display),
		slog.String("dir", cmd.Dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}

	if runErr != nil {
		// A dead deadline is a result, not an error: the caller reports
		// the timeout with whatever partial output was captured.
		if ctx.Err() != nil {
			s.logger.Warn("sandbox execution timed out",
				slog.String("command", opts.display),
				slog.Duration("timeout", timeout),
			)
			result.TimedOut = true
			result.ExitCode = timedOutExitCode
			return result, nil
		}

		// Likewise a non-zero exit code is a result.
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)
	return result, nil
}

// resolveLimits merges request-level overrides with sandbox defaults.
func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// buildEnv constructs the child environment. The default is a minimal,
// safe set with no inheritance, so credentials in the server's environment
// cannot leak into executed commands. Callers that need the host
// environment (git identity, package manager proxies) opt in explicitly.
func (s *ProcessSandbox) buildEnv(tmpDir string, extra map[string]string, inherit bool) []string {
	var env []string
	if inherit {
		env = os.Environ()
	} else {
		env = []string{
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"HOME=" + tmpDir,
			"TMPDIR=" + tmpDir,
			"LANG=en_US.UTF-8",
			"TERM=dumb",
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		lw.truncated = true
		return len(p), nil // Silently discard.
	}
	chunk := p
	if len(chunk) > lw.remaining {
		chunk = chunk[:lw.remaining]
		lw.truncated = true
	}
	n, err := lw.w.Write(chunk)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	// Report the full slice as consumed so the copier keeps draining the
	// pipe; otherwise a capped command would block on a full pipe.
	return len(p), nil
}

var _ Sandbox = (*ProcessSandbox)(nil)
