package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/gateway/httpapi"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/ops/batch"
	"github.com/jkaninda/fundi/internal/ops/code"
	"github.com/jkaninda/fundi/internal/ops/files"
	"github.com/jkaninda/fundi/internal/ops/gitops"
	"github.com/jkaninda/fundi/internal/ops/monitor"
	"github.com/jkaninda/fundi/internal/ops/pkgmgr"
	"github.com/jkaninda/fundi/internal/ops/refactor"
	"github.com/jkaninda/fundi/internal/ops/shell"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
	"github.com/jkaninda/fundi/internal/storage"
	pgstore "github.com/jkaninda/fundi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/fundi/internal/storage/sqlite"
	"github.com/jkaninda/fundi/internal/workspace"
)

// Components holds all initialized subsystems that both server and MCP
// modes require. Built once by initComponents, torn down by Cleanup.
type Components struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // nil = file-only audit trail.

	Obs      *observability.Observability
	Sandbox  sandbox.Sandbox
	Recorder security.Recorder
	Services httpapi.Services

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *Components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *Components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// newLogger builds the structured logger from the logging config: JSON to
// stderr, optionally duplicated into a rotating file.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel() {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if f := cfg.Logging.File; f != nil && f.Path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    f.MaxSize(),
			MaxBackups: f.Backups(),
			MaxAge:     f.MaxAge(),
			Compress:   f.Compress,
		})
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// initComponents performs all common initialization shared between server
// and MCP modes. Callers must call Cleanup() when done.
func initComponents(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	c.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Relational audit store (optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if store != nil {
		c.Store = store
		c.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.Migrate(migrateCtx)
		cancel()
		if err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("migrating %s store: %w", store.Driver(), err)
		}
		logger.Debug("audit store initialized", slog.String("driver", store.Driver()))
	}

	// Audit trail: always the JSONL file, plus the relational store when
	// one is configured.
	recorder, err := initRecorder(cfg, store, obs, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing audit trail: %w", err)
	}
	c.Recorder = recorder
	c.addCleanup(func() {
		if err := recorder.Close(); err != nil {
			logger.Error("closing audit recorder", slog.String("error", err.Error()))
		}
	})

	// Sandbox.
	var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		DefaultShell:   cfg.Exec.DefaultShell(),
		DefaultTimeout: cfg.Exec.Timeout(),
		MaxOutputBytes: int(cfg.Exec.OutputCap()),
	}, logger)
	if obs != nil && obs.Metrics != nil {
		sbx = observability.NewInstrumentedSandbox(sbx, obs.Metrics, obs.TracerOrNil())
	}
	c.Sandbox = sbx

	// Request validation, fault injection, admission control.
	validator := security.NewValidator(security.ValidatorOptions{
		MaxComponentBytes: cfg.Security.ComponentLimit(),
		MaxContentBytes:   cfg.Security.ContentLimit(),
		AllowedFlags:      cfg.Security.AllowedFlags,
	})
	injector := security.NewLabelInjector()
	admission := ratelimit.NewAdmission(cfg.Exec.Concurrency())

	// Operation services.
	shellSvc := shell.NewService(sbx, admission, injector, shell.Options{
		MaxCommandLength: cfg.Security.CommandLimit(),
		Timeout:          cfg.Exec.Timeout(),
		DisableSudo:      cfg.Exec.DisableSudo,
	}, logger)
	filesSvc := files.NewService(validator, injector, logger)
	codeSvc := code.NewService(sbx, ws, validator, injector, admission, code.Options{
		Timeout: cfg.Exec.Timeout(),
	}, logger)

	c.Services = httpapi.Services{
		Shell:    shellSvc,
		Files:    filesSvc,
		Code:     codeSvc,
		Batch:    batch.NewService(shellSvc, filesSvc, codeSvc, logger),
		Refactor: refactor.NewService(injector, logger),
		Git:      gitops.NewService(sbx, gitops.Options{Timeout: cfg.Exec.Timeout()}, logger),
		Package:  pkgmgr.NewService(sbx, pkgmgr.Options{}, logger),
		Monitor:  monitor.NewService(monitor.Options{}, logger),
	}

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("workspace", func(_ context.Context) error {
			_, err := os.Stat(ws.Root)
			return err
		})
		if store != nil {
			obs.Health.AddCheck("database", store.Ping)
		}
	}

	return c, nil
}

// initWorkspace resolves the scratch root from config.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.ResolvedWorkspace())
}

// initStore opens the configured relational audit store, or returns nil
// when no storage block is configured.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case "":
		return nil, nil
	case storage.DriverSQLite:
		var journalMode string
		if cfg.Storage.SQLite != nil {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.SQLitePath(),
			JournalMode: journalMode,
		}, logger)
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriverName())
	}
}

// initRecorder builds the audit trail: the JSONL file sink, fanned out to
// the relational store when one is open. Each sink is instrumented
// individually so the counters can tell them apart.
func initRecorder(cfg *config.Config, store storage.Store, obs *observability.Observability, logger *slog.Logger) (security.Recorder, error) {
	path := cfg.AuditLogPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating audit log directory %s: %w", dir, err)
		}
	}

	var fileRec security.Recorder
	fileRec, err := security.NewAuditLogger(path, logger)
	if err != nil {
		return nil, err
	}
	if obs != nil && obs.Metrics != nil {
		fileRec = observability.NewInstrumentedRecorder(fileRec, "file", obs.Metrics)
	}
	if store == nil {
		return fileRec, nil
	}

	var storeRec security.Recorder = security.NewStoreRecorder(store.Audit(), logger)
	if obs != nil && obs.Metrics != nil {
		storeRec = observability.NewInstrumentedRecorder(storeRec, "store", obs.Metrics)
	}
	return security.NewMultiRecorder(fileRec, storeRec), nil
}
