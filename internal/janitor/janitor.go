// Package janitor implements the scratch sweeper: a cron-scheduled
// background loop that removes abandoned scratch directories left behind
// by crashed or interrupted code runs.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/fundi/internal/workspace"
)

// Options configures the janitor.
type Options struct {
	// Schedule is a five-field cron expression. Default "*/10 * * * *".
	Schedule string
	// MaxAge is how old a scratch entry must be before it is swept.
	// Default 60m.
	MaxAge time.Duration
}

// Janitor sweeps the workspace scratch directory on a cron schedule.
type Janitor struct {
	workspace *workspace.Workspace
	schedule  cron.Schedule
	opts      Options
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates a Janitor. An invalid cron expression is an error; the
// caller decides whether to run without a janitor or fail startup.
func New(ws *workspace.Workspace, opts Options, metrics *Metrics, logger *slog.Logger) (*Janitor, error) {
	if opts.Schedule == "" {
		opts.Schedule = "*/10 * * * *"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, err
	}

	return &Janitor{
		workspace: ws,
		schedule:  schedule,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.InfoContext(ctx, "janitor started",
			slog.String("schedule", j.opts.Schedule),
			slog.String("max_age", j.opts.MaxAge.String()),
		)

		for {
			next := j.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("janitor stopped")
				return
			case <-timer.C:
				j.Sweep(ctx)
			}
		}
	}()

	return cancel
}

// Sweep runs one sweep cycle and reports what it removed.
func (j *Janitor) Sweep(ctx context.Context) {
	start := time.Now()
	removed, err := j.workspace.Sweep(j.opts.MaxAge)
	if err != nil {
		j.logger.ErrorContext(ctx, "janitor sweep failed",
			slog.String("error", err.Error()),
		)
		if j.metrics != nil {
			j.metrics.SweepErrors.Inc()
		}
		return
	}

	if removed > 0 {
		j.logger.InfoContext(ctx, "swept scratch entries",
			slog.Int("removed", removed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	if j.metrics != nil {
		j.metrics.EntriesRemoved.Add(float64(removed))
		j.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}
