package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one background pass.
type Job interface {
	Run(ctx context.Context) (int, error)
}

// Orchestrator runs the background jobs on their intervals. Either job may
// be nil.
type Orchestrator struct {
	archiver        Job
	calculator      Job
	archiveInterval time.Duration
	settleInterval  time.Duration
	logger          *slog.Logger
}

func NewOrchestrator(
	archiver Job,
	calculator Job,
	archiveInterval time.Duration,
	settleInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		archiver:        archiver,
		calculator:      calculator,
		archiveInterval: archiveInterval,
		settleInterval:  settleInterval,
		logger:          logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every configured job in an errgroup. A job pass that fails is
// logged and retried on the next tick; Run only returns when ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("archive_interval", o.archiveInterval),
		slog.Duration("settle_interval", o.settleInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.calculator != nil {
		g.Go(func() error { return o.loop(ctx, "calculator", o.calculator, o.settleInterval) })
	}
	if o.archiver != nil {
		g.Go(func() error { return o.loop(ctx, "archiver", o.archiver, o.archiveInterval) })
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// RunOnce runs the calculator then the archiver a single time, so freshly
// scored markets are archived in the same pass.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	for _, j := range []struct {
		name string
		job  Job
	}{{"calculator", o.calculator}, {"archiver", o.archiver}} {
		if j.job == nil {
			continue
		}
		if _, err := j.job.Run(ctx); err != nil {
			return fmt.Errorf("pipeline: %s: %w", j.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, name string, job Job, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: %s: interval must be positive", name)
	}
	o.pass(ctx, name, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pipeline job stopped", slog.String("job", name))
			return nil
		case <-ticker.C:
			o.pass(ctx, name, job)
		}
	}
}

func (o *Orchestrator) pass(ctx context.Context, name string, job Job) {
	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("pipeline job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	o.logger.Debug("pipeline job complete",
		slog.String("job", name),
		slog.Int("processed", n),
		slog.Duration("took", time.Since(start)),
	)
}
