// Package pipeline runs the scheduled maintenance jobs around the detector.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Pruner deletes archived rows from the primary store.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveResult summarises one archive run.
type ArchiveResult struct {
	Cutoff   time.Time     `json:"cutoff"`
	Archived int64         `json:"archived"`
	Deleted  int64         `json:"deleted"`
	Duration time.Duration `json:"duration"`
}

// Archiver moves opportunity history older than the retention period from
// Postgres to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	pruner        Pruner
	retentionDays int
	deleteAfter   bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. pruner may be nil, in which case rows are
// never deleted regardless of deleteAfter.
func NewArchiver(blobArchiver domain.Archiver, pruner Pruner, retentionDays int, deleteAfter bool, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		retentionDays: retentionDays,
		deleteAfter:   deleteAfter,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Cutoff returns the archive boundary for a run at now.
func (a *Archiver) Cutoff(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive run. Rows are deleted only after both
// archive objects were written.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	start := a.now()
	res := ArchiveResult{Cutoff: a.Cutoff(start)}
	a.logger.Info("starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveOpportunities(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive opportunities before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}
	res.Archived = archived

	if archived > 0 && a.deleteAfter && a.pruner != nil {
		deleted, err := a.pruner.DeleteBefore(ctx, res.Cutoff)
		if err != nil {
			return res, fmt.Errorf("pipeline: prune opportunities before %s: %w", res.Cutoff.Format(time.RFC3339), err)
		}
		res.Deleted = deleted
	}

	res.Duration = a.now().Sub(start)
	a.logger.Info("archive run complete",
		slog.Int64("archived", res.Archived),
		slog.Int64("deleted", res.Deleted),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is
// cancelled. A failed run is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}

		wait := next.Sub(a.now())
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
