// Package jobs contains the scheduled jobs of the graduation engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/teamcruz/graduation-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// UnitLister lists the units that have a graduation policy.
type UnitLister interface {
	ListUnits(ctx context.Context) ([]string, error)
}

// UnitRecalculator runs the recalculation of one unit.
type UnitRecalculator interface {
	Handle(ctx context.Context, cmd command.RecalculateUnitCommand) (*command.RecalculateUnitResult, error)
}

// ProgressionSweepJob recalculates every unit: grants degrees that became due
// through attendance and reports students eligible for a belt change.
// Units are swept one after another; a failing unit does not stop the rest.
type ProgressionSweepJob struct {
	units        UnitLister
	recalculator UnitRecalculator
	logger       *slog.Logger

	lastStats atomic.Pointer[SweepStats]
}

// SweepStats summarizes one run.
type SweepStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Units       int
	Students    int
	Granted     int
	Eligible    int

	// FailedStudents counts per-student failures inside successful units.
	FailedStudents int

	// FailedUnits maps unit id to the error that aborted it.
	FailedUnits map[string]error
}

// NewProgressionSweepJob creates a new sweep job.
func NewProgressionSweepJob(units UnitLister, recalculator UnitRecalculator, logger *slog.Logger) *ProgressionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressionSweepJob{
		units:        units,
		recalculator: recalculator,
		logger:       logger.With("job", "progression_sweep"),
	}
}

// Name implements scheduler.Job.
func (j *ProgressionSweepJob) Name() string { return "progression_sweep" }

// Description implements scheduler.Job.
func (j *ProgressionSweepJob) Description() string {
	return "grants due degrees and reports belt-change candidates in every unit"
}

// Run implements scheduler.Job.
func (j *ProgressionSweepJob) Run(ctx context.Context) error {
	stats := &SweepStats{StartedAt: time.Now(), FailedUnits: make(map[string]error)}
	defer func() {
		stats.CompletedAt = time.Now()
		j.lastStats.Store(stats)
	}()

	units, err := j.units.ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("progression_sweep: list units: %w", err)
	}
	sort.Strings(units)

	var errs []error
	for _, unitID := range units {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := j.recalculator.Handle(ctx, command.RecalculateUnitCommand{UnitID: unitID})
		if err != nil {
			j.logger.Error("unit sweep failed", "unit_id", unitID, "error", err)
			stats.FailedUnits[unitID] = err
			errs = append(errs, fmt.Errorf("unit %s: %w", unitID, err))
			continue
		}

		stats.Units++
		stats.Students += res.Processed
		stats.Granted += len(res.Granted)
		stats.Eligible += len(res.Eligible)
		stats.FailedStudents += len(res.Failed)
	}

	j.logger.Info("sweep finished",
		"units", stats.Units,
		"students", stats.Students,
		"granted", stats.Granted,
		"eligible", stats.Eligible,
		"failed_students", stats.FailedStudents,
		"failed_units", len(stats.FailedUnits),
	)
	return errors.Join(errs...)
}

// LastStats returns the stats of the last finished run, or nil.
func (j *ProgressionSweepJob) LastStats() *SweepStats {
	return j.lastStats.Load()
}
