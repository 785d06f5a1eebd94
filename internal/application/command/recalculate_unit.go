package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE UNIT COMMAND
// Walks every open cycle of a unit: grants the due degrees (origin
// AUTOMATIC) and reports students eligible for a belt change.
// ══════════════════════════════════════════════════════════════════════════════

// RecalculateUnitCommand triggers a unit sweep.
type RecalculateUnitCommand struct {
	UnitID string `validate:"required"`

	// Actor is recorded as GrantedBy; empty for the scheduler.
	Actor string

	// Force grants even when the unit does not auto-approve degrees.
	Force bool
}

// RecalculateUnitResult summarizes a sweep.
type RecalculateUnitResult struct {
	UnitID    string
	Processed int

	// Granted lists every committed grant, per student in degree order.
	Granted []progression.DegreeGrant

	// Eligible lists students who passed every belt-change gate.
	Eligible []progression.Status

	// Failed maps student id to the error of that student. Other students
	// are not affected.
	Failed map[string]error
}

// RecalculateUnitConfig contains handler configuration.
type RecalculateUnitConfig struct {
	// Concurrency bounds students processed in parallel.
	Concurrency int

	// ConflictAttempts is how many times a student is tried when a
	// concurrent writer wins the version check.
	ConflictAttempts int
}

// DefaultRecalculateUnitConfig returns sensible defaults.
func DefaultRecalculateUnitConfig() RecalculateUnitConfig {
	return RecalculateUnitConfig{
		Concurrency:      8,
		ConflictAttempts: 2,
	}
}

// RecalculateUnitHandler handles RecalculateUnitCommand.
type RecalculateUnitHandler struct {
	deps   Deps
	config RecalculateUnitConfig
}

// NewRecalculateUnitHandler creates a new RecalculateUnitHandler.
func NewRecalculateUnitHandler(deps Deps, config RecalculateUnitConfig) *RecalculateUnitHandler {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.ConflictAttempts <= 0 {
		config.ConflictAttempts = 1
	}
	return &RecalculateUnitHandler{deps: deps.withDefaults(), config: config}
}

// Handle executes the command. Only a failure to read the unit itself is
// returned as an error.
func (h *RecalculateUnitHandler) Handle(ctx context.Context, cmd RecalculateUnitCommand) (*RecalculateUnitResult, error) {
	if err := validateCommand("RecalculateUnit", cmd); err != nil {
		return nil, err
	}

	unit, err := h.deps.Policies.Get(ctx, cmd.UnitID)
	if err != nil {
		return nil, err
	}
	grant := unit.AutoApproveDegrees || cmd.Force

	cycles, err := h.deps.Cycles.ListActiveByUnit(ctx, cmd.UnitID)
	if err != nil {
		return nil, fmt.Errorf("recalculate_unit: list cycles: %w", err)
	}

	result := &RecalculateUnitResult{
		UnitID: cmd.UnitID,
		Failed: make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, c := range cycles {
		studentID := c.StudentID
		g.Go(func() error {
			var (
				grants []progression.DegreeGrant
				status *progression.Status
			)
			r := retry.ConflictRetrier(shared.IsConflict, retry.WithMaxAttempts(h.config.ConflictAttempts))
			err := r.Do(gctx, func(ctx context.Context) error {
				gs, st, err := h.sweepStudent(ctx, studentID, cmd, grant)
				grants = append(grants, gs...)
				status = st
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			result.Granted = append(result.Granted, grants...)
			if err != nil {
				result.Failed[studentID] = err
				return nil
			}
			if status != nil && status.Kind == progression.StatusBeltChangeEligible {
				result.Eligible = append(result.Eligible, *status)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Eligible, func(i, j int) bool { return result.Eligible[i].StudentID < result.Eligible[j].StudentID })

	h.deps.Logger.Info("unit recalculated",
		"unit_id", cmd.UnitID,
		"processed", result.Processed,
		"granted", len(result.Granted),
		"eligible", len(result.Eligible),
		"failed", len(result.Failed),
	)

	for _, st := range result.Eligible {
		next := ""
		if def, err := h.deps.Catalog.Current().Next(st.BeltCode); err == nil {
			next = string(def.Code)
		}
		h.deps.publish(shared.NewBeltChangeEligibleEvent(st.StudentID, st.UnitID, string(st.BeltCode), next, st.EvaluatedAt))
	}

	return result, nil
}

// sweepStudent grants every due degree of one student and evaluates the
// result. Grants committed before an error are returned with it.
func (h *RecalculateUnitHandler) sweepStudent(ctx context.Context, studentID string, cmd RecalculateUnitCommand, grant bool) ([]progression.DegreeGrant, *progression.Status, error) {
	var (
		grants []progression.DegreeGrant
		status progression.Status
	)
	err := h.deps.locked(ctx, studentID, func() error {
		c, err := h.deps.Cycles.ActiveCycle(ctx, studentID)
		if err != nil {
			return err
		}
		if c.UnitID != cmd.UnitID {
			// moved to another unit since the listing
			return nil
		}
		eff, err := h.deps.effective(ctx, c)
		if err != nil {
			return err
		}

		for grant {
			expected := c.Version
			g, err := c.GrantDegree(eff, progression.GrantParams{
				ID:        h.deps.NewID(),
				Origin:    progression.OriginAutomatic,
				GrantedBy: progression.StringPtr(cmd.Actor),
				Note:      "unit recalculation",
				At:        h.deps.Now(),
			})
			if errors.Is(err, shared.ErrDegreeNotDue) || errors.Is(err, shared.ErrDegreeCapExceeded) {
				break
			}
			if err != nil {
				return err
			}
			if err := h.deps.Cycles.CommitGrant(ctx, c, expected, g); err != nil {
				return err
			}
			grants = append(grants, g)
			h.deps.publish(shared.NewDegreeGrantedEvent(c.StudentID, c.ID, string(c.BeltCode), g.DegreeNumber,
				string(g.Origin), cmd.Actor, g.GrantedAt))
		}

		now := h.deps.Now()
		from, to := attendance.Window(now, eff.AttendanceWindowDays)
		rate, err := h.deps.Ledger.Rate(ctx, c.StudentID, c.UnitID, from, to)
		if err != nil {
			return err
		}
		status, err = progression.Evaluate(progression.EvaluationInput{Cycle: c, Policy: eff, Rate: rate, Now: now})
		return err
	})
	if err != nil {
		return grants, nil, err
	}
	if status.CycleID == "" {
		return grants, nil, nil
	}
	return grants, &status, nil
}
