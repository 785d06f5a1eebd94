// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE QUERY
// Вычисляет статус прогрессии студента по текущей политике юнита.
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator reads a cycle, its policy and attendance rate, and evaluates it.
type Evaluator struct {
	cycles   progression.Repository
	catalog  *belt.Registry
	policies policy.Repository
	ledger   attendance.Ledger
	now      func() time.Time
}

// NewEvaluator creates a new Evaluator. now may be nil.
func NewEvaluator(cycles progression.Repository, catalog *belt.Registry, policies policy.Repository, ledger attendance.Ledger, now func() time.Time) *Evaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{cycles: cycles, catalog: catalog, policies: policies, ledger: ledger, now: now}
}

// Evaluate returns the status of the student's open cycle.
func (e *Evaluator) Evaluate(ctx context.Context, studentID string) (*progression.Status, error) {
	if studentID == "" {
		return nil, shared.NewDomainError("query", "Evaluate", shared.ErrInvalidInput, "student id is required")
	}
	c, err := e.cycles.ActiveCycle(ctx, studentID)
	if err != nil {
		return nil, err
	}
	unit, err := e.policies.Get(ctx, c.UnitID)
	if err != nil {
		return nil, err
	}
	st, err := e.evaluateCycle(ctx, c, unit)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// evaluateCycle evaluates c under unit. unit must be c's unit policy.
func (e *Evaluator) evaluateCycle(ctx context.Context, c *progression.BeltCycle, unit *policy.UnitPolicy) (progression.Status, error) {
	def, err := e.catalog.Current().Get(c.BeltCode)
	if err != nil {
		return progression.Status{}, err
	}
	eff := unit.Resolve(def)

	now := e.now()
	from, to := attendance.Window(now, eff.AttendanceWindowDays)
	rate, err := e.ledger.Rate(ctx, c.StudentID, c.UnitID, from, to)
	if err != nil {
		return progression.Status{}, err
	}

	return progression.Evaluate(progression.EvaluationInput{
		Cycle:  c,
		Policy: eff,
		Rate:   rate,
		Now:    now,
	})
}
