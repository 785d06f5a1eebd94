package command

import (
	"context"
	"fmt"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL STUDENT COMMAND
// Opens the very first belt cycle of a student.
// ══════════════════════════════════════════════════════════════════════════════

// EnrollStudentCommand contains the data to open a first cycle.
type EnrollStudentCommand struct {
	StudentID string `validate:"required"`
	UnitID    string `validate:"required"`
	BeltCode  string `validate:"required"`

	// StartedAt backdates the cycle for students migrated from paper records.
	// Zero means now.
	StartedAt time.Time
}

// EnrollStudentResult contains the opened cycle.
type EnrollStudentResult struct {
	Cycle *progression.BeltCycle
}

// EnrollStudentHandler handles EnrollStudentCommand.
type EnrollStudentHandler struct {
	deps Deps
}

// NewEnrollStudentHandler creates a new EnrollStudentHandler.
func NewEnrollStudentHandler(deps Deps) *EnrollStudentHandler {
	return &EnrollStudentHandler{deps: deps.withDefaults()}
}

// Handle opens the cycle. ErrActiveCycleExists if the student already has one.
func (h *EnrollStudentHandler) Handle(ctx context.Context, cmd EnrollStudentCommand) (*EnrollStudentResult, error) {
	if err := validateCommand("EnrollStudent", cmd); err != nil {
		return nil, err
	}

	code := belt.NormalizeCode(cmd.BeltCode)
	def, err := h.deps.Catalog.Current().Get(code)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, shared.ErrBeltInactive
	}

	// an unknown unit is a configuration error, surface it before writing
	if _, err := h.deps.Policies.Get(ctx, cmd.UnitID); err != nil {
		return nil, err
	}

	now := h.deps.Now()
	started := cmd.StartedAt
	if started.IsZero() {
		started = now
	}

	var cycle *progression.BeltCycle
	err = h.deps.locked(ctx, cmd.StudentID, func() error {
		c, err := progression.OpenCycle(progression.OpenCycleParams{
			ID:        h.deps.NewID(),
			StudentID: cmd.StudentID,
			UnitID:    cmd.UnitID,
			BeltCode:  code,
			StartedAt: started,
		})
		if err != nil {
			return err
		}
		if err := h.deps.Cycles.CreateCycle(ctx, c); err != nil {
			return err
		}
		cycle = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enroll_student: %w", err)
	}

	h.deps.Logger.Info("student enrolled", "student_id", cycle.StudentID, "unit_id", cycle.UnitID, "belt", cycle.BeltCode)
	h.deps.publish(shared.NewCycleOpenedEvent(cycle.StudentID, cycle.ID, cycle.UnitID, string(cycle.BeltCode), now))

	return &EnrollStudentResult{Cycle: cycle}, nil
}
