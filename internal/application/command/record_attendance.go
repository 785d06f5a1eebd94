package command

import (
	"context"
	"fmt"
	"sort"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTENDANCE COMMAND
// Moves the accrual counters of the student's open cycle. Never grants:
// the result only reports how many degrees became due.
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttendanceCommand contains validated attendances of one student.
type RecordAttendanceCommand struct {
	StudentID string `validate:"required"`
	Count     int    `validate:"min=1"`
}

// RecordAttendanceResult contains the accrual outcome.
type RecordAttendanceResult struct {
	CycleID string
	Accrual progression.AccrualResult
}

// RecordAttendanceHandler handles RecordAttendanceCommand.
type RecordAttendanceHandler struct {
	deps Deps
}

// NewRecordAttendanceHandler creates a new RecordAttendanceHandler.
func NewRecordAttendanceHandler(deps Deps) *RecordAttendanceHandler {
	return &RecordAttendanceHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
func (h *RecordAttendanceHandler) Handle(ctx context.Context, cmd RecordAttendanceCommand) (*RecordAttendanceResult, error) {
	if cmd.Count < 1 {
		return nil, shared.ErrInvalidAttendance
	}
	if err := validateCommand("RecordAttendance", cmd); err != nil {
		return nil, err
	}

	var (
		result *RecordAttendanceResult
		cycle  *progression.BeltCycle
	)
	err := h.deps.locked(ctx, cmd.StudentID, func() error {
		c, err := h.deps.Cycles.ActiveCycle(ctx, cmd.StudentID)
		if err != nil {
			return err
		}
		eff, err := h.deps.effective(ctx, c)
		if err != nil {
			return err
		}

		expected := c.Version
		acc, err := c.RecordAttendance(cmd.Count, eff)
		if err != nil {
			return err
		}
		if err := h.deps.Cycles.SaveCycle(ctx, c, expected); err != nil {
			return err
		}

		cycle = c
		result = &RecordAttendanceResult{CycleID: c.ID, Accrual: acc}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_attendance: %w", err)
	}

	h.deps.publish(shared.NewAttendanceRecordedEvent(cycle.StudentID, cycle.ID, string(cycle.BeltCode),
		cmd.Count, cycle.AttendancesSinceLastDegree, h.deps.Now()))

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHECK-INS COMMAND
// Appends raw check-ins to the ledger and accrues only the newly stored ones,
// so a replayed batch never counts twice.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCheckInsCommand contains a batch of check-ins, possibly for many
// students.
type RecordCheckInsCommand struct {
	CheckIns []attendance.CheckIn `validate:"required,min=1"`
}

// RecordCheckInsResult summarizes the batch.
type RecordCheckInsResult struct {
	Appended   int
	Duplicates int

	// Accrued maps student id to the accrual outcome.
	Accrued map[string]progression.AccrualResult

	// Failed maps student id to the accrual error. Their check-ins are
	// stored; RecordAttendance can settle the counters later.
	Failed map[string]error
}

// RecordCheckInsHandler handles RecordCheckInsCommand.
type RecordCheckInsHandler struct {
	deps       Deps
	attendance *RecordAttendanceHandler
}

// NewRecordCheckInsHandler creates a new RecordCheckInsHandler.
func NewRecordCheckInsHandler(deps Deps) *RecordCheckInsHandler {
	deps = deps.withDefaults()
	return &RecordCheckInsHandler{deps: deps, attendance: NewRecordAttendanceHandler(deps)}
}

// Handle executes the command.
func (h *RecordCheckInsHandler) Handle(ctx context.Context, cmd RecordCheckInsCommand) (*RecordCheckInsResult, error) {
	if err := validateCommand("RecordCheckIns", cmd); err != nil {
		return nil, err
	}
	for _, ci := range cmd.CheckIns {
		if err := ci.Validate(); err != nil {
			return nil, err
		}
	}

	appended, err := h.deps.Ledger.Append(ctx, cmd.CheckIns...)
	if err != nil {
		return nil, fmt.Errorf("record_check_ins: append: %w", err)
	}

	perStudent := make(map[string]int)
	for _, ci := range appended {
		perStudent[ci.StudentID]++
	}
	students := make([]string, 0, len(perStudent))
	for id := range perStudent {
		students = append(students, id)
	}
	sort.Strings(students)

	result := &RecordCheckInsResult{
		Appended:   len(appended),
		Duplicates: len(cmd.CheckIns) - len(appended),
		Accrued:    make(map[string]progression.AccrualResult, len(students)),
		Failed:     make(map[string]error),
	}

	for _, id := range students {
		res, err := h.attendance.Handle(ctx, RecordAttendanceCommand{StudentID: id, Count: perStudent[id]})
		if err != nil {
			h.deps.Logger.Warn("check-in accrual failed", "student_id", id, "count", perStudent[id], "error", err)
			result.Failed[id] = err
			continue
		}
		result.Accrued[id] = res.Accrual
	}

	return result, nil
}
