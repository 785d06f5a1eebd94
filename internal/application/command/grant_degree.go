package command

import (
	"context"
	"fmt"

	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT DEGREE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// GrantDegreeCommand grants the next degree in a cycle.
type GrantDegreeCommand struct {
	CycleID string `validate:"required"`
	Origin  string `validate:"required,oneof=MANUAL AUTOMATIC"`

	// GrantedBy is the instructor. Required when Override is set.
	GrantedBy string `validate:"required_if=Override true"`
	Note      string `validate:"max=500"`

	// Override grants without accrued attendances. Manual only.
	Override bool
}

// GrantDegreeResult contains the appended grant and the updated cycle.
type GrantDegreeResult struct {
	Grant progression.DegreeGrant
	Cycle *progression.BeltCycle
}

// GrantDegreeHandler handles GrantDegreeCommand.
type GrantDegreeHandler struct {
	deps Deps
}

// NewGrantDegreeHandler creates a new GrantDegreeHandler.
func NewGrantDegreeHandler(deps Deps) *GrantDegreeHandler {
	return &GrantDegreeHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
//
// Two concurrent grants on the same cycle are serialized by the student lock
// and, across processes, by the version check; the loser sees
// ErrDegreeNotDue or ErrDegreeCapExceeded on retry, never a duplicate degree.
func (h *GrantDegreeHandler) Handle(ctx context.Context, cmd GrantDegreeCommand) (*GrantDegreeResult, error) {
	if err := validateCommand("GrantDegree", cmd); err != nil {
		return nil, err
	}

	probe, err := h.deps.Cycles.GetCycle(ctx, cmd.CycleID)
	if err != nil {
		return nil, err
	}

	var result *GrantDegreeResult
	err = h.deps.locked(ctx, probe.StudentID, func() error {
		// re-read under the lock
		c, err := h.deps.Cycles.GetCycle(ctx, cmd.CycleID)
		if err != nil {
			return err
		}
		eff, err := h.deps.effective(ctx, c)
		if err != nil {
			return err
		}

		expected := c.Version
		g, err := c.GrantDegree(eff, progression.GrantParams{
			ID:        h.deps.NewID(),
			Origin:    progression.Origin(cmd.Origin),
			GrantedBy: progression.StringPtr(cmd.GrantedBy),
			Note:      cmd.Note,
			Override:  cmd.Override,
			At:        h.deps.Now(),
		})
		if err != nil {
			return err
		}
		if err := h.deps.Cycles.CommitGrant(ctx, c, expected, g); err != nil {
			return err
		}

		result = &GrantDegreeResult{Grant: g, Cycle: c}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grant_degree: %w", err)
	}

	c, g := result.Cycle, result.Grant
	h.deps.Logger.Info("degree granted",
		"student_id", c.StudentID,
		"belt", c.BeltCode,
		"degree", g.DegreeNumber,
		"origin", g.Origin,
		"override", cmd.Override,
	)
	h.deps.publish(shared.NewDegreeGrantedEvent(c.StudentID, c.ID, string(c.BeltCode), g.DegreeNumber,
		string(g.Origin), progression.Deref(g.GrantedBy), g.GrantedAt))

	return result, nil
}
