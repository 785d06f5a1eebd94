package command

import (
	"context"
	"fmt"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTE BELT COMMAND
// Closes the current cycle and opens a new one at degree 0 in one atomic
// unit. Accrued attendances of the old belt do not carry over.
// ══════════════════════════════════════════════════════════════════════════════

// PromoteBeltCommand moves a student to another belt.
type PromoteBeltCommand struct {
	StudentID  string `validate:"required"`
	ToBeltCode string `validate:"required"`

	// PromotedBy is required for overrides.
	PromotedBy string `validate:"required_if=Override true"`
	Note       string `validate:"max=500"`

	// Override allows skipping belts or switching category.
	Override bool
}

// PromoteBeltResult contains the committed promotion.
type PromoteBeltResult struct {
	Promotion *progression.Promotion
}

// PromoteBeltHandler handles PromoteBeltCommand.
type PromoteBeltHandler struct {
	deps Deps
}

// NewPromoteBeltHandler creates a new PromoteBeltHandler.
func NewPromoteBeltHandler(deps Deps) *PromoteBeltHandler {
	return &PromoteBeltHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
func (h *PromoteBeltHandler) Handle(ctx context.Context, cmd PromoteBeltCommand) (*PromoteBeltResult, error) {
	if err := validateCommand("PromoteBelt", cmd); err != nil {
		return nil, err
	}

	var plan *progression.Promotion
	err := h.deps.locked(ctx, cmd.StudentID, func() error {
		cur, err := h.deps.Cycles.ActiveCycle(ctx, cmd.StudentID)
		if err != nil {
			return err
		}
		plan, err = h.deps.promote(ctx, cur, belt.NormalizeCode(cmd.ToBeltCode), cmd.PromotedBy, cmd.Note, cmd.Override, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("promote_belt: %w", err)
	}

	h.deps.promoted(plan)
	return &PromoteBeltResult{Promotion: plan}, nil
}

// promote plans and commits a promotion of cur. Callers hold the lock.
// decided, when set, is persisted in the same atomic unit.
func (d Deps) promote(ctx context.Context, cur *progression.BeltCycle, to belt.Code, by, note string, override bool, decided *progression.PromotionRequest) (*progression.Promotion, error) {
	plan, err := progression.PlanPromotion(cur, d.Catalog.Current(), to, progression.PromoteParams{
		NewCycleID:  d.NewID(),
		PromotionID: d.NewID(),
		PromotedBy:  progression.StringPtr(by),
		Note:        note,
		Override:    override,
		At:          d.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := d.Cycles.CommitPromotion(ctx, plan, decided); err != nil {
		return nil, err
	}
	return plan, nil
}

func (d Deps) promoted(plan *progression.Promotion) {
	r := plan.Record
	d.Logger.Info("belt promoted",
		"student_id", r.StudentID,
		"from", r.FromBeltCode,
		"to", r.ToBeltCode,
		"override", r.Override,
		"discarded_attendances", plan.Discarded,
	)
	d.publish(shared.NewBeltPromotedEvent(r.StudentID, string(r.FromBeltCode), string(r.ToBeltCode),
		plan.Opened.ID, progression.Deref(r.PromotedBy), r.Override, r.PromotedAt))
}
