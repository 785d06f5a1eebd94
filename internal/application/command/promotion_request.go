package command

import (
	"context"
	"fmt"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PROMOTION COMMAND
// Creates a pending belt change. Units with AutoApprovePromotions apply it
// right away.
// ══════════════════════════════════════════════════════════════════════════════

// RequestPromotionCommand asks for a student's belt change.
type RequestPromotionCommand struct {
	StudentID   string `validate:"required"`
	ToBeltCode  string `validate:"required"`
	RequestedBy string `validate:"required_if=Override true"`
	Note        string `validate:"max=500"`
	Override    bool
}

// RequestPromotionResult contains the request and, when the unit
// auto-approves, the committed promotion.
type RequestPromotionResult struct {
	Request   *progression.PromotionRequest
	Promotion *progression.Promotion
}

// RequestPromotionHandler handles RequestPromotionCommand.
type RequestPromotionHandler struct {
	deps Deps
}

// NewRequestPromotionHandler creates a new RequestPromotionHandler.
func NewRequestPromotionHandler(deps Deps) *RequestPromotionHandler {
	return &RequestPromotionHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
func (h *RequestPromotionHandler) Handle(ctx context.Context, cmd RequestPromotionCommand) (*RequestPromotionResult, error) {
	if err := validateCommand("RequestPromotion", cmd); err != nil {
		return nil, err
	}
	to := belt.NormalizeCode(cmd.ToBeltCode)

	result := &RequestPromotionResult{}
	err := h.deps.locked(ctx, cmd.StudentID, func() error {
		cur, err := h.deps.Cycles.ActiveCycle(ctx, cmd.StudentID)
		if err != nil {
			return err
		}
		if err := progression.ValidateSequence(h.deps.Catalog.Current(), cur.BeltCode, to, cmd.Override); err != nil {
			return err
		}
		unit, err := h.deps.Policies.Get(ctx, cur.UnitID)
		if err != nil {
			return err
		}

		now := h.deps.Now()
		req, err := progression.NewPromotionRequest(progression.NewPromotionRequestParams{
			ID:          h.deps.NewID(),
			Cycle:       cur,
			ToBeltCode:  to,
			RequestedBy: progression.StringPtr(cmd.RequestedBy),
			Note:        cmd.Note,
			Override:    cmd.Override,
			At:          now,
		})
		if err != nil {
			return err
		}
		if err := h.deps.Cycles.CreateRequest(ctx, req); err != nil {
			return err
		}
		result.Request = req

		if !unit.AutoApprovePromotions {
			return nil
		}

		decided := req.Clone()
		if err := decided.Approve(req.RequestedBy, now); err != nil {
			return err
		}
		plan, err := h.deps.promote(ctx, cur, to, cmd.RequestedBy, cmd.Note, cmd.Override, decided)
		if err != nil {
			// the request stays pending for a manual decision
			h.deps.Logger.Warn("auto-approval failed", "request_id", req.ID, "error", err)
			return nil
		}
		result.Request = decided
		result.Promotion = plan
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request_promotion: %w", err)
	}

	r := result.Request
	h.deps.publish(shared.NewPromotionDecisionEvent(shared.EventPromotionRequested, r.StudentID, r.ID,
		string(r.FromBeltCode), string(r.ToBeltCode), progression.Deref(r.RequestedBy), r.RequestedAt))
	if result.Promotion != nil {
		h.deps.publish(shared.NewPromotionDecisionEvent(shared.EventPromotionApproved, r.StudentID, r.ID,
			string(r.FromBeltCode), string(r.ToBeltCode), progression.Deref(r.DecidedBy), *r.DecidedAt))
		h.deps.promoted(result.Promotion)
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPROVE PROMOTION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ApprovePromotionCommand approves a pending request.
type ApprovePromotionCommand struct {
	RequestID  string `validate:"required"`
	ApprovedBy string `validate:"required"`
}

// ApprovePromotionResult contains the decided request and the promotion.
type ApprovePromotionResult struct {
	Request   *progression.PromotionRequest
	Promotion *progression.Promotion
}

// ApprovePromotionHandler handles ApprovePromotionCommand.
type ApprovePromotionHandler struct {
	deps Deps
}

// NewApprovePromotionHandler creates a new ApprovePromotionHandler.
func NewApprovePromotionHandler(deps Deps) *ApprovePromotionHandler {
	return &ApprovePromotionHandler{deps: deps.withDefaults()}
}

// Handle marks the request approved and promotes the student atomically.
// ErrRequestOutdated if the student's belt changed since the request.
func (h *ApprovePromotionHandler) Handle(ctx context.Context, cmd ApprovePromotionCommand) (*ApprovePromotionResult, error) {
	if err := validateCommand("ApprovePromotion", cmd); err != nil {
		return nil, err
	}

	probe, err := h.deps.Cycles.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}

	result := &ApprovePromotionResult{}
	err = h.deps.locked(ctx, probe.StudentID, func() error {
		req, err := h.deps.Cycles.GetRequest(ctx, cmd.RequestID)
		if err != nil {
			return err
		}
		if !req.IsPending() {
			return shared.ErrRequestNotPending
		}
		cur, err := h.deps.Cycles.ActiveCycle(ctx, req.StudentID)
		if err != nil {
			return err
		}
		if cur.BeltCode != req.FromBeltCode {
			return shared.ErrRequestOutdated
		}

		if err := req.Approve(progression.StringPtr(cmd.ApprovedBy), h.deps.Now()); err != nil {
			return err
		}
		plan, err := h.deps.promote(ctx, cur, req.ToBeltCode, cmd.ApprovedBy, req.Note, req.Override, req)
		if err != nil {
			return err
		}
		result.Request = req
		result.Promotion = plan
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approve_promotion: %w", err)
	}

	r := result.Request
	h.deps.publish(shared.NewPromotionDecisionEvent(shared.EventPromotionApproved, r.StudentID, r.ID,
		string(r.FromBeltCode), string(r.ToBeltCode), cmd.ApprovedBy, *r.DecidedAt))
	h.deps.promoted(result.Promotion)

	return result, nil
}

// ApproveManyResult reports a bulk approval.
type ApproveManyResult struct {
	Approved []*ApprovePromotionResult
	Failed   map[string]error
}

// HandleMany approves several requests. One failure does not stop the rest.
func (h *ApprovePromotionHandler) HandleMany(ctx context.Context, requestIDs []string, approvedBy string) *ApproveManyResult {
	res := &ApproveManyResult{Failed: make(map[string]error)}
	for _, id := range requestIDs {
		r, err := h.Handle(ctx, ApprovePromotionCommand{RequestID: id, ApprovedBy: approvedBy})
		if err != nil {
			res.Failed[id] = err
			continue
		}
		res.Approved = append(res.Approved, r)
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL PROMOTION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CancelPromotionCommand cancels a pending request.
type CancelPromotionCommand struct {
	RequestID   string `validate:"required"`
	CancelledBy string
	Reason      string `validate:"max=500"`
}

// CancelPromotionHandler handles CancelPromotionCommand.
type CancelPromotionHandler struct {
	deps Deps
}

// NewCancelPromotionHandler creates a new CancelPromotionHandler.
func NewCancelPromotionHandler(deps Deps) *CancelPromotionHandler {
	return &CancelPromotionHandler{deps: deps.withDefaults()}
}

// Handle executes the command. Only pending requests can be cancelled.
func (h *CancelPromotionHandler) Handle(ctx context.Context, cmd CancelPromotionCommand) (*progression.PromotionRequest, error) {
	if err := validateCommand("CancelPromotion", cmd); err != nil {
		return nil, err
	}

	probe, err := h.deps.Cycles.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}

	var req *progression.PromotionRequest
	err = h.deps.locked(ctx, probe.StudentID, func() error {
		r, err := h.deps.Cycles.GetRequest(ctx, cmd.RequestID)
		if err != nil {
			return err
		}
		if err := r.Cancel(progression.StringPtr(cmd.CancelledBy), h.deps.Now()); err != nil {
			return err
		}
		if cmd.Reason != "" {
			r.Note = cmd.Reason
		}
		if err := h.deps.Cycles.DecideRequest(ctx, r); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel_promotion: %w", err)
	}

	h.deps.publish(shared.NewPromotionDecisionEvent(shared.EventPromotionCancelled, req.StudentID, req.ID,
		string(req.FromBeltCode), string(req.ToBeltCode), cmd.CancelledBy, *req.DecidedAt))
	return req, nil
}
