package query

import (
	"context"

	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// StudentHistory is the full progression record of a student.
type StudentHistory struct {
	StudentID string
	*progression.History

	// Pending are the undecided promotion requests.
	Pending []*progression.PromotionRequest
}

// History returns cycles, grants, promotions and requests of a student.
func (e *Evaluator) History(ctx context.Context, studentID string) (*StudentHistory, error) {
	if studentID == "" {
		return nil, shared.NewDomainError("query", "History", shared.ErrInvalidInput, "student id is required")
	}
	h, err := e.cycles.History(ctx, studentID)
	if err != nil {
		return nil, err
	}

	out := &StudentHistory{StudentID: studentID, History: h}
	for _, r := range h.Requests {
		if r.IsPending() {
			out.Pending = append(out.Pending, r)
		}
	}
	return out, nil
}
