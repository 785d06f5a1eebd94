package progression

import (
	"strings"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// RequestStatus - состояние заявки на смену пояса.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// PromotionRequest - заявка на смену пояса. Создаётся инструктором или
// системой, применяется только после одобрения.
type PromotionRequest struct {
	ID           string        `json:"id"`
	StudentID    string        `json:"student_id"`
	UnitID       string        `json:"unit_id"`
	FromBeltCode belt.Code     `json:"from_belt_code"`
	ToBeltCode   belt.Code     `json:"to_belt_code"`
	RequestedBy  *string       `json:"requested_by,omitempty"`
	RequestedAt  time.Time     `json:"requested_at"`
	Status       RequestStatus `json:"status"`
	DecidedBy    *string       `json:"decided_by,omitempty"`
	DecidedAt    *time.Time    `json:"decided_at,omitempty"`
	Note         string        `json:"note,omitempty"`
	Override     bool          `json:"override"`
}

// NewPromotionRequestParams - параметры новой заявки.
type NewPromotionRequestParams struct {
	ID          string
	Cycle       *BeltCycle
	ToBeltCode  belt.Code
	RequestedBy *string
	Note        string
	Override    bool
	At          time.Time
}

// NewPromotionRequest создаёт заявку в статусе PENDING.
func NewPromotionRequest(p NewPromotionRequestParams) (*PromotionRequest, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("progression", "RequestPromotion", shared.ErrInvalidInput, "request id is required")
	}
	if p.Cycle == nil {
		return nil, shared.ErrNoActiveCycle
	}
	if !p.Cycle.IsOpen() {
		return nil, shared.ErrCycleClosed
	}
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &PromotionRequest{
		ID:           p.ID,
		StudentID:    p.Cycle.StudentID,
		UnitID:       p.Cycle.UnitID,
		FromBeltCode: p.Cycle.BeltCode,
		ToBeltCode:   p.ToBeltCode,
		RequestedBy:  p.RequestedBy,
		RequestedAt:  at,
		Status:       RequestPending,
		Note:         p.Note,
		Override:     p.Override,
	}, nil
}

// IsPending возвращает true, пока по заявке нет решения.
func (r *PromotionRequest) IsPending() bool {
	return r.Status == RequestPending
}

// Approve помечает заявку одобренной.
func (r *PromotionRequest) Approve(by *string, at time.Time) error {
	return r.decide(RequestApproved, by, at)
}

// Cancel отменяет заявку. Отменить можно только ожидающую.
func (r *PromotionRequest) Cancel(by *string, at time.Time) error {
	return r.decide(RequestCancelled, by, at)
}

func (r *PromotionRequest) decide(status RequestStatus, by *string, at time.Time) error {
	if !r.IsPending() {
		return shared.ErrRequestNotPending
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.Status = status
	r.DecidedBy = by
	r.DecidedAt = &at
	return nil
}

// Clone возвращает копию заявки.
func (r *PromotionRequest) Clone() *PromotionRequest {
	cp := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
