package progression

import (
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ValidateSequence проверяет допустимость перехода from -> to.
//
// Без override цель должна быть следующим активным поясом той же категории.
// С override разрешён пропуск поясов и переход между категориями
// (например, ребёнок переходит во взрослую линейку), но не понижение
// внутри категории.
func ValidateSequence(catalog *belt.Catalog, from, to belt.Code, override bool) error {
	if from == to {
		return shared.ErrAlreadyHoldsBelt
	}
	target, err := catalog.Get(to)
	if err != nil {
		return err
	}
	if !target.Active {
		return shared.ErrBeltInactive
	}
	current, err := catalog.Get(from)
	if err != nil {
		return err
	}

	if !override {
		if !catalog.IsImmediateNext(from, to) {
			return shared.WrapError("progression", "PromoteBelt", shared.ErrInvalidBeltSequence,
				string(from)+" -> "+string(to), shared.ErrSkippedBelt)
		}
		return nil
	}

	if current.Ranks(target) {
		return shared.ErrDowngradeNotAllowed
	}
	return nil
}

// PromoteParams - параметры смены пояса.
type PromoteParams struct {
	NewCycleID  string
	PromotionID string
	PromotedBy  *string
	Note        string
	Override    bool
	At          time.Time
}

// Promotion - план атомарной смены пояса: закрытый старый цикл,
// открытый новый и строка истории. Хранилище применяет всё целиком.
type Promotion struct {
	Closed *BeltCycle
	Opened *BeltCycle
	Record BeltPromotion

	// ExpectedVersion - версия старого цикла, на которой построен план.
	ExpectedVersion int64

	// Discarded - посещения старого цикла, не перенесённые в новый.
	Discarded int
}

// PlanPromotion строит план смены пояса. cur не изменяется.
// Новый цикл начинается с нулевыми счётчиками.
func PlanPromotion(cur *BeltCycle, catalog *belt.Catalog, to belt.Code, p PromoteParams) (*Promotion, error) {
	if cur == nil {
		return nil, shared.ErrNoActiveCycle
	}
	if !cur.IsOpen() {
		return nil, shared.ErrCycleClosed
	}
	if err := ValidateSequence(catalog, cur.BeltCode, to, p.Override); err != nil {
		return nil, err
	}

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	closed := cur.Clone()
	if err := closed.Close(at); err != nil {
		return nil, err
	}

	opened, err := OpenCycle(OpenCycleParams{
		ID:        p.NewCycleID,
		StudentID: cur.StudentID,
		UnitID:    cur.UnitID,
		BeltCode:  to,
		StartedAt: at,
	})
	if err != nil {
		return nil, err
	}

	return &Promotion{
		Closed: closed,
		Opened: opened,
		Record: BeltPromotion{
			ID:           p.PromotionID,
			StudentID:    cur.StudentID,
			FromBeltCode: cur.BeltCode,
			ToBeltCode:   to,
			PromotedAt:   at,
			PromotedBy:   p.PromotedBy,
			Note:         p.Note,
			Override:     p.Override,
		},
		ExpectedVersion: cur.Version,
		Discarded:       cur.AttendancesSinceLastDegree,
	}, nil
}
