// Package progression - ядро прогрессии по поясам и степеням.
//
// Пакет определяет:
//
//   - BeltCycle - текущий пояс студента со счётчиками посещений и степеней
//   - DegreeGrant, BeltPromotion - неизменяемые строки истории
//   - PromotionRequest - заявка на смену пояса, ожидающая одобрения
//   - Accumulate - расчёт начисления степеней (чистая функция)
//   - Evaluate - статус студента: NO_CHANGE, DEGREE_DUE(n), BELT_CHANGE_ELIGIBLE
//   - Repository, Locker - контракты хранилища и блокировки по студенту
//
// Статус никогда не хранится: он каждый раз вычисляется из счётчиков цикла
// и текущей политики юнита.
package progression

import (
	"strings"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// Origin - происхождение выдачи степени.
type Origin string

const (
	// OriginManual - степень выдал инструктор.
	OriginManual Origin = "MANUAL"

	// OriginAutomatic - степень выдана системой по накопленным посещениям.
	OriginAutomatic Origin = "AUTOMATIC"
)

// IsValid проверяет значение.
func (o Origin) IsValid() bool {
	return o == OriginManual || o == OriginAutomatic
}

// ══════════════════════════════════════════════════════════════════════════════
// BELT CYCLE
// ══════════════════════════════════════════════════════════════════════════════

// BeltCycle - пребывание студента в одном поясе. У студента ровно один
// открытый цикл (EndedAt == nil).
type BeltCycle struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	UnitID    string    `json:"unit_id"`
	BeltCode  belt.Code `json:"belt_code"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	DegreesGranted             int `json:"degrees_granted"`
	AttendancesSinceLastDegree int `json:"attendances_since_last_degree"`
	AttendancesTotal           int `json:"attendances_total"`

	// Version - счётчик оптимистичной блокировки, увеличивается хранилищем.
	Version int64 `json:"version"`
}

// OpenCycleParams - параметры открытия цикла.
type OpenCycleParams struct {
	ID        string
	StudentID string
	UnitID    string
	BeltCode  belt.Code
	StartedAt time.Time
}

// OpenCycle создаёт новый цикл с нулевыми счётчиками.
func OpenCycle(p OpenCycleParams) (*BeltCycle, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.StudentID) == "" {
		return nil, shared.NewDomainError("progression", "OpenCycle", shared.ErrInvalidInput, "cycle id and student id are required")
	}
	if strings.TrimSpace(p.UnitID) == "" {
		return nil, shared.NewDomainError("progression", "OpenCycle", shared.ErrInvalidInput, "unit id is required")
	}
	if !p.BeltCode.IsValid() {
		return nil, shared.ErrInvalidBeltCode
	}
	started := p.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	return &BeltCycle{
		ID:        p.ID,
		StudentID: p.StudentID,
		UnitID:    p.UnitID,
		BeltCode:  p.BeltCode,
		StartedAt: started,
	}, nil
}

// IsOpen возвращает true для текущего цикла.
func (c *BeltCycle) IsOpen() bool {
	return c.EndedAt == nil
}

// Clone возвращает копию цикла.
func (c *BeltCycle) Clone() *BeltCycle {
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// RecordAttendance добавляет посещения к счётчикам. Степени не выдаёт:
// результат лишь сообщает, сколько их стало положено.
func (c *BeltCycle) RecordAttendance(count int, eff policy.Effective) (AccrualResult, error) {
	if !c.IsOpen() {
		return AccrualResult{}, shared.ErrCycleClosed
	}
	if count < 1 {
		return AccrualResult{}, shared.ErrInvalidAttendance
	}

	res, err := Accumulate(AccrualInput{
		DegreesGranted:             c.DegreesGranted,
		AttendancesSinceLastDegree: c.AttendancesSinceLastDegree,
		NewAttendances:             count,
		AttendancesPerDegree:       eff.AttendancesPerDegree,
		MaxDegrees:                 eff.MaxDegrees,
	})
	if err != nil {
		return AccrualResult{}, err
	}

	c.AttendancesSinceLastDegree = res.AttendancesSinceLastDegree
	c.AttendancesTotal += count
	return res, nil
}

// GrantParams - параметры выдачи степени.
type GrantParams struct {
	ID        string
	Origin    Origin
	GrantedBy *string
	Note      string

	// Override разрешает ручную выдачу без накопленных посещений.
	Override bool

	At time.Time
}

// GrantDegree выдаёт следующую степень. Каждая выдача списывает
// AttendancesPerDegree посещений из счётчика, поэтому повторный вызов без
// новых посещений отклоняется с ErrDegreeNotDue.
func (c *BeltCycle) GrantDegree(eff policy.Effective, p GrantParams) (DegreeGrant, error) {
	if !c.IsOpen() {
		return DegreeGrant{}, shared.ErrCycleClosed
	}
	if !p.Origin.IsValid() {
		return DegreeGrant{}, shared.NewDomainError("progression", "GrantDegree", shared.ErrInvalidInput, "origin must be MANUAL or AUTOMATIC")
	}
	if p.Override && p.Origin != OriginManual {
		return DegreeGrant{}, shared.NewDomainError("progression", "GrantDegree", shared.ErrInvalidInput, "only manual grants can override accrual")
	}
	if c.DegreesGranted >= eff.MaxDegrees {
		return DegreeGrant{}, shared.ErrCapExceeded
	}
	if c.AttendancesSinceLastDegree < eff.AttendancesPerDegree && !p.Override {
		return DegreeGrant{}, shared.ErrNothingAccrued
	}

	remainder := c.AttendancesSinceLastDegree - eff.AttendancesPerDegree
	if remainder < 0 {
		remainder = 0
	}

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	c.DegreesGranted++
	c.AttendancesSinceLastDegree = remainder

	return DegreeGrant{
		ID:           p.ID,
		CycleID:      c.ID,
		DegreeNumber: c.DegreesGranted,
		GrantedAt:    at,
		GrantedBy:    p.GrantedBy,
		Origin:       p.Origin,
		Note:         p.Note,
	}, nil
}

// Close закрывает цикл.
func (c *BeltCycle) Close(at time.Time) error {
	if !c.IsOpen() {
		return shared.ErrCycleClosed
	}
	if at.Before(c.StartedAt) {
		at = c.StartedAt
	}
	c.EndedAt = &at
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// DegreeGrant - строка истории выдачи степени. Только добавляется.
type DegreeGrant struct {
	ID           string    `json:"id"`
	CycleID      string    `json:"cycle_id"`
	DegreeNumber int       `json:"degree_number"`
	GrantedAt    time.Time `json:"granted_at"`
	GrantedBy    *string   `json:"granted_by,omitempty"`
	Origin       Origin    `json:"origin"`
	Note         string    `json:"note,omitempty"`
}

// BeltPromotion - строка истории смены пояса. Только добавляется.
type BeltPromotion struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	FromBeltCode belt.Code `json:"from_belt_code"`
	ToBeltCode   belt.Code `json:"to_belt_code"`
	PromotedAt   time.Time `json:"promoted_at"`
	PromotedBy   *string   `json:"promoted_by,omitempty"`
	Note         string    `json:"note,omitempty"`
	Override     bool      `json:"override"`
}

// StringPtr возвращает nil для пустой строки.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref возвращает значение или пустую строку.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
